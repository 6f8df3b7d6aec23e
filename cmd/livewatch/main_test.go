package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(userID, content string) monitor.Frame {
	shot := models.ScreenshotMessage{Envelope: models.Envelope{
		NotificationType: models.NotificationScreenshot,
		ContentType:      models.ContentImage,
		Content:          content,
	}}
	return monitor.Frame{UserID: userID, DataURI: shot.DataURI(), Message: shot}
}

func TestWriteFrameReplacesLatest(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, writeFrame(dir, frame("u1", "Zmlyc3Q=")))
	require.NoError(t, writeFrame(dir, frame("u1", "c2Vjb25k")))

	data, err := os.ReadFile(filepath.Join(dir, "u1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	_, err = os.Stat(filepath.Join(dir, "u1.jpg.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFrameStaysInDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFrame(dir, frame("../escape", "eA==")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "__escape.jpg", entries[0].Name())
}

func TestWriteFrameRejectsBadImage(t *testing.T) {
	assert.Error(t, writeFrame(t.TempDir(), frame("u1", "not base64!")))
}

func TestRunRequiresUser(t *testing.T) {
	t.Setenv("LIVE_USER_ID", "")
	err := run([]string{"--url", "ws://127.0.0.1:1/ws"})
	assert.ErrorContains(t, err, "--user")
}
