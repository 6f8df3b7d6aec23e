package monitor

import (
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/live"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mu        sync.Mutex
	connected bool
	auths     []string
	subs      map[models.NotificationType][]func(models.Message)
	states    []func(live.State)
}

func newMockSource(connected bool) *mockSource {
	return &mockSource{
		connected: connected,
		subs:      make(map[models.NotificationType][]func(models.Message)),
	}
}

func (m *mockSource) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockSource) Authenticate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auths = append(m.auths, userID)
}

func (m *mockSource) Subscribe(kind models.NotificationType, fn func(models.Message)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[kind] = append(m.subs[kind], fn)
	idx := len(m.subs[kind]) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs[kind][idx] = nil
	}
}

func (m *mockSource) OnStateChange(fn func(live.State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, fn)
	idx := len(m.states) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.states[idx] = nil
	}
}

func (m *mockSource) deliver(env models.Envelope) {
	msg, err := env.Message()
	if err != nil {
		return
	}
	m.mu.Lock()
	fns := slices.Clone(m.subs[msg.Kind()])
	m.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(msg)
		}
	}
}

func (m *mockSource) setState(st live.State) {
	m.mu.Lock()
	m.connected = st == live.Open
	fns := slices.Clone(m.states)
	m.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(st)
		}
	}
}

func (m *mockSource) authCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.auths...)
}

func screenshot(source, content string) models.Envelope {
	return models.Envelope{
		NotificationType: models.NotificationScreenshot,
		ContentType:      models.ContentImage,
		Content:          content,
		SourceUserID:     source,
	}
}

func newTestView(src Source, strict bool) *View {
	fixed := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return New(src, Options{
		StrictAttribution: strict,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:               func() time.Time { return fixed },
	})
}

func TestWatchAuthenticatesWhenConnected(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, false)

	v.Watch("u1", "u2", "u1", "")

	assert.Equal(t, []string{"u1", "u2"}, src.authCalls())
	assert.Equal(t, []string{"u1", "u2"}, v.Watched())
}

func TestWatchWhileDownAnnouncesOnOpen(t *testing.T) {
	src := newMockSource(false)
	v := newTestView(src, false)

	v.Watch("u1", "u2")
	assert.Empty(t, src.authCalls())

	src.setState(live.Connecting)
	assert.Empty(t, src.authCalls())

	src.setState(live.Open)
	assert.Equal(t, []string{"u1", "u2"}, src.authCalls())

	src.setState(live.Connecting)
	src.setState(live.Open)
	assert.Equal(t, []string{"u1", "u2", "u1", "u2"}, src.authCalls())
}

func TestTaggedFramesAreAttributed(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, false)
	v.Watch("u1", "u2")

	src.deliver(screenshot("u2", "AAAA"))
	src.deliver(screenshot("u1", "BBBB"))
	src.deliver(screenshot("u2", "CCCC"))

	f, ok := v.Latest("u2")
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,CCCC", f.DataURI)
	assert.Equal(t, "u2", f.UserID)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), f.ReceivedAt)

	f, ok = v.Latest("u1")
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,BBBB", f.DataURI)
}

func TestFramesForUnwatchedUsersAreDropped(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, false)
	v.Watch("u1")

	src.deliver(screenshot("u9", "AAAA"))

	_, ok := v.Latest("u9")
	assert.False(t, ok)
	_, ok = v.Latest("u1")
	assert.False(t, ok)
}

func TestUntaggedFrameSingleWatch(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, true)
	v.Watch("u1")

	src.deliver(screenshot("", "AAAA"))

	f, ok := v.Latest("u1")
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", f.DataURI)
}

func TestUntaggedFrameFallsBackToFirstWatched(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, false)
	v.Watch("u1", "u2")

	src.deliver(screenshot("", "AAAA"))

	f, ok := v.Latest("u1")
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", f.DataURI)
	_, ok = v.Latest("u2")
	assert.False(t, ok)
}

func TestStrictAttributionDropsUntaggedFrames(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, true)
	v.Watch("u1", "u2")

	src.deliver(screenshot("", "AAAA"))

	_, ok := v.Latest("u1")
	assert.False(t, ok)
	_, ok = v.Latest("u2")
	assert.False(t, ok)
}

func TestOnFrameAndUnwatch(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, false)
	v.Watch("u1", "u2")

	var got []string
	v.OnFrame(func(f Frame) { got = append(got, f.UserID) })

	src.deliver(screenshot("u1", "AAAA"))
	v.Unwatch("u1")
	src.deliver(screenshot("u1", "BBBB"))
	src.deliver(screenshot("u2", "CCCC"))

	assert.Equal(t, []string{"u1", "u2"}, got)
	assert.Equal(t, []string{"u2"}, v.Watched())
	_, ok := v.Latest("u1")
	assert.False(t, ok)
}

func TestOnFrameCallbacksSnapshot(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, false)
	v.Watch("u1")

	var first, late int
	v.OnFrame(func(Frame) {
		first++
		if first == 1 {
			// Registering during delivery must not deadlock or fire this frame.
			v.OnFrame(func(Frame) { late++ })
		}
	})

	src.deliver(screenshot("u1", "AAAA"))
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, late)

	src.deliver(screenshot("u1", "BBBB"))
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, late)

	f, ok := v.Latest("u1")
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,BBBB", f.DataURI)
}

func TestCloseDetaches(t *testing.T) {
	src := newMockSource(true)
	v := newTestView(src, false)
	v.Watch("u1")
	v.Close()

	src.deliver(screenshot("u1", "AAAA"))
	src.setState(live.Open)

	_, ok := v.Latest("u1")
	assert.False(t, ok)
	assert.Equal(t, []string{"u1"}, src.authCalls())
}
