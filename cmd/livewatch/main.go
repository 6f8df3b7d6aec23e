package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/config"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/live"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/monitor"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "livewatch:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := config.LoadEnvFile(""); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	defaults := config.LoadClient()

	var (
		url      string
		userID   string
		watch    []string
		token    string
		outDir   string
		strict   bool
		logLevel string
	)

	flagSet := pflag.NewFlagSet("livewatch", pflag.ContinueOnError)
	flagSet.StringVar(&url, "url", defaults.LiveURL, "live channel endpoint")
	flagSet.StringVar(&userID, "user", defaults.UserID, "identity to connect as")
	flagSet.StringSliceVar(&watch, "watch", nil, "additional identities to monitor (repeatable or comma-separated)")
	flagSet.StringVar(&token, "token", defaults.Token, "bearer token for the push endpoint")
	flagSet.StringVar(&outDir, "out", "", "directory to write the latest screenshot per identity")
	flagSet.BoolVar(&strict, "strict", false, "drop untagged screenshots while several identities are watched")
	flagSet.StringVar(&logLevel, "log-level", defaults.LogLevel, "debug, info, warn or error")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(logLevel)}))
	slog.SetDefault(logger)

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ch := live.New(live.Options{
		Endpoint:          url,
		Header:            header,
		Logger:            logger,
		HeartbeatInterval: defaults.Heartbeat,
	})

	view := monitor.New(ch, monitor.Options{StrictAttribution: strict, Logger: logger})
	defer view.Close()

	view.OnFrame(func(f monitor.Frame) {
		if outDir == "" {
			fmt.Printf("[screenshot] %s %s (%d bytes)\n", f.Message.Timestamp, f.UserID, len(f.Message.Content))
			return
		}
		if err := writeFrame(outDir, f); err != nil {
			logger.Error("[LIVEWATCH] Failed to write frame", "user", f.UserID, "error", err)
		}
	})

	detach := live.Router{
		Log: func(m models.LogMessage) {
			printLine("log", m.Envelope)
		},
		Alert: func(m models.AlertMessage) {
			printLine("alert", m.Envelope)
		},
		Notification: func(m models.NotificationMessage) {
			printLine("notification", m.Envelope)
		},
		Chat: func(m models.ChatMessage) {
			printLine("chat", m.Envelope)
		},
	}.Attach(ch)
	defer detach()

	detachState := ch.OnStateChange(func(st live.State) {
		logger.Info("[LIVEWATCH] Channel state", "state", st.String())
	})
	defer detachState()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch.Connect(userID)
	view.Watch(append([]string{userID}, watch...)...)

	<-ctx.Done()
	ch.Disconnect()
	return nil
}

func printLine(kind string, env models.Envelope) {
	source := env.SourceUserID
	if source == "" {
		source = "-"
	}
	fmt.Printf("[%s] %s %s: %s\n", kind, env.Timestamp, source, env.Content)
}

// writeFrame replaces <dir>/<userId>.jpg with the frame's image.
func writeFrame(dir string, f monitor.Frame) error {
	img, err := f.Message.Image()
	if err != nil {
		return err
	}

	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(f.UserID) + ".jpg"
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, img, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
