package natsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/ws"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "live."

var ErrInvalidUserID = errors.New("user id is not a valid subject token")

// SubjectFor returns the subject carrying userID's messages.
func SubjectFor(userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ".*> \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return subjectPrefix + userID, nil
}

// parseUserFromSubject extracts userID from "live.<userID>".
func parseUserFromSubject(subject string) (string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 2 || parts[0] != "live" || parts[1] == "" {
		return "", fmt.Errorf("expected live.<userId>, got %q", subject)
	}
	return parts[1], nil
}

// Bridge publishes events over NATS and pushes received ones into a Hub.
type Bridge struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewBridge(natsURL string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(natsURL, nats.Name("live-push"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("[NATS] Connected", "url", nc.ConnectedUrl())
	return &Bridge{conn: nc, logger: logger}, nil
}

func (b *Bridge) Publish(_ context.Context, event models.Event) error {
	subject, err := SubjectFor(event.UserID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.conn.Publish(subject, payload); err != nil {
		b.logger.Error("[NATS] Failed to publish event", "subject", subject, "error", err)
		return fmt.Errorf("nats publish %q: %w", subject, err)
	}
	return nil
}

// Subscribe listens on live.* and forwards every event into the hub.
func (b *Bridge) Subscribe(ctx context.Context, hub *ws.Hub) error {
	subject := subjectPrefix + "*"
	_, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		event, err := decodeEvent(msg.Subject, msg.Data)
		if err != nil {
			b.logger.Warn("[NATS] Dropping message", "subject", msg.Subject, "error", err)
			return
		}
		if err := hub.Deliver(ctx, event); err != nil {
			b.logger.Error("[NATS] Failed to hand event to hub", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %q: %w", subject, err)
	}

	b.logger.Info("[NATS] Bridge subscribed", "subject", subject)
	return nil
}

// Close drains the NATS connection.
func (b *Bridge) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Error("[NATS] Drain failed", "error", err)
	}
}

func decodeEvent(subject string, data []byte) (models.Event, error) {
	userID, err := parseUserFromSubject(subject)
	if err != nil {
		return models.Event{}, err
	}

	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return models.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	event.UserID = userID
	return event, nil
}
