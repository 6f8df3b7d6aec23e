package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type NotificationType string

const (
	NotificationLog          NotificationType = "log"
	NotificationAlert        NotificationType = "alert"
	NotificationNotification NotificationType = "notification"
	NotificationScreenshot   NotificationType = "screenshot"
	NotificationChat         NotificationType = "chat"
)

// NotificationTypes lists every routable notification type.
var NotificationTypes = []NotificationType{
	NotificationLog,
	NotificationAlert,
	NotificationNotification,
	NotificationScreenshot,
	NotificationChat,
}

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationLog, NotificationAlert, NotificationNotification, NotificationScreenshot, NotificationChat:
		return true
	}
	return false
}

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
	ContentFile  ContentType = "file"
	ContentJSON  ContentType = "json"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentAudio, ContentVideo, ContentFile, ContentJSON:
		return true
	}
	return false
}

// TimestampLayout matches the millisecond UTC form producers send.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// HeartbeatContent is the body of the keep-alive notification.
const HeartbeatContent = "ping"

var (
	ErrMissingType = errors.New("message has no notificationType")
	ErrUnknownType = errors.New("unknown notificationType")
)

// Envelope is the wire form of a live channel message.
type Envelope struct {
	NotificationType NotificationType `json:"notificationType"`
	ContentType      ContentType      `json:"contentType"`
	Content          string           `json:"content"`
	SourceUserID     string           `json:"sourceUserId,omitempty"`
	Timestamp        string           `json:"timestamp"`
}

// Raw returns the envelope a message was decoded from.
func (e Envelope) Raw() Envelope { return e }

// WithDefaults fills the fields a partial outbound message may omit.
func (e Envelope) WithDefaults(now time.Time) Envelope {
	if e.NotificationType == "" {
		e.NotificationType = NotificationNotification
	}
	if e.ContentType == "" {
		e.ContentType = ContentText
	}
	if e.Timestamp == "" {
		e.Timestamp = FormatTimestamp(now)
	}
	return e
}

// IsHeartbeat reports whether e is a keep-alive ping.
func (e Envelope) IsHeartbeat() bool {
	return e.NotificationType == NotificationNotification &&
		e.ContentType == ContentText &&
		e.Content == HeartbeatContent
}

// Message converts the envelope to its typed variant.
func (e Envelope) Message() (Message, error) {
	switch e.NotificationType {
	case NotificationLog:
		return LogMessage{e}, nil
	case NotificationAlert:
		return AlertMessage{e}, nil
	case NotificationNotification:
		return NotificationMessage{e}, nil
	case NotificationScreenshot:
		return ScreenshotMessage{e}, nil
	case NotificationChat:
		return ChatMessage{e}, nil
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.NotificationType)
	}
}

// Message is one of LogMessage, AlertMessage, NotificationMessage,
// ScreenshotMessage or ChatMessage.
type Message interface {
	Kind() NotificationType
	Raw() Envelope
	isMessage()
}

type LogMessage struct{ Envelope }

type AlertMessage struct{ Envelope }

type NotificationMessage struct{ Envelope }

type ScreenshotMessage struct{ Envelope }

type ChatMessage struct{ Envelope }

func (LogMessage) Kind() NotificationType          { return NotificationLog }
func (AlertMessage) Kind() NotificationType        { return NotificationAlert }
func (NotificationMessage) Kind() NotificationType { return NotificationNotification }
func (ScreenshotMessage) Kind() NotificationType   { return NotificationScreenshot }
func (ChatMessage) Kind() NotificationType         { return NotificationChat }

func (LogMessage) isMessage()          {}
func (AlertMessage) isMessage()        {}
func (NotificationMessage) isMessage() {}
func (ScreenshotMessage) isMessage()   {}
func (ChatMessage) isMessage()         {}

// DataURI renders the frame for direct display.
func (m ScreenshotMessage) DataURI() string {
	return "data:image/jpeg;base64," + m.Content
}

// Image decodes the base64 frame bytes.
func (m ScreenshotMessage) Image() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Content)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return data, nil
}

// Decode parses a text frame into a typed message.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return env.Message()
}

// Heartbeat builds the keep-alive notification.
func Heartbeat(now time.Time) Envelope {
	return Envelope{
		NotificationType: NotificationNotification,
		ContentType:      ContentText,
		Content:          HeartbeatContent,
		Timestamp:        FormatTimestamp(now),
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

const TypeAuth = "auth"

// AuthMessage binds a connection to a user identity.
type AuthMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func NewAuth(userID string) AuthMessage {
	return AuthMessage{Type: TypeAuth, UserID: userID}
}

// Inbound is any frame a client may send to the push endpoint: an auth
// handshake or a channel message.
type Inbound struct {
	Type   string `json:"type,omitempty"`
	UserID string `json:"userId,omitempty"`
	Envelope
}
