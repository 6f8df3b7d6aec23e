package live

import "github.com/arsteg/effortlesshrmapp-sub000/internal/models"

// Router dispatches each message variant to its own typed handler. Nil
// handlers ignore their variant.
type Router struct {
	Log          func(models.LogMessage)
	Alert        func(models.AlertMessage)
	Notification func(models.NotificationMessage)
	Screenshot   func(models.ScreenshotMessage)
	Chat         func(models.ChatMessage)
}

// Handle routes msg to the handler for its variant.
func (r Router) Handle(msg models.Message) {
	switch m := msg.(type) {
	case models.LogMessage:
		if r.Log != nil {
			r.Log(m)
		}
	case models.AlertMessage:
		if r.Alert != nil {
			r.Alert(m)
		}
	case models.NotificationMessage:
		if r.Notification != nil {
			r.Notification(m)
		}
	case models.ScreenshotMessage:
		if r.Screenshot != nil {
			r.Screenshot(m)
		}
	case models.ChatMessage:
		if r.Chat != nil {
			r.Chat(m)
		}
	}
}

func (r Router) handles(kind models.NotificationType) bool {
	switch kind {
	case models.NotificationLog:
		return r.Log != nil
	case models.NotificationAlert:
		return r.Alert != nil
	case models.NotificationNotification:
		return r.Notification != nil
	case models.NotificationScreenshot:
		return r.Screenshot != nil
	case models.NotificationChat:
		return r.Chat != nil
	}
	return false
}

// Attach subscribes r to every type it has a handler for.
func (r Router) Attach(ch *Channel) (detach func()) {
	var unsubs []func()
	for _, kind := range models.NotificationTypes {
		if r.handles(kind) {
			unsubs = append(unsubs, ch.Subscribe(kind, r.Handle))
		}
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
