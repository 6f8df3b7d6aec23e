package monitor

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/live"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
)

// Source is the part of *live.Channel the view needs.
type Source interface {
	IsConnected() bool
	Authenticate(userID string)
	Subscribe(kind models.NotificationType, fn func(models.Message)) func()
	OnStateChange(fn func(live.State)) func()
}

type Options struct {
	// StrictAttribution drops untagged frames while more than one identity
	// is watched instead of crediting them to the first one.
	StrictAttribution bool
	Logger            *slog.Logger
	Now               func() time.Time
}

// Frame is the most recent screenshot seen for one identity.
type Frame struct {
	UserID     string
	DataURI    string
	Message    models.ScreenshotMessage
	ReceivedAt time.Time
}

// View is the multi-user live monitoring screen: it watches identities over
// a single channel and keeps the latest frame for each.
type View struct {
	src    Source
	strict bool
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	watched []string
	latest  map[string]Frame
	onFrame []func(Frame)

	unsubs []func()
}

func New(src Source, opts Options) *View {
	v := &View{
		src:    src,
		strict: opts.StrictAttribution,
		logger: opts.Logger,
		now:    opts.Now,
		latest: make(map[string]Frame),
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	if v.now == nil {
		v.now = time.Now
	}

	v.unsubs = append(v.unsubs,
		src.Subscribe(models.NotificationScreenshot, v.handle),
		src.OnStateChange(v.stateChanged),
	)
	return v
}

// Watch starts receiving frames for each identity not already watched.
func (v *View) Watch(userIDs ...string) {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		v.mu.Lock()
		if v.isWatchedLocked(id) {
			v.mu.Unlock()
			continue
		}
		v.watched = append(v.watched, id)
		v.mu.Unlock()

		// While the channel is down the identities are announced on the
		// next open; deferring through Authenticate would replace the
		// channel's own identity.
		if v.src.IsConnected() {
			v.src.Authenticate(id)
		}
	}
}

// Unwatch stops attributing frames to userID and forgets its last frame.
// The server keeps routing that identity to this connection until the
// channel reconnects.
func (v *View) Unwatch(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, id := range v.watched {
		if id == userID {
			v.watched = append(v.watched[:i:i], v.watched[i+1:]...)
			break
		}
	}
	delete(v.latest, userID)
}

func (v *View) Watched() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.watched...)
}

// Latest returns the last frame attributed to userID.
func (v *View) Latest(userID string) (Frame, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	f, ok := v.latest[userID]
	return f, ok
}

// OnFrame registers fn for every attributed frame.
func (v *View) OnFrame(fn func(Frame)) {
	v.mu.Lock()
	v.onFrame = append(v.onFrame, fn)
	v.mu.Unlock()
}

// Close detaches the view from its channel.
func (v *View) Close() {
	for _, unsub := range v.unsubs {
		unsub()
	}
	v.unsubs = nil
}

func (v *View) handle(msg models.Message) {
	shot, ok := msg.(models.ScreenshotMessage)
	if !ok {
		return
	}

	v.mu.Lock()
	userID, ok := v.attributeLocked(shot)
	if !ok {
		v.mu.Unlock()
		return
	}
	frame := Frame{
		UserID:     userID,
		DataURI:    shot.DataURI(),
		Message:    shot,
		ReceivedAt: v.now(),
	}
	v.latest[userID] = frame
	callbacks := slices.Clone(v.onFrame)
	v.mu.Unlock()

	for _, fn := range callbacks {
		fn(frame)
	}
}

// attributeLocked decides which watched identity a frame belongs to.
func (v *View) attributeLocked(shot models.ScreenshotMessage) (string, bool) {
	if shot.SourceUserID != "" {
		if !v.isWatchedLocked(shot.SourceUserID) {
			v.logger.Debug("[MONITOR] Frame for unwatched user", "user", shot.SourceUserID)
			return "", false
		}
		return shot.SourceUserID, true
	}

	switch {
	case len(v.watched) == 0:
		return "", false
	case len(v.watched) == 1:
		return v.watched[0], true
	case v.strict:
		v.logger.Warn("[MONITOR] Dropping untagged frame", "watched", len(v.watched))
		return "", false
	default:
		v.logger.Warn("[MONITOR] Untagged frame credited to first watched user", "user", v.watched[0], "watched", len(v.watched))
		return v.watched[0], true
	}
}

// stateChanged re-announces every watched identity after a reconnect; the
// channel itself only replays the last one.
func (v *View) stateChanged(st live.State) {
	if st != live.Open {
		return
	}
	for _, id := range v.Watched() {
		v.src.Authenticate(id)
	}
}

func (v *View) isWatchedLocked(userID string) bool {
	for _, id := range v.watched {
		if id == userID {
			return true
		}
	}
	return false
}
