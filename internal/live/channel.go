package live

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the production push endpoint.
const DefaultEndpoint = "wss://live.effortlesshrm.com/ws"

const (
	// Time allowed to write a frame
	writeWait = 10 * time.Second

	// Max inbound frame size; screenshot frames are the largest
	maxMessageSize = 4 * 1024 * 1024

	defaultHeartbeat   = 10 * time.Second
	defaultMaxAttempts = 100
)

// Options configures a Channel. Zero values select the defaults.
type Options struct {
	Endpoint          string
	Header            http.Header
	Dialer            Dialer
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// Channel keeps one live connection to the push endpoint, authenticates it
// against a user identity and fans incoming messages out to subscribers.
//
// Nothing on Channel returns an error or panics into the caller: transport
// failures drive reconnection, malformed frames are dropped, and sends on a
// closed socket are discarded. Health is visible through State and
// OnStateChange.
type Channel struct {
	endpoint    string
	header      http.Header
	dialer      Dialer
	logger      *slog.Logger
	heartbeat   time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu       sync.Mutex
	state    State
	userID   string // remembered identity, empty after Disconnect
	attempts int
	sess     *session
	pending  []State
	flushing bool

	subMu     sync.RWMutex
	nextSubID uint64
	subs      map[models.NotificationType]map[uint64]func(models.Message)
	stateSubs map[uint64]func(State)
}

// session is one socket lifetime: dial, open, close, and the retry timer
// that follows it.
type session struct {
	conn    Conn
	cancel  context.CancelFunc
	retry   *time.Timer
	stop    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

func (s *session) shutdown() {
	if s.retry != nil {
		s.retry.Stop()
	}
	s.once.Do(func() {
		s.cancel()
		close(s.stop)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func New(opts Options) *Channel {
	c := &Channel{
		endpoint:    opts.Endpoint,
		header:      opts.Header,
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		heartbeat:   opts.HeartbeatInterval,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		subs:        make(map[models.NotificationType]map[uint64]func(models.Message)),
		stateSubs:   make(map[uint64]func(State)),
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.dialer == nil {
		c.dialer = NewDialer(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.heartbeat <= 0 {
		c.heartbeat = defaultHeartbeat
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	return c
}

// Connect opens the channel for userID. Connecting again with the identity
// already in use is a no-op; a different identity closes the current socket
// before a new one is dialed.
func (c *Channel) Connect(userID string) {
	if userID == "" {
		c.logger.Warn("[LIVE] Connect called without a user id")
		return
	}

	c.mu.Lock()
	if c.userID == userID && c.state != Disconnected {
		c.mu.Unlock()
		c.logger.Debug("[LIVE] Already connected", "user", userID, "state", c.State())
		return
	}
	if c.sess != nil {
		c.logger.Info("[LIVE] Switching identity", "from", c.userID, "to", userID)
		c.sess.shutdown()
		c.sess = nil
	}
	c.userID = userID
	c.dialLocked()
	c.mu.Unlock()

	c.flushStates()
}

// Authenticate sends the auth handshake for userID on the open socket. When
// the socket is not open the identity is remembered and sent on the next
// successful open.
func (c *Channel) Authenticate(userID string) {
	if userID == "" {
		return
	}

	c.mu.Lock()
	s := c.openSessionLocked()
	if s == nil {
		c.userID = userID
	}
	c.mu.Unlock()

	if s == nil {
		c.logger.Debug("[LIVE] Auth deferred until open", "user", userID)
		return
	}
	c.write(s, models.NewAuth(userID))
}

// Subscribe registers fn for every future message of the given type. The
// returned func removes exactly this registration.
func (c *Channel) Subscribe(kind models.NotificationType, fn func(models.Message)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	set, ok := c.subs[kind]
	if !ok {
		set = make(map[uint64]func(models.Message))
		c.subs[kind] = set
	}
	set[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if set, ok := c.subs[kind]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.subs, kind)
			}
		}
	}
}

// OnStateChange registers fn for every state transition.
func (c *Channel) OnStateChange(fn func(State)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.stateSubs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.stateSubs, id)
		c.subMu.Unlock()
	}
}

// SendMessage writes env if the socket is open and drops it otherwise.
// Missing type, content type and timestamp are filled in.
func (c *Channel) SendMessage(env models.Envelope) {
	c.mu.Lock()
	s := c.openSessionLocked()
	c.mu.Unlock()

	if s == nil {
		c.logger.Debug("[LIVE] Dropping message, channel not open", "type", env.NotificationType)
		return
	}
	c.write(s, env.WithDefaults(time.Now()))
}

// Disconnect forgets the identity, stops the heartbeat and any pending
// reconnect, and closes the socket.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.userID = ""
	if c.sess != nil {
		c.sess.shutdown()
		c.sess = nil
	}
	changed := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if changed {
		c.logger.Info("[LIVE] Disconnected")
	}
	c.flushStates()
}

func (c *Channel) IsConnected() bool {
	return c.State() == Open
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// dialLocked starts a new session. c.mu must be held.
func (c *Channel) dialLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{cancel: cancel, stop: make(chan struct{})}
	c.sess = s
	c.setStateLocked(Connecting)
	go c.run(ctx, s)
}

func (c *Channel) run(ctx context.Context, s *session) {
	conn, err := c.dialer.Dial(ctx, c.endpoint, c.header)
	if err != nil {
		c.logger.Debug("[LIVE] Dial failed", "endpoint", c.endpoint, "error", err)
		c.closed(s)
		return
	}

	// Hold the write lock across the transition so the handshake is the
	// first frame on the socket.
	s.writeMu.Lock()
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		s.writeMu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	c.attempts = 0
	userID := c.userID
	c.setStateLocked(Open)
	c.mu.Unlock()

	c.writeLocked(s, models.NewAuth(userID))
	s.writeMu.Unlock()

	c.logger.Info("[LIVE] Connected", "endpoint", c.endpoint, "user", userID)
	go c.heartbeatLoop(s)
	c.flushStates()

	c.readLoop(s, conn)
	c.closed(s)
}

func (c *Channel) readLoop(s *session, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn("[LIVE] Unexpected close", "error", err)
				} else {
					c.logger.Debug("[LIVE] Connection closed", "error", err)
				}
			}
			return
		}
		c.deliver(data)
	}
}

func (c *Channel) heartbeatLoop(s *session) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			live := c.openSessionLocked() == s
			c.mu.Unlock()
			if !live {
				return
			}
			c.write(s, models.Heartbeat(now))
		}
	}
}

// closed handles the end of a session that was not torn down on purpose.
func (c *Channel) closed(s *session) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	s.shutdown()

	if c.userID == "" || c.attempts >= c.maxAttempts {
		c.sess = nil
		attempts := c.attempts
		c.setStateLocked(Disconnected)
		c.mu.Unlock()
		c.logger.Warn("[LIVE] Giving up reconnecting", "attempts", attempts)
		c.flushStates()
		return
	}

	delay := backoff(c.attempts, c.baseDelay, c.maxDelay)
	c.attempts++
	attempt := c.attempts
	s.retry = time.AfterFunc(delay, func() { c.reconnect(s) })
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	c.logger.Info("[LIVE] Reconnecting", "attempt", attempt, "delay", delay)
	c.flushStates()
}

func (c *Channel) reconnect(prev *session) {
	c.mu.Lock()
	if c.sess != prev || c.userID == "" {
		c.mu.Unlock()
		return
	}
	c.dialLocked()
	c.mu.Unlock()
}

// openSessionLocked returns the current session if its socket is open.
func (c *Channel) openSessionLocked() *session {
	if c.state != Open || c.sess == nil || c.sess.conn == nil {
		return nil
	}
	return c.sess
}

func (c *Channel) write(s *session, v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	c.writeLocked(s, v)
}

// writeLocked sends one text frame. s.writeMu must be held.
func (c *Channel) writeLocked(s *session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("[LIVE] Failed to marshal frame", "error", err)
		return
	}

	select {
	case <-s.stop:
		return
	default:
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("[LIVE] Write failed", "error", err)
	}
}

func (c *Channel) deliver(data []byte) {
	msg, err := models.Decode(data)
	if err != nil {
		c.logger.Debug("[LIVE] Dropping malformed frame", "error", err, "size", len(data))
		return
	}

	c.subMu.RLock()
	set := c.subs[msg.Kind()]
	fns := make([]func(models.Message), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// setStateLocked records a transition for flushStates and reports whether
// the state changed. c.mu must be held.
func (c *Channel) setStateLocked(st State) bool {
	if c.state == st {
		return false
	}
	c.state = st
	c.pending = append(c.pending, st)
	return true
}

// flushStates delivers recorded transitions in the order they happened.
// Only one goroutine flushes at a time; a listener that changes the state
// has its transition picked up by the loop already running.
func (c *Channel) flushStates() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.pending) > 0 {
		st := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.emitState(st)
		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}

func (c *Channel) emitState(st State) {
	c.subMu.RLock()
	fns := make([]func(State), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(st)
	}
}
