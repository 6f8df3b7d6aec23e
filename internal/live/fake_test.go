package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeConn struct {
	id      int
	dialer  *fakeDialer
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.dialer.record(fmt.Sprintf("close:%d", c.id))
		close(c.closed)
	})
	return nil
}

// push simulates a frame arriving from the server.
func (c *fakeConn) push(raw string) {
	c.inbound <- []byte(raw)
}

// frames decodes every frame written so far.
func (c *fakeConn) frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.writes))
	for _, w := range c.writes {
		var m map[string]any
		if err := json.Unmarshal(w, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) authFrames() []string {
	var ids []string
	for _, f := range c.frames() {
		if f["type"] == "auth" {
			ids = append(ids, f["userId"].(string))
		}
	}
	return ids
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	events   []string
	failures int
	failAll  bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failAll || d.failures > 0 {
		if d.failures > 0 {
			d.failures--
		}
		d.events = append(d.events, "dial-failed")
		return nil, errors.New("connection refused")
	}

	conn := &fakeConn{
		id:      len(d.conns) + 1,
		dialer:  d,
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
	d.conns = append(d.conns, conn)
	d.events = append(d.events, fmt.Sprintf("dial:%d", conn.id))
	return conn, nil
}

func (d *fakeDialer) record(event string) {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if strings.HasPrefix(e, "dial") {
			n++
		}
	}
	return n
}

func (d *fakeDialer) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func newTestChannel(d *fakeDialer, opts Options) *Channel {
	opts.Dialer = d
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Endpoint == "" {
		opts.Endpoint = "ws://live.test/ws"
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = 5 * time.Millisecond
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 20 * time.Millisecond
	}
	return New(opts)
}
