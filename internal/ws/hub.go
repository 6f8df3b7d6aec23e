package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/goccy/go-json"
)

// Publisher fans events out to every push endpoint instance.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

var errHubStopped = errors.New("hub stopped")

type watchRequest struct {
	client *Client
	userID string
}

// Hub maintains active WebSocket connections and routes messages to every
// connection authenticated as the target identity.
type Hub struct {
	// Map: userId -> set of clients receiving that identity
	watchers map[string]map[*Client]bool

	clients map[*Client]bool

	// Lock for thread-safe access from HTTP handlers
	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	watch      chan watchRequest
	done       chan struct{}

	// Broadcast messages to clients watching an identity (exported for broker access)
	Broadcast chan *models.BroadcastMessage

	// nil delivers in process
	publisher Publisher

	sendQueue int
	logger    *slog.Logger
}

func NewHub(publisher Publisher, sendQueue int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if sendQueue <= 0 {
		sendQueue = 256
	}
	return &Hub{
		watchers:   make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		watch:      make(chan watchRequest),
		done:       make(chan struct{}),
		Broadcast:  make(chan *models.BroadcastMessage, 256),
		publisher:  publisher,
		sendQueue:  sendQueue,
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("[HUB] Starting hub event loop")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case req := <-h.watch:
			h.watchIdentity(req)

		case message := <-h.Broadcast:
			h.broadcastToWatchers(message)

		case <-ctx.Done():
			close(h.done)
			h.shutdown()
			h.logger.Info("[HUB] Hub stopped")
			return
		}
	}
}

// Publish sends event through the broker, or straight to local watchers
// when the hub has none.
func (h *Hub) Publish(ctx context.Context, event models.Event) error {
	if h.publisher != nil {
		return h.publisher.Publish(ctx, event)
	}
	return h.Deliver(ctx, event)
}

// Deliver hands an event received from the broker to local watchers.
func (h *Hub) Deliver(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event.Message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	msg := &models.BroadcastMessage{
		UserID:   event.UserID,
		OriginID: event.OriginID,
		Payload:  payload,
	}

	select {
	case <-h.done:
		return errHubStopped
	default:
	}

	select {
	case h.Broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errHubStopped
	}
}

// enqueue hands a request to the event loop unless it has stopped.
func enqueue[T any](h *Hub, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.logger.Info("[HUB] Client registered", "client", client.id, "clients", len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client)
}

func (h *Hub) watchIdentity(req watchRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[req.client] {
		return
	}

	if h.watchers[req.userID] == nil {
		h.watchers[req.userID] = make(map[*Client]bool)
	}
	h.watchers[req.userID][req.client] = true

	h.logger.Info("[HUB] Client watching user", "client", req.client.id, "user", req.userID, "watchers", len(h.watchers[req.userID]))
}

func (h *Hub) broadcastToWatchers(message *models.BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.watchers[message.UserID]
	if !ok {
		h.logger.Debug("[HUB] No watchers for user", "user", message.UserID)
		return
	}

	sentCount := 0
	failedCount := 0

	for client := range clients {
		if client.id == message.OriginID {
			continue
		}
		select {
		case client.send <- message.Payload:
			sentCount++
		default:
			// Client buffer full, disconnect
			h.logger.Warn("[HUB] Client buffer full, disconnecting", "client", client.id, "user", message.UserID)
			h.removeLocked(client)
			failedCount++
		}
	}

	h.logger.Debug("[HUB] Broadcast complete", "user", message.UserID, "sent", sentCount, "failed", failedCount)
}

// removeLocked drops client from every watch set and closes its queue.
func (h *Hub) removeLocked(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for userID, clients := range h.watchers {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.watchers, userID)
		}
	}

	h.logger.Info("[HUB] Client unregistered", "client", client.id, "clients", len(h.clients))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.removeLocked(client)
	}
}

// Watchers returns the IDs of connections receiving userID's messages.
func (h *Hub) Watchers(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := []string{}
	for client := range h.watchers[userID] {
		ids = append(ids, client.id)
	}
	sort.Strings(ids)
	return ids
}
