package ws

import (
	"io"
	"net/http"
	"time"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/auth"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func ServeWS(hub *Hub, verifier *auth.Verifier, w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	hub.logger.Debug("[WS] New WebSocket connection request", "from", remoteAddr)

	claims, err := verifier.Authorize(r)
	if err != nil {
		hub.logger.Warn("[WS] Token validation failed", "from", remoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("[WS] Failed to upgrade connection", "from", remoteAddr, "error", err)
		return
	}

	client := &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.sendQueue),
		claims: claims,
		logger: hub.logger,
	}

	if claims != nil {
		hub.logger.Info("[WS] Connection upgraded", "client", client.id, "subject", claims.Subject, "from", remoteAddr)
	} else {
		hub.logger.Info("[WS] Connection upgraded", "client", client.id, "from", remoteAddr)
	}

	if !enqueue(hub, hub.register, client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// NotifyHandler lets backend services push a message to every connection
// receiving the path's userId.
func NotifyHandler(hub *Hub, verifier *auth.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r, verifier, auth.PermissionPublish) {
			return
		}

		userID := r.PathValue("userId")
		if userID == "" {
			http.Error(w, "userId required", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := env.Message(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		event := models.Event{
			UserID:    userID,
			Timestamp: time.Now().Unix(),
			Message:   env.WithDefaults(time.Now()),
		}

		if err := hub.Publish(r.Context(), event); err != nil {
			hub.logger.Error("[WS] Failed to publish notification", "user", userID, "error", err)
			http.Error(w, "publish failed", http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

type watchersResponse struct {
	UserID      string   `json:"userId"`
	Connections []string `json:"connections"`
}

// WatchersHandler reports the connections currently receiving a userId.
func WatchersHandler(hub *Hub, verifier *auth.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r, verifier, auth.PermissionMonitor) {
			return
		}

		userID := r.PathValue("userId")
		resp := watchersResponse{UserID: userID, Connections: hub.Watchers(userID)}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			hub.logger.Error("[WS] Failed to encode watchers", "user", userID, "error", err)
		}
	}
}

func authorized(w http.ResponseWriter, r *http.Request, verifier *auth.Verifier, perm string) bool {
	claims, err := verifier.Authorize(r)
	if err != nil {
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return false
	}
	if verifier.Enabled() && !claims.Has(perm) {
		http.Error(w, auth.ErrForbidden.Error(), http.StatusForbidden)
		return false
	}
	return true
}

// NewServeMux wires the push endpoint routes.
func NewServeMux(hub *Hub, verifier *auth.Verifier) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, verifier, w, r)
	})
	mux.HandleFunc("POST /notify/{userId}", NotifyHandler(hub, verifier))
	mux.HandleFunc("GET /watchers/{userId}", WatchersHandler(hub, verifier))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}
