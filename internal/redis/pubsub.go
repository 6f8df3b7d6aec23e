package redis

import (
	"context"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/ws"
	"github.com/goccy/go-json"
)

// SubscribeToEvents forwards every live:* message into hub until ctx ends.
func SubscribeToEvents(ctx context.Context, client *Client, hub *ws.Hub) error {
	pattern := channelPrefix + "*"
	client.logger.Info("[REDIS] Starting Redis pub/sub subscription", "pattern", pattern)

	pubsub := client.rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		client.logger.Error("[REDIS] Failed to receive subscription confirmation", "error", err)
		return err
	}

	client.logger.Info("[REDIS] Subscription confirmed, listening for messages")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				client.logger.Info("[REDIS] Redis pub/sub channel closed")
				return nil
			}
			forward(ctx, client, hub, msg.Channel, []byte(msg.Payload))
		}
	}
}

func forward(ctx context.Context, client *Client, hub *ws.Hub, channel string, payload []byte) {
	event, err := decodeEvent(channel, payload)
	if err != nil {
		client.logger.Error("[REDIS] Error unmarshaling event", "channel", channel, "error", err)
		return
	}

	if err := hub.Deliver(ctx, event); err != nil {
		client.logger.Error("[REDIS] Failed to hand event to hub", "channel", channel, "error", err)
	}
}

// decodeEvent parses a published event. The channel name is authoritative
// for the target identity.
func decodeEvent(channel string, payload []byte) (models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, err
	}
	if userID, ok := UserFromChannel(channel); ok {
		event.UserID = userID
	}
	return event, nil
}
