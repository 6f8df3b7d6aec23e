package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const channelPrefix = "live:"

// ChannelFor returns the pub/sub channel carrying userID's messages.
func ChannelFor(userID string) string {
	return channelPrefix + userID
}

// UserFromChannel is the inverse of ChannelFor.
func UserFromChannel(channel string) (string, bool) {
	userID, ok := strings.CutPrefix(channel, channelPrefix)
	return userID, ok && userID != ""
}

type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewClient(ctx context.Context, redisURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("[REDIS] Connected to Redis", "addr", opt.Addr)

	return &Client{rdb: rdb, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Publish sends event to every instance subscribed to the user's channel.
func (c *Client) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("[REDIS] Failed to marshal event", "user", event.UserID, "error", err)
		return err
	}

	channel := ChannelFor(event.UserID)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Error("[REDIS] Failed to publish event", "channel", channel, "error", err)
		return err
	}

	return nil
}
