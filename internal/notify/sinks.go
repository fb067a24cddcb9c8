package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"p2p-queue/internal/domain"
)

// Publisher is the subset of *redis.Client the Redis sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

var _ Publisher = (*redis.Client)(nil)

// RedisNotifier publishes events as JSON on a pub/sub channel. The Telegram
// bot subscribes to that channel and owns delivery from there.
type RedisNotifier struct {
	client  Publisher
	channel string
	logger  *slog.Logger
}

func NewRedisNotifier(client Publisher, channel string, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	receivers, err := n.client.Publish(ctx, n.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	n.logger.Debug("Event published", "event_type", event.Type, "channel", n.channel, "receivers", receivers)
	return nil
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event domain.Event) error {
	attrs := []any{"event_type", event.Type}
	if event.ItemID != nil {
		attrs = append(attrs, "item_id", *event.ItemID)
	}
	if event.MatchID != nil {
		attrs = append(attrs, "match_id", *event.MatchID)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	n.logger.Info("Queue event", attrs...)
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []domain.Notifier

func (f Fanout) Notify(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
