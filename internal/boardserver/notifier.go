package boardserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"boardsync/internal/models"
	"boardsync/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

const userChannelPattern = "notifications:user:*"

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID int64) string {
	return "notifications:user:" + strconv.FormatInt(userID, 10)
}

func channelUserID(channel string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(channel, "notifications:user:"), 10, 64)
	return id, err == nil && id > 0
}

// NewRedisClient builds a redis client from a REDIS_URL-like string. Accepts
// either a plain `host:port` or a `redis://`/`rediss://` URL. It returns nil
// for an empty string.
func NewRedisClient(raw string) (*redis.Client, error) {
	if raw == "" {
		return nil, nil
	}

	var opts *redis.Options
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		parsed, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		if _, err := url.Parse("redis://" + raw); err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = &redis.Options{Addr: raw}
	}
	// Disable maintenance notifications handshake by default.
	opts.MaintNotificationsConfig = &maintnotifications.Config{Mode: maintnotifications.ModeDisabled}

	return redis.NewClient(opts), nil
}

// Notifier delivers notifications to connected users. With Redis it
// publishes to the user's channel so every server instance sees it;
// without Redis it hands notifications straight to the local broker.
type Notifier struct {
	rdb    *redis.Client
	broker *Broker
	logger *slog.Logger
}

// NewNotifier creates a Notifier; rdb may be nil.
func NewNotifier(rdb *redis.Client, broker *Broker, logger *slog.Logger) *Notifier {
	return &Notifier{rdb: rdb, broker: broker, logger: logger}
}

// PublishUser sends a notification to a user's streams.
func (n *Notifier) PublishUser(ctx context.Context, userID int64, notification models.Notification) error {
	if n.rdb == nil {
		n.broker.Deliver(userID, notification)
		observability.NotificationsPublished.WithLabelValues("local").Inc()
		return nil
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	span, ctx := observability.TraceRedis(ctx, "publish")
	err = n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
	span.SetError(err)
	span.End()
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	observability.NotificationsPublished.WithLabelValues("redis").Inc()
	return nil
}

// Start subscribes to every user channel and forwards messages to the
// broker until ctx ends. It returns once the subscription is confirmed.
// Without Redis it does nothing.
func (n *Notifier) Start(ctx context.Context) error {
	if n.rdb == nil {
		return nil
	}

	sub := n.rdb.PSubscribe(ctx, userChannelPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", userChannelPattern, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n.forward(msg.Channel, msg.Payload)
			}
		}
	}()

	return nil
}

func (n *Notifier) forward(channel, payload string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("panic in notification subscriber",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	userID, ok := channelUserID(channel)
	if !ok {
		n.logger.Warn("ignoring message on unexpected channel", slog.String("channel", channel))
		return
	}
	var notification models.Notification
	if err := json.Unmarshal([]byte(payload), &notification); err != nil {
		n.logger.Warn("dropping malformed notification",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	n.broker.Deliver(userID, notification)
}

// Ping reports whether Redis is reachable. It is nil without Redis.
func (n *Notifier) Ping(ctx context.Context) error {
	if n.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return n.rdb.Ping(ctx).Err()
}
