package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"boardsync/internal/cache"
	"boardsync/internal/models"
	"boardsync/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/r3labs/sse/v2"
)

// Config describes the stream endpoint.
type Config struct {
	URL string
	// HTTPClient must carry the session cookie. It should have no timeout.
	HTTPClient *http.Client
	// MaxReconnectElapsed bounds how long the transport keeps reconnecting.
	// Zero keeps the transport default.
	MaxReconnectElapsed time.Duration
	// OnUnauthorized is called when the server rejects the session.
	OnUnauthorized func(error)
}

// Channel is the single push subscription of a session.
type Channel struct {
	store  *cache.Store
	cfg    Config
	logger *observability.StreamLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewChannel(store *cache.Store, cfg Config, logger *slog.Logger) *Channel {
	return &Channel{
		store:  store,
		cfg:    cfg,
		logger: observability.NewStreamLogger("notifications", logger),
	}
}

// Start opens the stream in the background, replacing any stream this
// channel already has open.
func (c *Channel) Start(ctx context.Context) {
	c.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil {
			c.logger.LogDisconnect(ctx, err.Error())
		}
	}()
}

// Stop closes the stream and waits for it to finish.
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a stream is open or reconnecting.
func (c *Channel) Running() bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Run subscribes and blocks until ctx ends, the server closes the stream,
// or the transport gives up reconnecting. Reconnection is left entirely to
// the transport's backoff policy.
func (c *Channel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := sse.NewClient(c.cfg.URL)
	if c.cfg.HTTPClient != nil {
		client.Connection = c.cfg.HTTPClient
	}

	policy := backoff.NewExponentialBackOff()
	if c.cfg.MaxReconnectElapsed > 0 {
		policy.MaxElapsedTime = c.cfg.MaxReconnectElapsed
	}
	client.ReconnectStrategy = backoff.WithContext(policy, ctx)
	client.ReconnectNotify = func(err error, next time.Duration) {
		observability.PushConnected.Set(0)
		c.logger.LogError(ctx, fmt.Errorf("reconnecting in %s: %w", next, err), "reconnect")
	}

	var rejected error
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		_ = resp.Body.Close()

		appErr := models.FromStatus(resp.StatusCode, "")
		if appErr == nil {
			return fmt.Errorf("unexpected stream status %d", resp.StatusCode)
		}
		if appErr.Code == models.CodeUnauthorized {
			rejected = appErr
			cancel()
		}
		return appErr
	}
	client.OnConnect(func(*sse.Client) {
		observability.PushConnected.Set(1)
		c.logger.LogConnect(ctx, c.cfg.URL)
	})
	client.OnDisconnect(func(*sse.Client) {
		observability.PushConnected.Set(0)
	})

	err := client.SubscribeRawWithContext(ctx, func(ev *sse.Event) {
		c.handle(ctx, ev)
	})
	observability.PushConnected.Set(0)

	if rejected != nil {
		// The handler may Stop this channel, which waits for Run to return.
		if c.cfg.OnUnauthorized != nil {
			go c.cfg.OnUnauthorized(rejected)
		}
		return rejected
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Channel) handle(ctx context.Context, ev *sse.Event) {
	eventType := string(ev.Event)
	if eventType != EventNewNotification {
		observability.PushEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		return
	}

	var n models.Notification
	if err := json.Unmarshal(ev.Data, &n); err != nil {
		observability.PushEventsTotal.WithLabelValues(eventType, "parse_error").Inc()
		c.logger.LogError(ctx, err, eventType)
		return
	}

	Ingest(c.store, n)
	observability.PushEventsTotal.WithLabelValues(eventType, "ingested").Inc()
	c.logger.LogEvent(ctx, eventType, map[string]interface{}{"notification_id": n.ID})
}
