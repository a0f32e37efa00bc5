// Package bootstrap assembles the client runtime from configuration.
package bootstrap

import (
	"fmt"
	"log/slog"

	"boardsync/internal/cache"
	"boardsync/internal/config"
	"boardsync/internal/mutation"
	"boardsync/internal/push"
	"boardsync/internal/query"
	"boardsync/internal/remote"
	"boardsync/internal/session"
)

// Client is a fully wired board client: one cache shared by the read views,
// the mutation engine and the push stream, with the session layer reacting
// to the process-wide session-ended signal.
type Client struct {
	Remote    *remote.Client
	Store     *cache.Store
	Views     *query.Views
	Mutations *mutation.Engine
	Push      *push.Channel
	Session   *session.Manager
	Toasts    *mutation.ToastQueue

	unsubscribe func()
}

// NewClient wires a client from cfg.
func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	rc, err := remote.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, remote.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	store := cache.New(cache.WithLogger(logger))
	toasts := mutation.NewToastQueue(cfg.ToastBuffer)
	views := query.New(store, rc)

	channel := push.NewChannel(store, push.Config{
		URL:                 rc.BaseURL() + cfg.PushPath,
		HTTPClient:          rc.StreamClient(),
		MaxReconnectElapsed: cfg.PushMaxReconnectElapsed,
		OnUnauthorized:      rc.SessionEnded,
	}, logger)

	sess := session.NewManager(rc, store, views, channel, logger)

	return &Client{
		Remote:      rc,
		Store:       store,
		Views:       views,
		Mutations:   mutation.New(store, rc, mutation.WithToaster(toasts), mutation.WithLogger(logger)),
		Push:        channel,
		Session:     sess,
		Toasts:      toasts,
		unsubscribe: rc.OnSessionEnded(sess.HandleUnauthorized),
	}, nil
}

// Close stops background work.
func (c *Client) Close() {
	c.unsubscribe()
	c.Push.Stop()
	c.Store.Close()
}
