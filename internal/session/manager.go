// Package session owns the lifecycle around one authenticated identity:
// the cache is cleared whenever the identity changes or ends, and the push
// stream runs only while a session exists.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"boardsync/internal/cache"
	"boardsync/internal/models"
	"boardsync/internal/observability"
	"boardsync/internal/query"
	"boardsync/internal/remote"

	"golang.org/x/sync/errgroup"
)

// Reasons passed to OnEnded listeners.
const (
	ReasonLogout  = "logout"
	ReasonExpired = "expired"
)

// Stream is the push subscription tied to the session.
type Stream interface {
	Start(ctx context.Context)
	Stop()
}

type Manager struct {
	port   remote.Port
	store  *cache.Store
	views  *query.Views
	stream Stream
	logger *slog.Logger

	mu        sync.Mutex
	user      *models.User
	listeners map[int]func(reason string)
	nextID    int
}

func NewManager(port remote.Port, store *cache.Store, views *query.Views, stream Stream, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = observability.Logger()
	}
	return &Manager{
		port:      port,
		store:     store,
		views:     views,
		stream:    stream,
		logger:    logger,
		listeners: make(map[int]func(string)),
	}
}

// Login authenticates and starts a session for the returned identity.
func (m *Manager) Login(ctx context.Context, creds models.Credentials) (models.User, error) {
	u, err := m.port.Login(ctx, creds)
	if err != nil {
		return models.User{}, err
	}
	m.begin(ctx, u)
	return u, nil
}

// Resume starts a session from a credential the transport already holds.
func (m *Manager) Resume(ctx context.Context) (models.User, error) {
	u, err := m.port.Me(ctx)
	if err != nil {
		return models.User{}, err
	}
	m.begin(ctx, u)
	return u, nil
}

func (m *Manager) begin(ctx context.Context, u models.User) {
	m.mu.Lock()
	prev := m.user
	m.user = &u
	m.mu.Unlock()

	if prev == nil || prev.ID != u.ID {
		// the previous identity's stream must be closed before the cache
		// is emptied, or its events land in the new session
		if prev != nil && m.stream != nil {
			m.stream.Stop()
		}
		m.store.Clear()
	}
	if m.stream != nil {
		m.stream.Start(observability.WithUserID(context.Background(), u.ID))
	}

	m.logger.InfoContext(ctx, "session started",
		slog.Int64("user_id", u.ID),
		slog.Bool("identity_changed", prev != nil && prev.ID != u.ID),
	)

	if err := m.warm(ctx); err != nil {
		m.logger.WarnContext(ctx, "session warm-up incomplete", slog.String("error", err.Error()))
	}
}

// warm loads the notification views every page shows.
func (m *Manager) warm(ctx context.Context) error {
	if m.views == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := m.views.Notifications(gctx)
		return err
	})
	g.Go(func() error {
		_, err := m.views.UnreadCount(gctx)
		return err
	})
	return g.Wait()
}

// Logout ends the session locally even when the server call fails.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.port.Logout(ctx)
	if err != nil && !models.IsUnauthorized(err) {
		m.logger.WarnContext(ctx, "logout request failed", slog.String("error", err.Error()))
	}
	m.end(ReasonLogout)
	if models.IsUnauthorized(err) {
		return nil
	}
	return err
}

// HandleUnauthorized ends the current session. It is wired to the remote
// port's and the push stream's session-ended signals.
func (m *Manager) HandleUnauthorized(err error) {
	if _, ok := m.User(); !ok {
		return
	}
	if err == nil {
		err = errors.New("session ended")
	}
	m.logger.Warn("session expired", slog.String("error", err.Error()))
	m.end(ReasonExpired)
}

func (m *Manager) end(reason string) {
	m.mu.Lock()
	wasActive := m.user != nil
	m.user = nil
	fns := make([]func(string), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	if m.stream != nil {
		m.stream.Stop()
	}
	m.store.Clear()

	if !wasActive {
		return
	}
	for _, fn := range fns {
		fn(reason)
	}
}

// User returns the current identity.
func (m *Manager) User() (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return models.User{}, false
	}
	return *m.user, true
}

// OnEnded registers fn to run after a session ends, e.g. to show the login
// screen.
func (m *Manager) OnEnded(fn func(reason string)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
