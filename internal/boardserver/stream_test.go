package boardserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"boardsync/internal/cache"
	"boardsync/internal/models"
	"boardsync/internal/push"
	"boardsync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_RequiresSession(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, SubscribePath, nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), models.CodeUnauthorized)
}

func TestSubscribe_RejectsOtherMethods(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Subscribe(rec, httptest.NewRequest(http.MethodPost, SubscribePath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestSubscribe_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"listed origin", "http://localhost:5173", true},
		{"unknown origin", "http://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, SubscribePath, nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestStreamUserID(t *testing.T) {
	assert.Equal(t, "user-42", streamID(42))
	assert.Equal(t, int64(42), streamUserID("user-42"))
	assert.Equal(t, int64(0), streamUserID("garbage"))
}

func TestBroker_DeliverWithoutSubscribers(t *testing.T) {
	b := NewBroker(testLogger())
	t.Cleanup(b.Close)

	assert.False(t, b.Connected(1))
	assert.NotPanics(t, func() { b.Deliver(1, models.Notification{ID: 1, Message: "nobody listening"}) })
}

// A like from bob reaches alice's cache through the event stream.
func TestPush_EndToEnd(t *testing.T) {
	s := newTestServer(t)
	alice := createUser(t, s, "alice@board.local", "alice", "password1")
	bob := createUser(t, s, "bob@board.local", "bob", "password2")
	post := createPost(t, s, alice.ID, "Push me", 1)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	// open streams keep ts.Close waiting
	t.Cleanup(s.broker.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := remote.NewClient(ts.URL, 5*time.Second, remote.WithLogger(testLogger()))
	require.NoError(t, err)
	_, err = rc.Login(ctx, models.Credentials{Email: "alice@board.local", Password: "password1"})
	require.NoError(t, err)

	store := cache.New()
	t.Cleanup(store.Close)
	channel := push.NewChannel(store, push.Config{
		URL:        ts.URL + SubscribePath,
		HTTPClient: rc.StreamClient(),
	}, testLogger())
	channel.Start(ctx)
	t.Cleanup(channel.Stop)

	require.Eventually(t, func() bool { return s.Broker().Connected(alice.ID) }, 5*time.Second, 10*time.Millisecond)

	resp := call(t, s, http.MethodPost, fmt.Sprintf("/api/posts/%d/like", post.ID), nil, sessionFor(t, s, bob.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		uc, ok := cache.GetAs[models.UnreadCount](store, cache.UnreadCountKey())
		return ok && uc.Count == 1
	}, 5*time.Second, 10*time.Millisecond)

	ns, ok := cache.GetAs[models.Notifications](store, cache.NotificationsKey())
	require.True(t, ok)
	require.Len(t, ns, 1)
	assert.Equal(t, "bob liked your post \"Push me\"", ns[0].Message)
}

func TestPush_RejectedSessionStopsChannel(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	var rejected atomic.Value
	channel := push.NewChannel(cache.New(), push.Config{
		URL:        ts.URL + SubscribePath,
		HTTPClient: &http.Client{},
		OnUnauthorized: func(err error) {
			rejected.Store(err)
		},
	}, testLogger())
	channel.Start(context.Background())
	t.Cleanup(channel.Stop)

	require.Eventually(t, func() bool { return rejected.Load() != nil }, 5*time.Second, 10*time.Millisecond)
	err, _ := rejected.Load().(error)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, models.CodeUnauthorized, appErr.Code)
	assert.Eventually(t, func() bool { return !channel.Running() }, 5*time.Second, 10*time.Millisecond)
}
