package boardserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"boardsync/internal/models"
	"boardsync/internal/observability"

	"github.com/r3labs/sse/v2"
)

// EventNewNotification names the stream event carrying a Notification.
const EventNewNotification = "new-notification"

// Broker fans notifications out to each user's open event streams. Every
// user has one stream, created on first subscribe and dropped when the last
// subscriber leaves.
type Broker struct {
	sse    *sse.Server
	logger *slog.Logger

	mu    sync.Mutex
	conns map[int64]int
}

// NewBroker creates a broker without event replay: a reconnecting client
// refetches instead.
func NewBroker(logger *slog.Logger) *Broker {
	b := &Broker{
		logger: logger,
		conns:  make(map[int64]int),
	}
	b.sse = sse.NewWithCallback(b.onSubscribe, b.onUnsubscribe)
	b.sse.AutoStream = true
	b.sse.AutoReplay = false
	return b
}

func streamID(userID int64) string {
	return "user-" + strconv.FormatInt(userID, 10)
}

func streamUserID(id string) int64 {
	userID, _ := strconv.ParseInt(strings.TrimPrefix(id, "user-"), 10, 64)
	return userID
}

func (b *Broker) onSubscribe(id string, _ *sse.Subscriber) {
	b.mu.Lock()
	b.conns[streamUserID(id)]++
	b.mu.Unlock()
	observability.StreamSubscribers.Inc()
	b.logger.Debug("stream subscriber added", slog.String("stream", id))
}

func (b *Broker) onUnsubscribe(id string, _ *sse.Subscriber) {
	userID := streamUserID(id)
	b.mu.Lock()
	if b.conns[userID] <= 1 {
		delete(b.conns, userID)
	} else {
		b.conns[userID]--
	}
	b.mu.Unlock()
	observability.StreamSubscribers.Dec()
	b.logger.Debug("stream subscriber removed", slog.String("stream", id))
}

// Connected reports whether the user has at least one registered stream
// subscriber.
func (b *Broker) Connected(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[userID] > 0
}

// Deliver sends a notification to the user's open streams. It is a no-op
// when the user has none.
func (b *Broker) Deliver(userID int64, n models.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		b.logger.Error("failed to encode notification", slog.String("error", err.Error()))
		return
	}
	b.sse.Publish(streamID(userID), &sse.Event{
		Event: []byte(EventNewNotification),
		Data:  data,
	})
}

// Serve streams to an already authenticated user.
func (b *Broker) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	r = r.Clone(r.Context())
	q := r.URL.Query()
	q.Set("stream", streamID(userID))
	r.URL.RawQuery = q.Encode()
	b.sse.ServeHTTP(w, r)
}

// Close ends every open stream.
func (b *Broker) Close() {
	b.sse.Close()
}

// Subscribe handles GET /api/notifications/subscribe. It runs outside fiber
// so each event is flushed as it is published.
func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeHTTPError(w, &models.AppError{
			Code:    models.CodeValidationRejected,
			Message: "Method not allowed",
			Status:  http.StatusMethodNotAllowed,
		})
		return
	}

	userID, err := s.httpUserID(r)
	if err != nil {
		writeHTTPError(w, models.NewUnauthorizedError("Authorization required"))
		return
	}

	ctx := observability.WithUserID(r.Context(), userID)
	s.logger.InfoContext(ctx, "notification stream opened")
	s.broker.Serve(w, r.WithContext(ctx), userID)
	s.logger.InfoContext(ctx, "notification stream closed")
}

func writeHTTPError(w http.ResponseWriter, appErr *models.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(models.StatusOf(appErr))
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: appErr.Message, Code: appErr.Code})
}
