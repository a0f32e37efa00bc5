package boardserver

import (
	"net/http"
	"strings"
	"testing"

	"boardsync/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	observability.UseTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)), "test")
	t.Cleanup(func() { observability.UseTracerProvider(noop.NewTracerProvider(), "boardsync") })
	return rec
}

func TestTracing_RequestSpanParentsStatements(t *testing.T) {
	rec := recordSpans(t)
	s := newTestServer(t)
	alice := createUser(t, s, "alice@example.com", "alice", "password123")
	createPost(t, s, alice.ID, "Traced", 1)

	resp := call(t, s, http.MethodGet, "/api/posts", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var server sdktrace.ReadOnlySpan
	for _, span := range rec.Ended() {
		if span.Name() == "GET /api/posts" {
			server = span
		}
	}
	require.NotNil(t, server, "request span")
	assert.Contains(t, server.Attributes(), attribute.Int("http.status_code", http.StatusOK))
	assert.Equal(t, server.SpanContext().TraceID().String(), resp.Header.Get("X-Trace-ID"))

	var statements int
	for _, span := range rec.Ended() {
		if !strings.HasPrefix(span.Name(), "store.") || span.Parent().SpanID() != server.SpanContext().SpanID() {
			continue
		}
		statements++
		assert.Contains(t, span.Attributes(), attribute.String("db.system", "sqlite"))
	}
	assert.Positive(t, statements)
}

func TestTracing_StoreRegistersOnce(t *testing.T) {
	db := setupTestDB(t)
	NewStore(db)
	NewStore(db)

	_, ok := db.Config.Plugins[statementTracing{}.Name()]
	assert.True(t, ok)
}
