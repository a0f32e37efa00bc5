package boardserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"boardsync/internal/config"
	"boardsync/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var memDBCounter atomic.Int64

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		Port:           "0",
		JWTSecret:      "test-secret-that-is-long-enough-for-hs256",
		DBDriver:       "sqlite",
		AllowedOrigins: "http://localhost:5173",
		SessionTTL:     time.Hour,
	}
}

// setupTestDB opens a private in-memory sqlite database with the schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:boardtest%d?mode=memory&cache=shared", memDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	return gormDB, mock
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(testConfig(), setupTestDB(t), nil, testLogger())
	t.Cleanup(s.broker.Close)
	return s
}

func createUser(t *testing.T, s *Server, email, nickname, password string) models.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	u, err := s.store.CreateUser(context.Background(), email, nickname, hash)
	require.NoError(t, err)
	return u
}

func createPost(t *testing.T, s *Server, authorID int64, title string, categoryID int64) models.Post {
	t.Helper()
	p, err := s.store.CreatePost(context.Background(), authorID, models.PostInput{
		Title:      title,
		Content:    "content of " + title,
		CategoryID: categoryID,
	})
	require.NoError(t, err)
	return p
}

func sessionFor(t *testing.T, s *Server, userID int64) *http.Cookie {
	t.Helper()
	token, _, err := s.generateToken(userID)
	require.NoError(t, err)
	return &http.Cookie{Name: SessionCookie, Value: token}
}

// call runs one request through the fiber app. body may be nil.
func call(t *testing.T, s *Server, method, path string, body any, cookie *http.Cookie) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
