package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"boardsync/internal/models"
	"boardsync/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/publicsuffix"
)

const maxErrorBody = 64 << 10

// Client implements Port over the board server's JSON API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	listeners map[int]func(error)
	nextID    int
}

var _ Port = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. A client without a
// cookie jar gets one.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		logger:    observability.Logger(),
		listeners: make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	return c, nil
}

// BaseURL returns the server root URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StreamClient returns an HTTP client sharing this client's session cookies
// and transport but without a request timeout, for long-lived streams.
func (c *Client) StreamClient() *http.Client {
	return &http.Client{Jar: c.http.Jar, Transport: c.http.Transport}
}

// OnSessionEnded registers fn to run whenever any call is answered with
// 401. It returns a function that removes the registration.
func (c *Client) OnSessionEnded(fn func(error)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SessionEnded fires the session-ended signal. Other transports sharing
// the session (the push stream) report their 401s through it.
func (c *Client) SessionEnded(err error) {
	c.mu.Lock()
	fns := make([]func(error), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (err error) {
	span, ctx := observability.NewSpan(ctx, "remote."+op,
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	done := observability.TrackRemoteCall(op)
	defer func() {
		done(models.CodeOf(err))
		span.SetError(err)
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := observability.ExtractCorrelationID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "remote call failed",
			slog.String("operation", op),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return models.NewNetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if appErr := models.FromStatus(resp.StatusCode, readErrorMessage(resp.Body)); appErr != nil {
		// Bad credentials on login are not an expired session.
		if appErr.Code == models.CodeUnauthorized && op != "login" {
			c.SessionEnded(appErr)
		}
		c.logger.DebugContext(ctx, "remote call rejected",
			slog.String("operation", op),
			slog.String("request_id", requestID),
			slog.Int("status", resp.StatusCode),
			slog.String("code", appErr.Code),
		)
		return appErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			return models.NewNetworkError(err)
		}
		return &models.AppError{
			Code:    models.CodeServerFault,
			Message: "malformed " + op + " response",
			Status:  resp.StatusCode,
			Err:     err,
		}
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var er models.ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		return er.Error
	}
	return ""
}

func pathID(v int64) string {
	return strconv.FormatInt(v, 10)
}

func (c *Client) Login(ctx context.Context, creds models.Credentials) (models.User, error) {
	var u models.User
	err := c.do(ctx, "login", http.MethodPost, "/api/auth/login", nil, creds, &u)
	return u, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.do(ctx, "me", http.MethodGet, "/api/auth/me", nil, nil, &u)
	return u, err
}

func (c *Client) FetchPosts(ctx context.Context, filter models.PostFilter) (models.Posts, error) {
	posts := models.Posts{}
	err := c.do(ctx, "fetch_posts", http.MethodGet, "/api/posts", filter.Values(), nil, &posts)
	return posts, err
}

func (c *Client) FetchPost(ctx context.Context, postID int64) (models.Post, error) {
	var p models.Post
	err := c.do(ctx, "fetch_post", http.MethodGet, "/api/posts/"+pathID(postID), nil, nil, &p)
	return p, err
}

func (c *Client) CreatePost(ctx context.Context, in models.PostInput) (models.Post, error) {
	var p models.Post
	err := c.do(ctx, "create_post", http.MethodPost, "/api/posts", nil, in, &p)
	return p, err
}

func (c *Client) UpdatePost(ctx context.Context, postID int64, in models.PostInput) (models.Post, error) {
	var p models.Post
	err := c.do(ctx, "update_post", http.MethodPut, "/api/posts/"+pathID(postID), nil, in, &p)
	return p, err
}

func (c *Client) DeletePost(ctx context.Context, postID int64) error {
	return c.do(ctx, "delete_post", http.MethodDelete, "/api/posts/"+pathID(postID), nil, nil, nil)
}

func (c *Client) ToggleLike(ctx context.Context, postID int64) (models.LikeResult, error) {
	var r models.LikeResult
	err := c.do(ctx, "toggle_like", http.MethodPost, "/api/posts/"+pathID(postID)+"/like", nil, nil, &r)
	return r, err
}

func (c *Client) ToggleScrap(ctx context.Context, postID int64) (models.ScrapResult, error) {
	var r models.ScrapResult
	err := c.do(ctx, "toggle_scrap", http.MethodPost, "/api/posts/"+pathID(postID)+"/scrap", nil, nil, &r)
	return r, err
}

func (c *Client) FetchComments(ctx context.Context, postID int64) (models.Comments, error) {
	comments := models.Comments{}
	err := c.do(ctx, "fetch_comments", http.MethodGet, "/api/posts/"+pathID(postID)+"/comments", nil, nil, &comments)
	return comments, err
}

func (c *Client) CreateComment(ctx context.Context, postID int64, in models.CommentInput) (models.Comment, error) {
	var cm models.Comment
	err := c.do(ctx, "create_comment", http.MethodPost, "/api/posts/"+pathID(postID)+"/comments", nil, in, &cm)
	return cm, err
}

func (c *Client) UpdateComment(ctx context.Context, commentID int64, in models.CommentInput) (models.Comment, error) {
	var cm models.Comment
	err := c.do(ctx, "update_comment", http.MethodPut, "/api/comments/"+pathID(commentID), nil, in, &cm)
	return cm, err
}

func (c *Client) DeleteComment(ctx context.Context, commentID int64) error {
	return c.do(ctx, "delete_comment", http.MethodDelete, "/api/comments/"+pathID(commentID), nil, nil, nil)
}

func (c *Client) ToggleCommentLike(ctx context.Context, commentID int64) (models.LikeResult, error) {
	var r models.LikeResult
	err := c.do(ctx, "toggle_comment_like", http.MethodPost, "/api/comments/"+pathID(commentID)+"/like", nil, nil, &r)
	return r, err
}

func (c *Client) FetchMyScraps(ctx context.Context) (models.Scraps, error) {
	scraps := models.Scraps{}
	err := c.do(ctx, "fetch_my_scraps", http.MethodGet, "/api/scraps/me", nil, nil, &scraps)
	return scraps, err
}

func (c *Client) FetchNotifications(ctx context.Context) (models.Notifications, error) {
	ns := models.Notifications{}
	err := c.do(ctx, "fetch_notifications", http.MethodGet, "/api/notifications", nil, nil, &ns)
	return ns, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, notificationID int64) error {
	return c.do(ctx, "mark_notification_read", http.MethodPatch, "/api/notifications/"+pathID(notificationID)+"/read", nil, nil, nil)
}

func (c *Client) FetchUnreadCount(ctx context.Context) (int, error) {
	var uc models.UnreadCount
	err := c.do(ctx, "fetch_unread_count", http.MethodGet, "/api/notifications/unread-count", nil, nil, &uc)
	return uc.Count, err
}
