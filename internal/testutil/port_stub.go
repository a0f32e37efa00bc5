// Package testutil provides shared test doubles for client tests.
package testutil

import (
	"context"
	"sync"

	"boardsync/internal/models"
	"boardsync/internal/remote"
)

var _ remote.Port = (*PortStub)(nil)

// PortStub is a remote.Port whose behaviour is set per operation. An unset
// function returns the zero value and no error. Calls are counted by
// operation name.
type PortStub struct {
	LoginFn                func(context.Context, models.Credentials) (models.User, error)
	LogoutFn               func(context.Context) error
	MeFn                   func(context.Context) (models.User, error)
	FetchPostsFn           func(context.Context, models.PostFilter) (models.Posts, error)
	FetchPostFn            func(context.Context, int64) (models.Post, error)
	CreatePostFn           func(context.Context, models.PostInput) (models.Post, error)
	UpdatePostFn           func(context.Context, int64, models.PostInput) (models.Post, error)
	DeletePostFn           func(context.Context, int64) error
	ToggleLikeFn           func(context.Context, int64) (models.LikeResult, error)
	ToggleScrapFn          func(context.Context, int64) (models.ScrapResult, error)
	FetchCommentsFn        func(context.Context, int64) (models.Comments, error)
	CreateCommentFn        func(context.Context, int64, models.CommentInput) (models.Comment, error)
	UpdateCommentFn        func(context.Context, int64, models.CommentInput) (models.Comment, error)
	DeleteCommentFn        func(context.Context, int64) error
	ToggleCommentLikeFn    func(context.Context, int64) (models.LikeResult, error)
	FetchMyScrapsFn        func(context.Context) (models.Scraps, error)
	FetchNotificationsFn   func(context.Context) (models.Notifications, error)
	MarkNotificationReadFn func(context.Context, int64) error
	FetchUnreadCountFn     func(context.Context) (int, error)

	mu    sync.Mutex
	calls map[string]int
}

func (s *PortStub) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
}

// Calls returns how many times op was invoked.
func (s *PortStub) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *PortStub) Login(ctx context.Context, creds models.Credentials) (models.User, error) {
	s.record("Login")
	if s.LoginFn == nil {
		return models.User{}, nil
	}
	return s.LoginFn(ctx, creds)
}

func (s *PortStub) Logout(ctx context.Context) error {
	s.record("Logout")
	if s.LogoutFn == nil {
		return nil
	}
	return s.LogoutFn(ctx)
}

func (s *PortStub) Me(ctx context.Context) (models.User, error) {
	s.record("Me")
	if s.MeFn == nil {
		return models.User{}, nil
	}
	return s.MeFn(ctx)
}

func (s *PortStub) FetchPosts(ctx context.Context, f models.PostFilter) (models.Posts, error) {
	s.record("FetchPosts")
	if s.FetchPostsFn == nil {
		return models.Posts{}, nil
	}
	return s.FetchPostsFn(ctx, f)
}

func (s *PortStub) FetchPost(ctx context.Context, id int64) (models.Post, error) {
	s.record("FetchPost")
	if s.FetchPostFn == nil {
		return models.Post{ID: id}, nil
	}
	return s.FetchPostFn(ctx, id)
}

func (s *PortStub) CreatePost(ctx context.Context, in models.PostInput) (models.Post, error) {
	s.record("CreatePost")
	if s.CreatePostFn == nil {
		return models.Post{}, nil
	}
	return s.CreatePostFn(ctx, in)
}

func (s *PortStub) UpdatePost(ctx context.Context, id int64, in models.PostInput) (models.Post, error) {
	s.record("UpdatePost")
	if s.UpdatePostFn == nil {
		return models.Post{ID: id}, nil
	}
	return s.UpdatePostFn(ctx, id, in)
}

func (s *PortStub) DeletePost(ctx context.Context, id int64) error {
	s.record("DeletePost")
	if s.DeletePostFn == nil {
		return nil
	}
	return s.DeletePostFn(ctx, id)
}

func (s *PortStub) ToggleLike(ctx context.Context, id int64) (models.LikeResult, error) {
	s.record("ToggleLike")
	if s.ToggleLikeFn == nil {
		return models.LikeResult{}, nil
	}
	return s.ToggleLikeFn(ctx, id)
}

func (s *PortStub) ToggleScrap(ctx context.Context, id int64) (models.ScrapResult, error) {
	s.record("ToggleScrap")
	if s.ToggleScrapFn == nil {
		return models.ScrapResult{}, nil
	}
	return s.ToggleScrapFn(ctx, id)
}

func (s *PortStub) FetchComments(ctx context.Context, postID int64) (models.Comments, error) {
	s.record("FetchComments")
	if s.FetchCommentsFn == nil {
		return models.Comments{}, nil
	}
	return s.FetchCommentsFn(ctx, postID)
}

func (s *PortStub) CreateComment(ctx context.Context, postID int64, in models.CommentInput) (models.Comment, error) {
	s.record("CreateComment")
	if s.CreateCommentFn == nil {
		return models.Comment{PostID: postID, Content: in.Content}, nil
	}
	return s.CreateCommentFn(ctx, postID, in)
}

func (s *PortStub) UpdateComment(ctx context.Context, id int64, in models.CommentInput) (models.Comment, error) {
	s.record("UpdateComment")
	if s.UpdateCommentFn == nil {
		return models.Comment{ID: id, Content: in.Content}, nil
	}
	return s.UpdateCommentFn(ctx, id, in)
}

func (s *PortStub) DeleteComment(ctx context.Context, id int64) error {
	s.record("DeleteComment")
	if s.DeleteCommentFn == nil {
		return nil
	}
	return s.DeleteCommentFn(ctx, id)
}

func (s *PortStub) ToggleCommentLike(ctx context.Context, id int64) (models.LikeResult, error) {
	s.record("ToggleCommentLike")
	if s.ToggleCommentLikeFn == nil {
		return models.LikeResult{}, nil
	}
	return s.ToggleCommentLikeFn(ctx, id)
}

func (s *PortStub) FetchMyScraps(ctx context.Context) (models.Scraps, error) {
	s.record("FetchMyScraps")
	if s.FetchMyScrapsFn == nil {
		return models.Scraps{}, nil
	}
	return s.FetchMyScrapsFn(ctx)
}

func (s *PortStub) FetchNotifications(ctx context.Context) (models.Notifications, error) {
	s.record("FetchNotifications")
	if s.FetchNotificationsFn == nil {
		return models.Notifications{}, nil
	}
	return s.FetchNotificationsFn(ctx)
}

func (s *PortStub) MarkNotificationRead(ctx context.Context, id int64) error {
	s.record("MarkNotificationRead")
	if s.MarkNotificationReadFn == nil {
		return nil
	}
	return s.MarkNotificationReadFn(ctx, id)
}

func (s *PortStub) FetchUnreadCount(ctx context.Context) (int, error) {
	s.record("FetchUnreadCount")
	if s.FetchUnreadCountFn == nil {
		return 0, nil
	}
	return s.FetchUnreadCountFn(ctx)
}

// Gate blocks a stubbed call until Release is called, so tests can observe
// state while the call is in flight.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewGate() *Gate {
	return &Gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

// Wait is called from inside the stub.
func (g *Gate) Wait(ctx context.Context) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entered blocks until a call reaches Wait.
func (g *Gate) Entered() {
	<-g.entered
}

// Release unblocks every waiting call.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}
