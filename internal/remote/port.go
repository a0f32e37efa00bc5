// Package remote is the client's access port to the board server.
package remote

import (
	"context"

	"boardsync/internal/models"
)

// Port lists every server operation the client uses. All calls carry the
// session credential implicitly. An expired session surfaces as an error
// matching models.ErrUnauthorized.
type Port interface {
	Login(ctx context.Context, creds models.Credentials) (models.User, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (models.User, error)

	FetchPosts(ctx context.Context, filter models.PostFilter) (models.Posts, error)
	FetchPost(ctx context.Context, postID int64) (models.Post, error)
	CreatePost(ctx context.Context, in models.PostInput) (models.Post, error)
	UpdatePost(ctx context.Context, postID int64, in models.PostInput) (models.Post, error)
	DeletePost(ctx context.Context, postID int64) error
	ToggleLike(ctx context.Context, postID int64) (models.LikeResult, error)
	ToggleScrap(ctx context.Context, postID int64) (models.ScrapResult, error)

	FetchComments(ctx context.Context, postID int64) (models.Comments, error)
	CreateComment(ctx context.Context, postID int64, in models.CommentInput) (models.Comment, error)
	UpdateComment(ctx context.Context, commentID int64, in models.CommentInput) (models.Comment, error)
	DeleteComment(ctx context.Context, commentID int64) error
	ToggleCommentLike(ctx context.Context, commentID int64) (models.LikeResult, error)

	FetchMyScraps(ctx context.Context) (models.Scraps, error)
	FetchNotifications(ctx context.Context) (models.Notifications, error)
	MarkNotificationRead(ctx context.Context, notificationID int64) error
	FetchUnreadCount(ctx context.Context) (int, error)
}
