package boardserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boardsync/internal/models"
	"boardsync/internal/observability"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	notificationCap = 50
)

// Store is the board's data access layer.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over db. Every statement it issues is traced.
func NewStore(db *gorm.DB) *Store {
	if err := db.Use(statementTracing{}); err != nil && !errors.Is(err, gorm.ErrRegistered) {
		observability.Logger().Warn("statement tracing disabled", "error", err)
	}
	return &Store{db: db}
}

type postRow struct {
	ID           int64
	Title        string
	Content      string
	CategoryID   int64
	AuthorID     int64
	Nickname     string
	LikeCount    int
	CommentCount int
	CreatedAt    time.Time
}

type commentRow struct {
	ID        int64
	PostID    int64
	AuthorID  int64
	Nickname  string
	Content   string
	LikeCount int
	CreatedAt time.Time
}

const postColumns = "posts.id, posts.title, posts.content, posts.category_id, posts.author_id, " +
	"users.nickname AS nickname, posts.created_at, " +
	"(SELECT COUNT(*) FROM post_likes WHERE post_likes.post_id = posts.id) AS like_count, " +
	"(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id) AS comment_count"

const commentColumns = "comments.id, comments.post_id, comments.author_id, comments.content, " +
	"users.nickname AS nickname, comments.created_at, " +
	"(SELECT COUNT(*) FROM comment_likes WHERE comment_likes.comment_id = comments.id) AS like_count"

func (s *Store) postQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("posts").
		Select(postColumns).
		Joins("LEFT JOIN users ON users.id = posts.author_id")
}

func (s *Store) commentQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("comments").
		Select(commentColumns).
		Joins("LEFT JOIN users ON users.id = comments.author_id")
}

// UserByEmail returns nil, nil when no user has the address.
func (s *Store) UserByEmail(ctx context.Context, email string) (*userRecord, error) {
	var u userRecord
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByID returns a NOT_FOUND AppError when the user does not exist.
func (s *Store) UserByID(ctx context.Context, id int64) (models.User, error) {
	var u userRecord
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, models.NewNotFoundError("User", id)
	}
	if err != nil {
		return models.User{}, err
	}
	return toUser(u), nil
}

// CreateUser persists a user with an already hashed password.
func (s *Store) CreateUser(ctx context.Context, email, nickname, passwordHash string) (models.User, error) {
	u := userRecord{Email: email, Nickname: nickname, Password: passwordHash}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return models.User{}, err
	}
	return toUser(u), nil
}

// CountUsers reports how many users exist.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&userRecord{}).Count(&n).Error
	return n, err
}

// ListPosts returns one page of posts, newest first, without comments.
func (s *Store) ListPosts(ctx context.Context, filter models.PostFilter, viewer int64) (models.Posts, error) {
	size := filter.Size
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page := filter.Page
	if page < 0 {
		page = 0
	}

	q := s.postQuery(ctx)
	if filter.CategoryID != 0 {
		q = q.Where("posts.category_id = ?", filter.CategoryID)
	}
	if filter.Query != "" {
		q = q.Where("posts.title LIKE ?", "%"+filter.Query+"%")
	}

	var rows []postRow
	err := q.Order("posts.created_at DESC").Order("posts.id DESC").
		Limit(size).Offset(page * size).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	liked, err := s.viewerSet(ctx, "post_likes", "post_id", viewer, ids)
	if err != nil {
		return nil, err
	}
	scrapped, err := s.viewerSet(ctx, "scraps", "post_id", viewer, ids)
	if err != nil {
		return nil, err
	}

	posts := make(models.Posts, len(rows))
	for i, r := range rows {
		posts[i] = r.toPost(liked[r.ID], scrapped[r.ID])
	}
	return posts, nil
}

// GetPost returns a post with its comments.
func (s *Store) GetPost(ctx context.Context, id, viewer int64) (models.Post, error) {
	var rows []postRow
	if err := s.postQuery(ctx).Where("posts.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return models.Post{}, err
	}
	if len(rows) == 0 {
		return models.Post{}, models.NewNotFoundError("Post", id)
	}

	liked, err := s.viewerSet(ctx, "post_likes", "post_id", viewer, []int64{id})
	if err != nil {
		return models.Post{}, err
	}
	scrapped, err := s.viewerSet(ctx, "scraps", "post_id", viewer, []int64{id})
	if err != nil {
		return models.Post{}, err
	}

	post := rows[0].toPost(liked[id], scrapped[id])
	comments, err := s.ListComments(ctx, id, viewer)
	if err != nil {
		return models.Post{}, err
	}
	post.Comments = comments
	return post, nil
}

// viewerSet returns which of ids the viewer has a row for in table.
func (s *Store) viewerSet(ctx context.Context, table, column string, viewer int64, ids []int64) (map[int64]bool, error) {
	set := make(map[int64]bool)
	if viewer == 0 || len(ids) == 0 {
		return set, nil
	}
	var hits []int64
	err := s.db.WithContext(ctx).
		Table(table).
		Where("user_id = ? AND "+column+" IN ?", viewer, ids).
		Pluck(column, &hits).Error
	if err != nil {
		return nil, err
	}
	for _, id := range hits {
		set[id] = true
	}
	return set, nil
}

func (s *Store) ownedPost(tx *gorm.DB, id, userID int64) (postRecord, error) {
	var p postRecord
	err := tx.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return p, err
	}
	if p.AuthorID != userID {
		return p, models.NewForbiddenError("You can only modify your own posts")
	}
	return p, nil
}

// CreatePost persists a post authored by userID.
func (s *Store) CreatePost(ctx context.Context, userID int64, in models.PostInput) (models.Post, error) {
	p := postRecord{
		Title:      in.Title,
		Content:    in.Content,
		CategoryID: in.CategoryID,
		AuthorID:   userID,
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return models.Post{}, err
	}
	return s.GetPost(ctx, p.ID, userID)
}

// UpdatePost edits a post owned by userID.
func (s *Store) UpdatePost(ctx context.Context, userID, id int64, in models.PostInput) (models.Post, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.ownedPost(tx, id, userID)
		if err != nil {
			return err
		}
		p.Title = in.Title
		p.Content = in.Content
		if in.CategoryID != 0 {
			p.CategoryID = in.CategoryID
		}
		return tx.Save(&p).Error
	})
	if err != nil {
		return models.Post{}, err
	}
	return s.GetPost(ctx, id, userID)
}

// DeletePost removes a post owned by userID along with its comments, likes
// and scraps.
func (s *Store) DeletePost(ctx context.Context, userID, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedPost(tx, id, userID); err != nil {
			return err
		}
		commentIDs := tx.Model(&commentRecord{}).Select("id").Where("post_id = ?", id)
		if err := tx.Where("comment_id IN (?)", commentIDs).Delete(&commentLikeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&commentRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&postLikeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&scrapRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&postRecord{}, id).Error
	})
}

// TogglePostLike flips the viewer's like on a post. The returned post is the
// post as it was before the toggle, for notification purposes.
func (s *Store) TogglePostLike(ctx context.Context, userID, postID int64) (models.LikeResult, postRecord, error) {
	var res models.LikeResult
	var post postRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Post", postID)
			}
			return err
		}

		liked, err := toggleRow(tx, &postLikeRecord{PostID: postID, UserID: userID},
			"post_id = ? AND user_id = ?", postID, userID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&postLikeRecord{}).Where("post_id = ?", postID).Count(&count).Error; err != nil {
			return err
		}
		res = models.LikeResult{Liked: liked, LikeCount: int(count)}
		return nil
	})
	return res, post, err
}

// ToggleScrap flips the viewer's bookmark on a post.
func (s *Store) ToggleScrap(ctx context.Context, userID, postID int64) (models.ScrapResult, error) {
	var res models.ScrapResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&postRecord{}).Where("id = ?", postID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return models.NewNotFoundError("Post", postID)
		}
		scrapped, err := toggleRow(tx, &scrapRecord{PostID: postID, UserID: userID},
			"post_id = ? AND user_id = ?", postID, userID)
		if err != nil {
			return err
		}
		res.Scrapped = scrapped
		return nil
	})
	return res, err
}

// toggleRow deletes the rows matching where, or creates row when there are
// none. It reports whether the row exists afterwards.
func toggleRow(tx *gorm.DB, row interface{}, where string, args ...interface{}) (bool, error) {
	var n int64
	if err := tx.Model(row).Where(where, args...).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, tx.Where(where, args...).Delete(row).Error
	}
	return true, tx.Create(row).Error
}

// ListComments returns a post's comments oldest first.
func (s *Store) ListComments(ctx context.Context, postID, viewer int64) (models.Comments, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&postRecord{}).Where("id = ?", postID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, models.NewNotFoundError("Post", postID)
	}

	var rows []commentRow
	err := s.commentQuery(ctx).
		Where("comments.post_id = ?", postID).
		Order("comments.created_at ASC").Order("comments.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	liked, err := s.viewerSet(ctx, "comment_likes", "comment_id", viewer, ids)
	if err != nil {
		return nil, err
	}

	comments := make(models.Comments, len(rows))
	for i, r := range rows {
		comments[i] = r.toComment(liked[r.ID])
	}
	return comments, nil
}

func (s *Store) getComment(ctx context.Context, id, viewer int64) (models.Comment, error) {
	var rows []commentRow
	if err := s.commentQuery(ctx).Where("comments.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return models.Comment{}, err
	}
	if len(rows) == 0 {
		return models.Comment{}, models.NewNotFoundError("Comment", id)
	}
	liked, err := s.viewerSet(ctx, "comment_likes", "comment_id", viewer, []int64{id})
	if err != nil {
		return models.Comment{}, err
	}
	return rows[0].toComment(liked[id]), nil
}

// CreateComment adds a comment to a post and returns it with the post's
// author id for notification purposes.
func (s *Store) CreateComment(ctx context.Context, userID, postID int64, content string) (models.Comment, postRecord, error) {
	var post postRecord
	if err := s.db.WithContext(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Comment{}, post, models.NewNotFoundError("Post", postID)
		}
		return models.Comment{}, post, err
	}

	c := commentRecord{PostID: postID, AuthorID: userID, Content: content}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return models.Comment{}, post, err
	}
	comment, err := s.getComment(ctx, c.ID, userID)
	return comment, post, err
}

func ownedComment(tx *gorm.DB, id, userID int64) (commentRecord, error) {
	var c commentRecord
	err := tx.First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c, models.NewNotFoundError("Comment", id)
	}
	if err != nil {
		return c, err
	}
	if c.AuthorID != userID {
		return c, models.NewForbiddenError("You can only modify your own comments")
	}
	return c, nil
}

// UpdateComment edits a comment owned by userID.
func (s *Store) UpdateComment(ctx context.Context, userID, id int64, content string) (models.Comment, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := ownedComment(tx, id, userID)
		if err != nil {
			return err
		}
		c.Content = content
		return tx.Save(&c).Error
	})
	if err != nil {
		return models.Comment{}, err
	}
	return s.getComment(ctx, id, userID)
}

// DeleteComment removes a comment owned by userID and its likes.
func (s *Store) DeleteComment(ctx context.Context, userID, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ownedComment(tx, id, userID); err != nil {
			return err
		}
		if err := tx.Where("comment_id = ?", id).Delete(&commentLikeRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&commentRecord{}, id).Error
	})
}

// ToggleCommentLike flips the viewer's like on a comment.
func (s *Store) ToggleCommentLike(ctx context.Context, userID, commentID int64) (models.LikeResult, commentRecord, error) {
	var res models.LikeResult
	var comment commentRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&comment, commentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Comment", commentID)
			}
			return err
		}

		liked, err := toggleRow(tx, &commentLikeRecord{CommentID: commentID, UserID: userID},
			"comment_id = ? AND user_id = ?", commentID, userID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&commentLikeRecord{}).Where("comment_id = ?", commentID).Count(&count).Error; err != nil {
			return err
		}
		res = models.LikeResult{Liked: liked, LikeCount: int(count)}
		return nil
	})
	return res, comment, err
}

// ListScraps returns the user's bookmarks, newest first.
func (s *Store) ListScraps(ctx context.Context, userID int64) (models.Scraps, error) {
	var rows []struct {
		ID              int64
		PostID          int64
		AuthorNickname  string
		PostTitle       string
		PostCreatedDate time.Time
		CreatedAt       time.Time
	}
	err := s.db.WithContext(ctx).
		Table("scraps").
		Select("scraps.id, scraps.post_id, users.nickname AS author_nickname, posts.title AS post_title, "+
			"posts.created_at AS post_created_date, scraps.created_at").
		Joins("JOIN posts ON posts.id = scraps.post_id").
		Joins("LEFT JOIN users ON users.id = posts.author_id").
		Where("scraps.user_id = ?", userID).
		Order("scraps.created_at DESC").Order("scraps.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	scraps := make(models.Scraps, len(rows))
	for i, r := range rows {
		scraps[i] = models.Scrap{
			ID:              r.ID,
			PostID:          r.PostID,
			AuthorNickname:  r.AuthorNickname,
			PostTitle:       r.PostTitle,
			PostCreatedDate: r.PostCreatedDate,
			CreatedDate:     r.CreatedAt,
		}
	}
	return scraps, nil
}

// CreateNotification persists a notification for userID.
func (s *Store) CreateNotification(ctx context.Context, userID int64, message string, postID *int64) (models.Notification, error) {
	n := notificationRecord{UserID: userID, Message: message, PostID: postID}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return models.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	return toNotification(n), nil
}

// ListNotifications returns the user's most recent notifications.
func (s *Store) ListNotifications(ctx context.Context, userID int64) (models.Notifications, error) {
	var rows []notificationRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(notificationCap).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(models.Notifications, len(rows))
	for i, r := range rows {
		out[i] = toNotification(r)
	}
	return out, nil
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	res := s.db.WithContext(ctx).
		Model(&notificationRecord{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// some drivers report changed rather than matched rows
		var n int64
		if err := s.db.WithContext(ctx).Model(&notificationRecord{}).
			Where("id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return models.NewNotFoundError("Notification", id)
		}
	}
	return nil
}

// UnreadCount returns how many of the user's notifications are unread.
func (s *Store) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&notificationRecord{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return int(n), err
}

func toUser(u userRecord) models.User {
	return models.User{ID: u.ID, Email: u.Email, Nickname: u.Nickname}
}

func (r postRow) toPost(liked, scrapped bool) models.Post {
	return models.Post{
		ID:           r.ID,
		Title:        r.Title,
		Content:      r.Content,
		CategoryID:   r.CategoryID,
		AuthorID:     r.AuthorID,
		Nickname:     r.Nickname,
		Liked:        liked,
		LikeCount:    r.LikeCount,
		Scrapped:     scrapped,
		CommentCount: r.CommentCount,
		CreatedDate:  r.CreatedAt,
	}
}

func (r commentRow) toComment(liked bool) models.Comment {
	return models.Comment{
		ID:          r.ID,
		PostID:      r.PostID,
		Content:     r.Content,
		AuthorID:    r.AuthorID,
		Nickname:    r.Nickname,
		LikeCount:   r.LikeCount,
		Liked:       liked,
		CreatedDate: r.CreatedAt,
	}
}

func toNotification(n notificationRecord) models.Notification {
	return models.Notification{
		ID:          n.ID,
		Message:     n.Message,
		PostID:      n.PostID,
		Read:        n.Read,
		CreatedDate: n.CreatedAt,
	}
}
