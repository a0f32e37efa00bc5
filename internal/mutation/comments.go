package mutation

import (
	"context"
	"strings"

	"boardsync/internal/cache"
	"boardsync/internal/models"
)

// commentSecondaryKeys are the views that embed comments or their count.
func commentSecondaryKeys(postID int64) []cache.QueryKey {
	return []cache.QueryKey{cache.PostKey(postID), cache.PostsPrefix()}
}

func (e *Engine) updateComment(postID, commentID int64, fn func(c *models.Comment)) {
	cache.UpdateAs(e.store, cache.CommentsKey(postID), func(cs models.Comments, ok bool) (models.Comments, bool) {
		if !ok {
			return cs, false
		}
		i := cs.IndexOf(commentID)
		if i < 0 {
			return cs, false
		}
		fn(&cs[i])
		return cs, true
	})
}

// CreateComment appends a provisional comment with a negative temporary id,
// then swaps in the server's comment.
func (e *Engine) CreateComment(ctx context.Context, postID int64, content string) (models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return models.Comment{}, e.reject("create_comment", "content is required")
	}

	key := cache.CommentsKey(postID)
	tempID := e.nextTempID()
	var created models.Comment

	err := e.run(ctx, mutation{
		op:     "create_comment",
		fields: map[string]interface{}{"post_id": postID, "temp_id": tempID},
		keys:   []cache.QueryKey{key},
		apply: func() {
			cache.UpdateAs(e.store, key, func(cs models.Comments, ok bool) (models.Comments, bool) {
				if !ok {
					return cs, false
				}
				return append(cs, models.Comment{
					ID:          tempID,
					PostID:      postID,
					Content:     content,
					CreatedDate: e.now(),
					Pending:     true,
				}), true
			})
		},
		commit: func(ctx context.Context) error {
			c, err := e.port.CreateComment(ctx, postID, models.CommentInput{Content: content})
			if err != nil {
				return err
			}
			created = c
			cache.UpdateAs(e.store, key, func(cs models.Comments, ok bool) (models.Comments, bool) {
				if !ok {
					return cs, false
				}
				tmp := cs.IndexOf(tempID)
				switch {
				case cs.IndexOf(c.ID) >= 0 && tmp >= 0:
					// A refetch already delivered the real comment.
					return append(cs[:tmp], cs[tmp+1:]...), true
				case tmp >= 0:
					cs[tmp] = c
					return cs, true
				case cs.IndexOf(c.ID) < 0:
					return append(cs, c), true
				default:
					return cs, false
				}
			})
			return nil
		},
		invalidate: commentSecondaryKeys(postID),
	})
	return created, err
}

// UpdateComment replaces a comment's content in place.
func (e *Engine) UpdateComment(ctx context.Context, postID, commentID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return e.reject("update_comment", "content is required")
	}

	return e.run(ctx, mutation{
		op:     "update_comment",
		fields: map[string]interface{}{"post_id": postID, "comment_id": commentID},
		keys:   []cache.QueryKey{cache.CommentsKey(postID)},
		apply: func() {
			e.updateComment(postID, commentID, func(c *models.Comment) {
				c.Content = content
			})
		},
		commit: func(ctx context.Context) error {
			updated, err := e.port.UpdateComment(ctx, commentID, models.CommentInput{Content: content})
			if err != nil {
				return err
			}
			e.updateComment(postID, commentID, func(c *models.Comment) {
				c.Content = updated.Content
				if !updated.CreatedDate.IsZero() {
					c.CreatedDate = updated.CreatedDate
				}
			})
			return nil
		},
		invalidate: commentSecondaryKeys(postID),
	})
}

// DeleteComment removes a comment; a failed delete puts it back at its
// original position.
func (e *Engine) DeleteComment(ctx context.Context, postID, commentID int64) error {
	key := cache.CommentsKey(postID)
	return e.run(ctx, mutation{
		op:     "delete_comment",
		fields: map[string]interface{}{"post_id": postID, "comment_id": commentID},
		keys:   []cache.QueryKey{key},
		apply: func() {
			cache.UpdateAs(e.store, key, func(cs models.Comments, ok bool) (models.Comments, bool) {
				if !ok {
					return cs, false
				}
				i := cs.IndexOf(commentID)
				if i < 0 {
					return cs, false
				}
				return append(cs[:i], cs[i+1:]...), true
			})
		},
		commit: func(ctx context.Context) error {
			return e.port.DeleteComment(ctx, commentID)
		},
		invalidate: commentSecondaryKeys(postID),
	})
}

// ToggleCommentLike flips the viewer's like on a comment.
func (e *Engine) ToggleCommentLike(ctx context.Context, postID, commentID int64) error {
	return e.run(ctx, mutation{
		op:     "toggle_comment_like",
		fields: map[string]interface{}{"post_id": postID, "comment_id": commentID},
		keys:   []cache.QueryKey{cache.CommentsKey(postID)},
		apply: func() {
			e.updateComment(postID, commentID, func(c *models.Comment) {
				c.Liked = !c.Liked
				c.LikeCount = adjustCount(c.LikeCount, c.Liked)
			})
		},
		commit: func(ctx context.Context) error {
			res, err := e.port.ToggleCommentLike(ctx, commentID)
			if err != nil {
				return err
			}
			e.updateComment(postID, commentID, func(c *models.Comment) {
				c.Liked, c.LikeCount = res.Liked, res.LikeCount
			})
			return nil
		},
		invalidate: []cache.QueryKey{cache.PostKey(postID)},
	})
}
