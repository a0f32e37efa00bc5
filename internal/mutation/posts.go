package mutation

import (
	"context"
	"strings"

	"boardsync/internal/cache"
	"boardsync/internal/models"
)

// ToggleLike flips the viewer's like on a post.
func (e *Engine) ToggleLike(ctx context.Context, postID int64) error {
	key := cache.PostKey(postID)
	return e.run(ctx, mutation{
		op:     "toggle_like",
		fields: map[string]interface{}{"post_id": postID},
		keys:   []cache.QueryKey{key},
		apply: func() {
			cache.UpdateAs(e.store, key, func(p models.Post, ok bool) (models.Post, bool) {
				if !ok {
					return p, false
				}
				p.Liked = !p.Liked
				p.LikeCount = adjustCount(p.LikeCount, p.Liked)
				return p, true
			})
		},
		commit: func(ctx context.Context) error {
			res, err := e.port.ToggleLike(ctx, postID)
			if err != nil {
				return err
			}
			cache.UpdateAs(e.store, key, func(p models.Post, ok bool) (models.Post, bool) {
				if !ok {
					return p, false
				}
				p.Liked, p.LikeCount = res.Liked, res.LikeCount
				return p, true
			})
			return nil
		},
		invalidate: []cache.QueryKey{cache.PostsPrefix()},
	})
}

// ToggleScrap flips the viewer's scrap (bookmark) on a post.
func (e *Engine) ToggleScrap(ctx context.Context, postID int64) error {
	key := cache.PostKey(postID)
	return e.run(ctx, mutation{
		op:     "toggle_scrap",
		fields: map[string]interface{}{"post_id": postID},
		keys:   []cache.QueryKey{key},
		apply: func() {
			cache.UpdateAs(e.store, key, func(p models.Post, ok bool) (models.Post, bool) {
				if !ok {
					return p, false
				}
				p.Scrapped = !p.Scrapped
				return p, true
			})
		},
		commit: func(ctx context.Context) error {
			res, err := e.port.ToggleScrap(ctx, postID)
			if err != nil {
				return err
			}
			cache.UpdateAs(e.store, key, func(p models.Post, ok bool) (models.Post, bool) {
				if !ok {
					return p, false
				}
				p.Scrapped = res.Scrapped
				return p, true
			})
			return nil
		},
		invalidate: []cache.QueryKey{cache.PostsPrefix(), cache.MyScrapsKey()},
	})
}

func validatePost(in models.PostInput) string {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return "title is required"
	case strings.TrimSpace(in.Content) == "":
		return "content is required"
	default:
		return ""
	}
}

// CreatePost has no optimistic step: the server assigns the id.
func (e *Engine) CreatePost(ctx context.Context, in models.PostInput) (models.Post, error) {
	if msg := validatePost(in); msg != "" {
		return models.Post{}, e.reject("create_post", msg)
	}

	var created models.Post
	err := e.run(ctx, mutation{
		op:     "create_post",
		fields: map[string]interface{}{"category_id": in.CategoryID},
		commit: func(ctx context.Context) error {
			p, err := e.port.CreatePost(ctx, in)
			if err != nil {
				return err
			}
			created = p
			e.store.Set(cache.PostKey(p.ID), p)
			return nil
		},
		invalidate: []cache.QueryKey{cache.PostsPrefix()},
	})
	return created, err
}

// UpdatePost edits a post's title, content and category.
func (e *Engine) UpdatePost(ctx context.Context, postID int64, in models.PostInput) error {
	if msg := validatePost(in); msg != "" {
		return e.reject("update_post", msg)
	}

	key := cache.PostKey(postID)
	return e.run(ctx, mutation{
		op:     "update_post",
		fields: map[string]interface{}{"post_id": postID},
		keys:   []cache.QueryKey{key},
		apply: func() {
			cache.UpdateAs(e.store, key, func(p models.Post, ok bool) (models.Post, bool) {
				if !ok {
					return p, false
				}
				p.Title, p.Content, p.CategoryID = in.Title, in.Content, in.CategoryID
				return p, true
			})
		},
		commit: func(ctx context.Context) error {
			updated, err := e.port.UpdatePost(ctx, postID, in)
			if err != nil {
				return err
			}
			cache.UpdateAs(e.store, key, func(p models.Post, ok bool) (models.Post, bool) {
				if !ok {
					return p, false
				}
				if updated.Comments == nil {
					updated.Comments = p.Comments
				}
				return updated, true
			})
			return nil
		},
		invalidate: []cache.QueryKey{cache.PostsPrefix(), cache.MyScrapsKey()},
	})
}

// DeletePost removes a post and its comment list from the cache before the
// server confirms.
func (e *Engine) DeletePost(ctx context.Context, postID int64) error {
	key, commentsKey := cache.PostKey(postID), cache.CommentsKey(postID)
	return e.run(ctx, mutation{
		op:     "delete_post",
		fields: map[string]interface{}{"post_id": postID},
		keys:   []cache.QueryKey{key, commentsKey},
		apply: func() {
			e.store.Remove(key)
			e.store.Remove(commentsKey)
		},
		commit: func(ctx context.Context) error {
			return e.port.DeletePost(ctx, postID)
		},
		invalidate: []cache.QueryKey{cache.PostsPrefix(), cache.MyScrapsKey()},
	})
}
