// Package query loads the read-side views from the entity cache, fetching
// through the remote port when an entry is missing or stale.
package query

import (
	"context"
	"time"

	"boardsync/internal/cache"
	"boardsync/internal/models"
	"boardsync/internal/ranking"
	"boardsync/internal/remote"
)

// Result is a view's data plus its cache state. Err is set when the latest
// fetch failed; Data then holds the last good value, if any.
type Result[T any] struct {
	Data      T
	Stale     bool
	FetchedAt time.Time
	Err       error
}

// Thread is a post's comments in display order. The first BestCount
// comments are featured.
type Thread struct {
	Comments  []models.Comment
	BestCount int
}

type Views struct {
	store *cache.Store
	port  remote.Port
}

func New(store *cache.Store, port remote.Port) *Views {
	return &Views{store: store, port: port}
}

func load[T any](ctx context.Context, store *cache.Store, key cache.QueryKey, fetch func(context.Context) (T, error)) (Result[T], error) {
	e, err := store.Load(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	res := Result[T]{Stale: e.IsStale, FetchedAt: e.FetchedAt, Err: e.Err}
	if v, ok := cache.Value[T](e); ok {
		res.Data = v
	}
	return res, err
}

func observe[T any](store *cache.Store, key cache.QueryKey, fetch func(context.Context) (T, error)) func() {
	return store.Observe(key, func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

func (v *Views) fetchPosts(filter models.PostFilter) func(context.Context) (models.Posts, error) {
	return func(ctx context.Context) (models.Posts, error) {
		return v.port.FetchPosts(ctx, filter)
	}
}

func (v *Views) fetchPost(postID int64) func(context.Context) (models.Post, error) {
	return func(ctx context.Context) (models.Post, error) {
		return v.port.FetchPost(ctx, postID)
	}
}

func (v *Views) fetchComments(postID int64) func(context.Context) (models.Comments, error) {
	return func(ctx context.Context) (models.Comments, error) {
		return v.port.FetchComments(ctx, postID)
	}
}

func (v *Views) fetchUnreadCount(ctx context.Context) (models.UnreadCount, error) {
	n, err := v.port.FetchUnreadCount(ctx)
	return models.UnreadCount{Count: n}, err
}

// Posts is one page of the post list.
func (v *Views) Posts(ctx context.Context, filter models.PostFilter) (Result[models.Posts], error) {
	return load(ctx, v.store, cache.PostsKey(filter), v.fetchPosts(filter))
}

// Post is a post's detail. Embedded comments are returned in display order.
func (v *Views) Post(ctx context.Context, postID int64) (Result[models.Post], error) {
	res, err := load(ctx, v.store, cache.PostKey(postID), v.fetchPost(postID))
	if len(res.Data.Comments) > 0 {
		res.Data.Comments = ranking.Rank(res.Data.Comments)
	}
	return res, err
}

// Comments is a post's comment thread, ranked.
func (v *Views) Comments(ctx context.Context, postID int64) (Result[Thread], error) {
	res, err := load(ctx, v.store, cache.CommentsKey(postID), v.fetchComments(postID))
	out := Result[Thread]{Stale: res.Stale, FetchedAt: res.FetchedAt, Err: res.Err}
	out.Data.Comments = ranking.Rank(res.Data)
	out.Data.BestCount = len(ranking.Best(res.Data))
	return out, err
}

func (v *Views) MyScraps(ctx context.Context) (Result[models.Scraps], error) {
	return load(ctx, v.store, cache.MyScrapsKey(), v.port.FetchMyScraps)
}

func (v *Views) Notifications(ctx context.Context) (Result[models.Notifications], error) {
	return load(ctx, v.store, cache.NotificationsKey(), v.port.FetchNotifications)
}

func (v *Views) UnreadCount(ctx context.Context) (Result[int], error) {
	res, err := load(ctx, v.store, cache.UnreadCountKey(), v.fetchUnreadCount)
	return Result[int]{Data: res.Data.Count, Stale: res.Stale, FetchedAt: res.FetchedAt, Err: res.Err}, err
}

// The Observe methods keep a view live: while observed, invalidation
// refetches it in the background. Each returns the function that ends the
// observation.

func (v *Views) ObservePosts(filter models.PostFilter) func() {
	return observe(v.store, cache.PostsKey(filter), v.fetchPosts(filter))
}

func (v *Views) ObservePost(postID int64) func() {
	return observe(v.store, cache.PostKey(postID), v.fetchPost(postID))
}

func (v *Views) ObserveComments(postID int64) func() {
	return observe(v.store, cache.CommentsKey(postID), v.fetchComments(postID))
}

func (v *Views) ObserveMyScraps() func() {
	return observe(v.store, cache.MyScrapsKey(), v.port.FetchMyScraps)
}

func (v *Views) ObserveNotifications() func() {
	return observe(v.store, cache.NotificationsKey(), v.port.FetchNotifications)
}

func (v *Views) ObserveUnreadCount() func() {
	return observe(v.store, cache.UnreadCountKey(), v.fetchUnreadCount)
}
