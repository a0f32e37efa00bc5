package mutation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"boardsync/internal/cache"
	"boardsync/internal/models"
	"boardsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func newEngine(port *testutil.PortStub) (*Engine, *cache.Store, *ToastQueue) {
	store := cache.New(cache.WithClock(func() time.Time { return t0 }))
	toasts := NewToastQueue(8)
	return New(store, port, WithToaster(toasts), WithClock(func() time.Time { return t0 })), store, toasts
}

func seedPost(store *cache.Store) {
	store.Set(cache.PostKey(1), models.Post{ID: 1, Title: "hello", LikeCount: 4})
}

func seedComments(store *cache.Store) {
	store.Set(cache.CommentsKey(1), models.Comments{
		{ID: 10, PostID: 1, Content: "first", CreatedDate: t0},
		{ID: 11, PostID: 1, Content: "second", CreatedDate: t0.Add(time.Minute)},
		{ID: 12, PostID: 1, Content: "third", CreatedDate: t0.Add(2 * time.Minute), LikeCount: 2},
	})
}

func post(t *testing.T, store *cache.Store, id int64) models.Post {
	t.Helper()
	p, ok := cache.GetAs[models.Post](store, cache.PostKey(id))
	require.True(t, ok)
	return p
}

func commentIDs(t *testing.T, store *cache.Store, postID int64) []int64 {
	t.Helper()
	cs, ok := cache.GetAs[models.Comments](store, cache.CommentsKey(postID))
	require.True(t, ok)
	ids := make([]int64, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}

func TestToggleLike_OptimisticThenReconciled(t *testing.T) {
	gate := testutil.NewGate()
	port := &testutil.PortStub{
		ToggleLikeFn: func(ctx context.Context, _ int64) (models.LikeResult, error) {
			if err := gate.Wait(ctx); err != nil {
				return models.LikeResult{}, err
			}
			return models.LikeResult{Liked: true, LikeCount: 7}, nil
		},
	}
	e, store, _ := newEngine(port)
	seedPost(store)

	done := make(chan error, 1)
	go func() { done <- e.ToggleLike(context.Background(), 1) }()
	gate.Entered()

	p := post(t, store, 1)
	assert.True(t, p.Liked)
	assert.Equal(t, 5, p.LikeCount)

	// A refetch landing mid-flight must survive reconciliation.
	cache.UpdateAs(store, cache.PostKey(1), func(p models.Post, ok bool) (models.Post, bool) {
		p.Title = "edited elsewhere"
		return p, ok
	})

	gate.Release()
	require.NoError(t, <-done)

	p = post(t, store, 1)
	assert.True(t, p.Liked)
	assert.Equal(t, 7, p.LikeCount)
	assert.Equal(t, "edited elsewhere", p.Title)
}

func TestToggleLike_RollbackIsExact(t *testing.T) {
	port := &testutil.PortStub{
		ToggleLikeFn: func(context.Context, int64) (models.LikeResult, error) {
			return models.LikeResult{}, models.NewNetworkError(errors.New("dial tcp: refused"))
		},
	}
	e, store, toasts := newEngine(port)
	seedPost(store)
	store.InvalidatePost(1)
	before := store.Snapshot(cache.PostKey(1))

	err := e.ToggleLike(context.Background(), 1)

	assert.ErrorIs(t, err, models.ErrNetworkUnavailable)
	assert.Equal(t, before, store.Snapshot(cache.PostKey(1)))
	select {
	case toast := <-toasts.C():
		assert.Equal(t, models.CodeNetworkUnavailable, toast.Code)
		assert.Equal(t, "toggle_like", toast.Operation)
	default:
		t.Fatal("expected a toast")
	}
}

func TestToggleLike_UnlikeNeverNegative(t *testing.T) {
	gate := testutil.NewGate()
	port := &testutil.PortStub{
		ToggleLikeFn: func(ctx context.Context, _ int64) (models.LikeResult, error) {
			_ = gate.Wait(ctx)
			return models.LikeResult{Liked: false, LikeCount: 0}, nil
		},
	}
	e, store, _ := newEngine(port)
	store.Set(cache.PostKey(1), models.Post{ID: 1, Liked: true, LikeCount: 0})

	done := make(chan error, 1)
	go func() { done <- e.ToggleLike(context.Background(), 1) }()
	gate.Entered()

	assert.Equal(t, 0, post(t, store, 1).LikeCount)
	gate.Release()
	require.NoError(t, <-done)
}

// overlappingLikes starts two ToggleLike calls on post 1, the second
// applied while the first is still in flight. The returned gates hold each
// network call; results are reported in call order.
func overlappingLikes(t *testing.T, results [2]models.LikeResult, errs [2]error) (*cache.Store, [2]*testutil.Gate, [2]chan error) {
	t.Helper()
	gates := [2]*testutil.Gate{testutil.NewGate(), testutil.NewGate()}
	var calls atomic.Int32
	port := &testutil.PortStub{
		ToggleLikeFn: func(ctx context.Context, _ int64) (models.LikeResult, error) {
			i := calls.Add(1) - 1
			if err := gates[i].Wait(ctx); err != nil {
				return models.LikeResult{}, err
			}
			return results[i], errs[i]
		},
	}
	e, store, _ := newEngine(port)
	seedPost(store)

	done := [2]chan error{make(chan error, 1), make(chan error, 1)}
	go func() { done[0] <- e.ToggleLike(context.Background(), 1) }()
	gates[0].Entered()
	go func() { done[1] <- e.ToggleLike(context.Background(), 1) }()
	gates[1].Entered()

	// second apply flipped the first one back
	p := post(t, store, 1)
	assert.False(t, p.Liked)
	assert.Equal(t, 4, p.LikeCount)
	return store, gates, done
}

func TestToggleLike_OverlappingFirstFails(t *testing.T) {
	offline := models.NewNetworkError(errors.New("dial tcp: refused"))
	store, gates, done := overlappingLikes(t,
		[2]models.LikeResult{{}, {Liked: true, LikeCount: 5}},
		[2]error{offline, nil},
	)

	gates[0].Release()
	assert.ErrorIs(t, <-done[0], models.ErrNetworkUnavailable)

	// the first snapshot wins over the second optimistic write
	p := post(t, store, 1)
	assert.False(t, p.Liked)
	assert.Equal(t, 4, p.LikeCount)

	gates[1].Release()
	require.NoError(t, <-done[1])

	p = post(t, store, 1)
	assert.True(t, p.Liked)
	assert.Equal(t, 5, p.LikeCount)
}

func TestToggleLike_OverlappingSecondFails(t *testing.T) {
	offline := models.NewNetworkError(errors.New("dial tcp: refused"))
	store, gates, done := overlappingLikes(t,
		[2]models.LikeResult{{Liked: true, LikeCount: 5}, {}},
		[2]error{nil, offline},
	)

	gates[0].Release()
	require.NoError(t, <-done[0])

	p := post(t, store, 1)
	assert.True(t, p.Liked)
	assert.Equal(t, 5, p.LikeCount)

	gates[1].Release()
	assert.ErrorIs(t, <-done[1], models.ErrNetworkUnavailable)

	// restoring the second snapshot lands on what the server committed
	p = post(t, store, 1)
	assert.True(t, p.Liked)
	assert.Equal(t, 5, p.LikeCount)
}

func TestToggleScrap_InvalidatesListViews(t *testing.T) {
	port := &testutil.PortStub{
		ToggleScrapFn: func(context.Context, int64) (models.ScrapResult, error) {
			return models.ScrapResult{Scrapped: true}, nil
		},
	}
	e, store, _ := newEngine(port)
	seedPost(store)
	store.Set(cache.PostsKey(models.PostFilter{CategoryID: 1}), models.Posts{{ID: 1}})
	store.Set(cache.PostsKey(models.PostFilter{Page: 2}), models.Posts{})
	store.Set(cache.MyScrapsKey(), models.Scraps{})
	store.Set(cache.NotificationsKey(), models.Notifications{})

	require.NoError(t, e.ToggleScrap(context.Background(), 1))

	assert.True(t, post(t, store, 1).Scrapped)
	for _, k := range []cache.QueryKey{
		cache.PostsKey(models.PostFilter{CategoryID: 1}),
		cache.PostsKey(models.PostFilter{Page: 2}),
		cache.MyScrapsKey(),
	} {
		entry, _ := store.Get(k)
		assert.True(t, entry.IsStale, k.String())
	}
	entry, _ := store.Get(cache.NotificationsKey())
	assert.False(t, entry.IsStale)
	entry, _ = store.Get(cache.PostKey(1))
	assert.False(t, entry.IsStale)
}

func TestToggleScrap_UnauthorizedRollsBackWithoutToast(t *testing.T) {
	port := &testutil.PortStub{
		ToggleScrapFn: func(context.Context, int64) (models.ScrapResult, error) {
			return models.ScrapResult{}, models.NewUnauthorizedError("session expired")
		},
	}
	e, store, toasts := newEngine(port)
	seedPost(store)
	before := store.Snapshot(cache.PostKey(1))

	err := e.ToggleScrap(context.Background(), 1)

	assert.True(t, models.IsUnauthorized(err))
	assert.Equal(t, before, store.Snapshot(cache.PostKey(1)))
	assert.Empty(t, toasts.C())
}

func TestDeleteComment_RollbackRestoresPosition(t *testing.T) {
	gate := testutil.NewGate()
	port := &testutil.PortStub{
		DeleteCommentFn: func(ctx context.Context, _ int64) error {
			_ = gate.Wait(ctx)
			return models.NewServerFault(500, "")
		},
	}
	e, store, toasts := newEngine(port)
	seedComments(store)
	before := store.Snapshot(cache.CommentsKey(1))

	done := make(chan error, 1)
	go func() { done <- e.DeleteComment(context.Background(), 1, 11) }()
	gate.Entered()
	assert.Equal(t, []int64{10, 12}, commentIDs(t, store, 1))

	gate.Release()
	assert.ErrorIs(t, <-done, models.ErrServerFault)
	assert.Equal(t, []int64{10, 11, 12}, commentIDs(t, store, 1))
	assert.Equal(t, before, store.Snapshot(cache.CommentsKey(1)))
	assert.Len(t, toasts.C(), 1)
}

func TestDeleteComment_InvalidatesPost(t *testing.T) {
	e, store, _ := newEngine(&testutil.PortStub{})
	seedPost(store)
	seedComments(store)

	require.NoError(t, e.DeleteComment(context.Background(), 1, 10))

	assert.Equal(t, []int64{11, 12}, commentIDs(t, store, 1))
	entry, _ := store.Get(cache.PostKey(1))
	assert.True(t, entry.IsStale)
}

func TestUpdateComment_RollbackRestoresContent(t *testing.T) {
	port := &testutil.PortStub{
		UpdateCommentFn: func(context.Context, int64, models.CommentInput) (models.Comment, error) {
			return models.Comment{}, models.NewValidationError("comment is locked")
		},
	}
	e, store, toasts := newEngine(port)
	seedComments(store)
	before := store.Snapshot(cache.CommentsKey(1))

	err := e.UpdateComment(context.Background(), 1, 12, "changed")

	assert.ErrorIs(t, err, models.ErrValidationRejected)
	assert.Equal(t, before, store.Snapshot(cache.CommentsKey(1)))
	toast := <-toasts.C()
	assert.Equal(t, "comment is locked", toast.Message)
}

func TestCreateComment_ProvisionalThenReplaced(t *testing.T) {
	gate := testutil.NewGate()
	port := &testutil.PortStub{
		CreateCommentFn: func(ctx context.Context, postID int64, in models.CommentInput) (models.Comment, error) {
			_ = gate.Wait(ctx)
			return models.Comment{ID: 99, PostID: postID, Content: in.Content, CreatedDate: t0.Add(time.Hour)}, nil
		},
	}
	e, store, _ := newEngine(port)
	seedComments(store)

	type result struct {
		c   models.Comment
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := e.CreateComment(context.Background(), 1, "fourth")
		done <- result{c, err}
	}()
	gate.Entered()

	cs, _ := cache.GetAs[models.Comments](store, cache.CommentsKey(1))
	require.Len(t, cs, 4)
	assert.Negative(t, cs[3].ID)
	assert.True(t, cs[3].Pending)

	gate.Release()
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, int64(99), res.c.ID)
	assert.Equal(t, []int64{10, 11, 12, 99}, commentIDs(t, store, 1))
}

func TestCreateComment_RejectsBlankLocally(t *testing.T) {
	port := &testutil.PortStub{}
	e, store, toasts := newEngine(port)
	seedComments(store)

	_, err := e.CreateComment(context.Background(), 1, "   ")

	assert.ErrorIs(t, err, models.ErrValidationRejected)
	assert.Zero(t, port.Calls("CreateComment"))
	assert.Len(t, toasts.C(), 1)
}

func TestToggleCommentLike(t *testing.T) {
	port := &testutil.PortStub{
		ToggleCommentLikeFn: func(context.Context, int64) (models.LikeResult, error) {
			return models.LikeResult{Liked: true, LikeCount: 6}, nil
		},
	}
	e, store, _ := newEngine(port)
	seedComments(store)

	require.NoError(t, e.ToggleCommentLike(context.Background(), 1, 12))

	cs, _ := cache.GetAs[models.Comments](store, cache.CommentsKey(1))
	assert.True(t, cs[2].Liked)
	assert.Equal(t, 6, cs[2].LikeCount)
}

func TestMarkNotificationRead(t *testing.T) {
	seed := func(store *cache.Store) {
		store.Set(cache.NotificationsKey(), models.Notifications{
			{ID: 2, Message: "b"},
			{ID: 1, Message: "a", Read: true},
		})
		store.Set(cache.UnreadCountKey(), models.UnreadCount{Count: 1})
	}

	t.Run("success decrements unread count", func(t *testing.T) {
		e, store, _ := newEngine(&testutil.PortStub{})
		seed(store)

		require.NoError(t, e.MarkNotificationRead(context.Background(), 2))

		ns, _ := cache.GetAs[models.Notifications](store, cache.NotificationsKey())
		assert.True(t, ns[0].Read)
		uc, _ := cache.GetAs[models.UnreadCount](store, cache.UnreadCountKey())
		assert.Zero(t, uc.Count)
	})

	t.Run("already read leaves count", func(t *testing.T) {
		e, store, _ := newEngine(&testutil.PortStub{})
		seed(store)

		require.NoError(t, e.MarkNotificationRead(context.Background(), 1))

		uc, _ := cache.GetAs[models.UnreadCount](store, cache.UnreadCountKey())
		assert.Equal(t, 1, uc.Count)
	})

	t.Run("failure restores both keys", func(t *testing.T) {
		port := &testutil.PortStub{
			MarkNotificationReadFn: func(context.Context, int64) error { return models.NewServerFault(503, "") },
		}
		e, store, _ := newEngine(port)
		seed(store)
		list, count := store.Snapshot(cache.NotificationsKey()), store.Snapshot(cache.UnreadCountKey())

		assert.Error(t, e.MarkNotificationRead(context.Background(), 2))
		assert.Equal(t, list, store.Snapshot(cache.NotificationsKey()))
		assert.Equal(t, count, store.Snapshot(cache.UnreadCountKey()))
	})
}

func TestCreatePost_SetsDetailAndInvalidatesLists(t *testing.T) {
	port := &testutil.PortStub{
		CreatePostFn: func(_ context.Context, in models.PostInput) (models.Post, error) {
			return models.Post{ID: 5, Title: in.Title, Content: in.Content}, nil
		},
	}
	e, store, _ := newEngine(port)
	store.Set(cache.PostsKey(models.PostFilter{}), models.Posts{})

	p, err := e.CreatePost(context.Background(), models.PostInput{Title: "t", Content: "c"})
	require.NoError(t, err)

	assert.Equal(t, int64(5), p.ID)
	assert.Equal(t, "t", post(t, store, 5).Title)
	entry, _ := store.Get(cache.PostsKey(models.PostFilter{}))
	assert.True(t, entry.IsStale)

	_, err = e.CreatePost(context.Background(), models.PostInput{Content: "c"})
	assert.ErrorIs(t, err, models.ErrValidationRejected)
}

func TestUpdatePost_KeepsEmbeddedComments(t *testing.T) {
	port := &testutil.PortStub{
		UpdatePostFn: func(_ context.Context, id int64, in models.PostInput) (models.Post, error) {
			return models.Post{ID: id, Title: in.Title, Content: in.Content, LikeCount: 4}, nil
		},
	}
	e, store, _ := newEngine(port)
	store.Set(cache.PostKey(1), models.Post{ID: 1, Title: "old", Comments: []models.Comment{{ID: 3}}})

	require.NoError(t, e.UpdatePost(context.Background(), 1, models.PostInput{Title: "new", Content: "body"}))

	p := post(t, store, 1)
	assert.Equal(t, "new", p.Title)
	assert.Len(t, p.Comments, 1)
}

func TestDeletePost_RollbackRestoresEntries(t *testing.T) {
	port := &testutil.PortStub{
		DeletePostFn: func(context.Context, int64) error {
			return models.NewNotFoundError("post", 1)
		},
	}
	e, store, toasts := newEngine(port)
	seedPost(store)
	seedComments(store)
	before := store.Snapshot(cache.PostKey(1))

	err := e.DeletePost(context.Background(), 1)

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, before, store.Snapshot(cache.PostKey(1)))
	assert.Equal(t, []int64{10, 11, 12}, commentIDs(t, store, 1))
	assert.Equal(t, "This item no longer exists.", (<-toasts.C()).Message)
}

func TestToastQueue_DropsWhenFull(t *testing.T) {
	q := NewToastQueue(1)
	q.Toast(Toast{Message: "a"})
	q.Toast(Toast{Message: "b"})

	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, "a", (<-q.C()).Message)
}
