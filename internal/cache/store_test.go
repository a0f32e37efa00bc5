package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"boardsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func fetchValue(v any) FetchFunc {
	return func(context.Context) (any, error) { return v, nil }
}

func TestQueryKey_HasPrefix(t *testing.T) {
	list := PostsKey(models.PostFilter{CategoryID: 2, Page: 1})

	assert.True(t, list.HasPrefix(PostsPrefix()))
	assert.True(t, list.HasPrefix(list))
	assert.False(t, PostKey(2).HasPrefix(PostsPrefix()))
	assert.False(t, PostsPrefix().HasPrefix(list))
	assert.True(t, PostKey(2).HasPrefix(QueryKey{}))
}

func TestQueryKey_StructuralEquality(t *testing.T) {
	a := PostsKey(models.PostFilter{CategoryID: 3, Page: 2, Size: 10})
	b := PostsKey(models.PostFilter{Size: 10, Page: 2, CategoryID: 3})

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, Key("a/b").String(), Key("a", "b").String())
}

func TestStore_GetReturnsPrivateCopy(t *testing.T) {
	s := New(WithClock(fixedClock()))
	s.Set(CommentsKey(1), models.Comments{{ID: 1, Content: "first"}})

	got, ok := GetAs[models.Comments](s, CommentsKey(1))
	require.True(t, ok)
	got[0].Content = "mutated"

	again, _ := GetAs[models.Comments](s, CommentsKey(1))
	assert.Equal(t, "first", again[0].Content)
}

func TestStore_SetMarksFresh(t *testing.T) {
	s := New(WithClock(fixedClock()))
	s.Set(PostKey(1), models.Post{ID: 1})
	s.Invalidate(PostKey(1))

	e, _ := s.Get(PostKey(1))
	require.True(t, e.IsStale)

	s.Set(PostKey(1), models.Post{ID: 1, LikeCount: 2})
	e, _ = s.Get(PostKey(1))
	assert.False(t, e.IsStale)
	assert.Equal(t, fixedClock()(), e.FetchedAt)
}

func TestStore_UpdateAbsent(t *testing.T) {
	s := New()

	var sawOK bool
	changed := UpdateAs(s, UnreadCountKey(), func(old models.UnreadCount, ok bool) (models.UnreadCount, bool) {
		sawOK = ok
		return models.UnreadCount{Count: old.Count + 1}, true
	})

	require.True(t, changed)
	assert.False(t, sawOK)
	e, ok := s.Get(UnreadCountKey())
	require.True(t, ok)
	assert.Equal(t, models.UnreadCount{Count: 1}, e.Data)
	assert.True(t, e.IsStale, "an entry never fetched is stale")
}

func TestStore_UpdateKeepFalseIsNoop(t *testing.T) {
	s := New()
	s.Set(PostKey(1), models.Post{ID: 1, LikeCount: 4})
	before := s.Snapshot(PostKey(1))

	changed := UpdateAs(s, PostKey(1), func(old models.Post, ok bool) (models.Post, bool) {
		old.LikeCount = 100
		return old, false
	})

	assert.False(t, changed)
	assert.Equal(t, before, s.Snapshot(PostKey(1)))
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := New(WithClock(fixedClock()))
	s.Set(PostKey(1), models.Post{ID: 1, Liked: false, LikeCount: 4})
	snap := s.Snapshot(PostKey(1))
	absent := s.Snapshot(PostKey(2))

	UpdateAs(s, PostKey(1), func(p models.Post, _ bool) (models.Post, bool) {
		p.Liked, p.LikeCount = true, 5
		return p, true
	})
	s.Set(PostKey(2), models.Post{ID: 2})

	s.Restore(snap)
	s.Restore(absent)

	assert.Equal(t, snap, s.Snapshot(PostKey(1)))
	_, ok := s.Get(PostKey(2))
	assert.False(t, ok)
}

func TestStore_InvalidatePrefix(t *testing.T) {
	s := New()
	s.Set(PostsKey(models.PostFilter{Page: 1}), models.Posts{})
	s.Set(PostsKey(models.PostFilter{Page: 2}), models.Posts{})
	s.Set(PostKey(1), models.Post{ID: 1})

	n := s.InvalidatePostLists()

	assert.Equal(t, 2, n)
	e, _ := s.Get(PostsKey(models.PostFilter{Page: 2}))
	assert.True(t, e.IsStale)
	e, _ = s.Get(PostKey(1))
	assert.False(t, e.IsStale)
	assert.Zero(t, s.Invalidate(MyScrapsKey()))
}

func TestStore_InvalidateRefetchesObserved(t *testing.T) {
	s := New()
	s.Set(PostKey(1), models.Post{ID: 1, LikeCount: 1})
	s.Set(PostKey(2), models.Post{ID: 2, LikeCount: 1})

	var calls atomic.Int32
	unobserve := s.Observe(PostKey(1), func(context.Context) (any, error) {
		calls.Add(1)
		return models.Post{ID: 1, LikeCount: 9}, nil
	})
	defer unobserve()

	s.Invalidate(PostKey(1))
	s.Invalidate(PostKey(2))
	s.Wait()

	assert.Equal(t, int32(1), calls.Load())
	p, _ := GetAs[models.Post](s, PostKey(1))
	assert.Equal(t, 9, p.LikeCount)
	e, _ := s.Get(PostKey(2))
	assert.True(t, e.IsStale, "unobserved entries wait for the next observation")
}

func TestStore_ObserveFetchesMissing(t *testing.T) {
	s := New()
	unobserve := s.Observe(MyScrapsKey(), fetchValue(models.Scraps{{ID: 1}}))
	s.Wait()

	assert.True(t, s.Observed(MyScrapsKey()))
	scraps, ok := GetAs[models.Scraps](s, MyScrapsKey())
	require.True(t, ok)
	assert.Len(t, scraps, 1)

	unobserve()
	unobserve()
	assert.False(t, s.Observed(MyScrapsKey()))
}

func TestStore_FetchLatestWins(t *testing.T) {
	s := New()
	key := PostsKey(models.PostFilter{Page: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	var slowErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowErr = s.Fetch(context.Background(), key, func(context.Context) (any, error) {
			close(started)
			<-release
			return models.Posts{{ID: 1, Title: "old"}}, nil
		})
	}()
	<-started

	_, err := s.Fetch(context.Background(), key, fetchValue(models.Posts{{ID: 1, Title: "new"}}))
	require.NoError(t, err)

	close(release)
	wg.Wait()

	assert.ErrorIs(t, slowErr, ErrSuperseded)
	posts, _ := GetAs[models.Posts](s, key)
	assert.Equal(t, "new", posts[0].Title)
}

func TestStore_FetchErrorKeepsData(t *testing.T) {
	s := New()
	s.Set(PostKey(1), models.Post{ID: 1, Title: "kept"})
	boom := errors.New("boom")

	e, err := s.Fetch(context.Background(), PostKey(1), func(context.Context) (any, error) { return nil, boom })

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, e.Err, boom)
	p, _ := Value[models.Post](e)
	assert.Equal(t, "kept", p.Title)
}

func TestStore_LoadUsesFreshEntry(t *testing.T) {
	s := New()
	var calls int
	fetch := func(context.Context) (any, error) {
		calls++
		return models.Post{ID: 1}, nil
	}

	_, err := s.Load(context.Background(), PostKey(1), fetch)
	require.NoError(t, err)
	_, err = s.Load(context.Background(), PostKey(1), fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	s.InvalidatePost(1)
	_, err = s.Load(context.Background(), PostKey(1), fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestStore_ClearDiscardsInFlight(t *testing.T) {
	s := New()
	s.Set(NotificationsKey(), models.Notifications{{ID: 1}})
	unobserve := s.Observe(NotificationsKey(), fetchValue(models.Notifications{}))
	defer unobserve()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.Fetch(context.Background(), UnreadCountKey(), func(context.Context) (any, error) {
			close(started)
			<-release
			return models.UnreadCount{Count: 3}, nil
		})
		done <- err
	}()
	<-started

	s.Clear()
	close(release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Zero(t, s.Len())
	assert.False(t, s.Observed(NotificationsKey()))
}

func TestStore_SubscribeNotifies(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var seen []string
	cancel := s.Subscribe(func(k QueryKey) {
		mu.Lock()
		defer mu.Unlock()
		if k == nil {
			seen = append(seen, "<clear>")
			return
		}
		seen = append(seen, k.String())
	})

	s.Set(PostKey(1), models.Post{ID: 1})
	s.Remove(PostKey(1))
	s.Clear()
	cancel()
	s.Set(PostKey(2), models.Post{ID: 2})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"post/1", "post/1", "<clear>"}, seen)
}

func TestStore_RestoreAfterClearIsIgnored(t *testing.T) {
	s := New()
	s.Set(PostKey(1), models.Post{ID: 1, Title: "previous user"})
	snap := s.Snapshot(PostKey(1))

	s.Clear()

	assert.False(t, s.Restore(snap))
	_, ok := s.Get(PostKey(1))
	assert.False(t, ok)
}
