package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"boardsync/internal/cache"
	"boardsync/internal/models"
	"boardsync/internal/mutation"
	"boardsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func tenComments() models.Comments {
	likes := []int{0, 7, 1, 9, 0, 5, 2, 0, 12, 3}
	cs := make(models.Comments, len(likes))
	for i, l := range likes {
		cs[i] = models.Comment{
			ID:          int64(i + 1),
			PostID:      1,
			LikeCount:   l,
			CreatedDate: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return cs
}

func TestComments_Ranked(t *testing.T) {
	port := &testutil.PortStub{
		FetchCommentsFn: func(context.Context, int64) (models.Comments, error) { return tenComments(), nil },
	}
	v := New(cache.New(), port)

	res, err := v.Comments(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Data.BestCount)
	ids := make([]int64, 0, len(res.Data.Comments))
	for _, c := range res.Data.Comments {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{9, 4, 2, 1, 3, 5, 6, 7, 8, 10}, ids)
}

func TestPost_ServedFromCacheUntilInvalidated(t *testing.T) {
	port := &testutil.PortStub{}
	store := cache.New()
	v := New(store, port)

	_, err := v.Post(context.Background(), 3)
	require.NoError(t, err)
	res, err := v.Post(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Data.ID)
	assert.Equal(t, 1, port.Calls("FetchPost"))

	store.InvalidatePost(3)
	_, err = v.Post(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, port.Calls("FetchPost"))
}

func TestNotifications_FailedRefetchKeepsData(t *testing.T) {
	fail := false
	port := &testutil.PortStub{
		FetchNotificationsFn: func(context.Context) (models.Notifications, error) {
			if fail {
				return nil, models.NewNetworkError(errors.New("offline"))
			}
			return models.Notifications{{ID: 1, Message: "hi"}}, nil
		},
	}
	store := cache.New()
	v := New(store, port)

	_, err := v.Notifications(context.Background())
	require.NoError(t, err)

	fail = true
	store.Invalidate(cache.NotificationsKey())
	res, err := v.Notifications(context.Background())

	assert.ErrorIs(t, err, models.ErrNetworkUnavailable)
	assert.ErrorIs(t, res.Err, models.ErrNetworkUnavailable)
	assert.True(t, res.Stale)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "hi", res.Data[0].Message)
}

func TestUnreadCount(t *testing.T) {
	port := &testutil.PortStub{
		FetchUnreadCountFn: func(context.Context) (int, error) { return 4, nil },
	}
	v := New(cache.New(), port)

	res, err := v.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Data)
}

func TestScrapToggle_RefetchesObservedScraps(t *testing.T) {
	port := &testutil.PortStub{
		ToggleScrapFn: func(context.Context, int64) (models.ScrapResult, error) {
			return models.ScrapResult{Scrapped: true}, nil
		},
		FetchMyScrapsFn: func(context.Context) (models.Scraps, error) {
			return models.Scraps{{ID: 1, PostID: 1}}, nil
		},
	}
	store := cache.New()
	v := New(store, port)
	engine := mutation.New(store, port)

	stop := v.ObserveMyScraps()
	defer stop()
	store.Wait()
	require.Equal(t, 1, port.Calls("FetchMyScraps"))

	store.Set(cache.PostKey(1), models.Post{ID: 1})
	require.NoError(t, engine.ToggleScrap(context.Background(), 1))
	store.Wait()

	assert.Equal(t, 2, port.Calls("FetchMyScraps"))
	res, err := v.MyScraps(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, 2, port.Calls("FetchMyScraps"))
}
