package cache

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"boardsync/internal/models"
)

// Key segments identifying each cached resource kind.
const (
	PostSegment          = "post"
	PostsSegment         = "posts"
	CommentsSegment      = "comments"
	MyScrapsSegment      = "my-scraps"
	NotificationsSegment = "notifications"
	UnreadCountSegment   = "unread-count"
)

// QueryKey is an ordered tuple of segments. Keys are compared segment by
// segment, so ("posts") is a prefix of ("posts", "categoryId=2").
type QueryKey []string

type keyPart interface {
	KeyPart() string
}

// Key builds a QueryKey, formatting each part as a single segment.
func Key(parts ...any) QueryKey {
	k := make(QueryKey, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			k = append(k, v)
		case int:
			k = append(k, strconv.Itoa(v))
		case int64:
			k = append(k, strconv.FormatInt(v, 10))
		case keyPart:
			k = append(k, v.KeyPart())
		case fmt.Stringer:
			k = append(k, v.String())
		default:
			k = append(k, fmt.Sprint(v))
		}
	}
	return k
}

// HasPrefix reports whether p matches the leading segments of k.
func (k QueryKey) HasPrefix(p QueryKey) bool {
	return len(p) <= len(k) && slices.Equal(k[:len(p)], p)
}

// Equal reports structural equality.
func (k QueryKey) Equal(o QueryKey) bool {
	return slices.Equal(k, o)
}

// Kind is the first segment, used as a metrics label.
func (k QueryKey) Kind() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// String renders the key as an escaped path. Distinct keys render distinctly.
func (k QueryKey) String() string {
	escaped := make([]string, len(k))
	for i, s := range k {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

func PostKey(postID int64) QueryKey {
	return Key(PostSegment, postID)
}

// PostsKey identifies one page of a post listing. Filters that differ only
// in field order produce the same key.
func PostsKey(filter models.PostFilter) QueryKey {
	return Key(PostsSegment, filter)
}

// PostsPrefix matches every post listing.
func PostsPrefix() QueryKey {
	return Key(PostsSegment)
}

func CommentsKey(postID int64) QueryKey {
	return Key(CommentsSegment, postID)
}

func MyScrapsKey() QueryKey {
	return Key(MyScrapsSegment)
}

func NotificationsKey() QueryKey {
	return Key(NotificationsSegment)
}

func UnreadCountKey() QueryKey {
	return Key(UnreadCountSegment)
}

// InvalidatePost marks a post detail stale.
func (s *Store) InvalidatePost(postID int64) int {
	return s.Invalidate(PostKey(postID))
}

// InvalidatePostLists marks every post listing stale.
func (s *Store) InvalidatePostLists() int {
	return s.Invalidate(PostsPrefix())
}

// InvalidateComments marks a post's comment list stale.
func (s *Store) InvalidateComments(postID int64) int {
	return s.Invalidate(CommentsKey(postID))
}
