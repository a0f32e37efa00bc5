// Package models contains data structures for the board's domain models.
package models

import (
	"net/url"
	"strconv"
	"time"
)

// Post represents a board post as seen by the current user.
type Post struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	CategoryID int64  `json:"categoryId"`
	AuthorID   int64  `json:"authorId"`
	Nickname   string `json:"nickname,omitempty"`
	// Liked and Scrapped are relative to the requesting user
	Liked        bool      `json:"liked"`
	LikeCount    int       `json:"likeCount"`
	Scrapped     bool      `json:"scrapped"`
	CommentCount int       `json:"commentCount"`
	Comments     []Comment `json:"comments,omitempty"`
	CreatedDate  time.Time `json:"createdDate"`
}

// Clone returns a copy that shares no slices with p.
func (p Post) Clone() any {
	if p.Comments != nil {
		p.Comments = append(make([]Comment, 0, len(p.Comments)), p.Comments...)
	}
	return p
}

// Posts is a post list view.
type Posts []Post

// Clone returns a deep copy of the list.
func (ps Posts) Clone() any {
	if ps == nil {
		return ps
	}
	out := make(Posts, len(ps))
	for i, p := range ps {
		out[i] = p.Clone().(Post)
	}
	return out
}

// PostInput is the payload for creating or editing a post.
type PostInput struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	CategoryID int64  `json:"categoryId"`
}

// LikeResult is the authoritative like state returned by a like toggle.
type LikeResult struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

// ScrapResult is the authoritative scrap state returned by a scrap toggle.
type ScrapResult struct {
	Scrapped bool `json:"scrapped"`
}

// PostFilter selects a page of the post list.
type PostFilter struct {
	CategoryID int64
	Page       int
	Size       int
	Query      string
}

// Values encodes the filter as query parameters, omitting zero fields.
func (f PostFilter) Values() url.Values {
	v := url.Values{}
	if f.CategoryID != 0 {
		v.Set("categoryId", strconv.FormatInt(f.CategoryID, 10))
	}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.Size > 0 {
		v.Set("size", strconv.Itoa(f.Size))
	}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	return v
}

// KeyPart is the canonical form of the filter used inside cache keys.
// Parameter order never matters: url.Values.Encode sorts by name.
func (f PostFilter) KeyPart() string {
	return f.Values().Encode()
}
