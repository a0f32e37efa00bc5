package models

import "time"

// Scrap is a bookmarked post row in the current user's scrap list. It is a
// read model and does not own the post it points at.
type Scrap struct {
	ID              int64     `json:"scrapId"`
	PostID          int64     `json:"postId"`
	AuthorNickname  string    `json:"authorNickname"`
	PostTitle       string    `json:"postTitle"`
	PostCreatedDate time.Time `json:"postCreatedDate"`
	CreatedDate     time.Time `json:"createdDate"`
}

// Scraps is the current user's scrap list.
type Scraps []Scrap

// Clone returns a copy of the list.
func (ss Scraps) Clone() any {
	if ss == nil {
		return ss
	}
	return append(make(Scraps, 0, len(ss)), ss...)
}
