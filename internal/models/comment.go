package models

import "time"

// Comment represents a comment on a post.
type Comment struct {
	ID          int64     `json:"commentId"`
	PostID      int64     `json:"postId"`
	Content     string    `json:"content"`
	AuthorID    int64     `json:"authorId"`
	Nickname    string    `json:"nickname"`
	LikeCount   int       `json:"likeCount"`
	Liked       bool      `json:"liked"`
	CreatedDate time.Time `json:"createdDate"`
	// Pending marks a provisional comment that the server has not confirmed yet
	Pending bool `json:"-"`
}

// Comments is the ordered comment list of one post.
type Comments []Comment

// Clone returns a copy of the list.
func (cs Comments) Clone() any {
	if cs == nil {
		return cs
	}
	return append(make(Comments, 0, len(cs)), cs...)
}

// IndexOf returns the position of the comment with the given id, or -1.
func (cs Comments) IndexOf(id int64) int {
	for i := range cs {
		if cs[i].ID == id {
			return i
		}
	}
	return -1
}

// CommentInput is the payload for creating or editing a comment.
type CommentInput struct {
	Content string `json:"content"`
}
