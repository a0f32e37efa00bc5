// Package ranking orders a post's comments for the detail view.
package ranking

import (
	"cmp"
	"slices"

	"boardsync/internal/models"
)

const (
	// BestThreshold is the comment count at which best comments are promoted.
	BestThreshold = 10
	// BestMinLikes is the like count a comment needs to be promoted.
	BestMinLikes = 5
	// BestCount caps the number of promoted comments.
	BestCount = 3
)

// Rank returns the comments in display order without modifying the input.
//
// Below BestThreshold comments the order is chronological. From
// BestThreshold on, up to BestCount comments with at least BestMinLikes
// likes are promoted to the front (most liked first, newer first on ties,
// then lower id), followed by every other comment in chronological order.
// The branch is chosen from the current count on every call, so a post
// crossing the threshold switches layouts immediately.
func Rank(comments []models.Comment) []models.Comment {
	best, rest := split(comments)
	return append(best, rest...)
}

// Best returns only the promoted comments, empty below BestThreshold.
func Best(comments []models.Comment) []models.Comment {
	best, _ := split(comments)
	return best
}

func split(comments []models.Comment) (best, rest []models.Comment) {
	rest = slices.Clone(comments)
	if len(rest) < BestThreshold {
		slices.SortStableFunc(rest, chronological)
		return nil, rest
	}

	for _, c := range rest {
		if c.LikeCount >= BestMinLikes {
			best = append(best, c)
		}
	}
	slices.SortStableFunc(best, byPopularity)
	if len(best) > BestCount {
		best = best[:BestCount:BestCount]
	}

	promoted := make(map[int64]struct{}, len(best))
	for _, c := range best {
		promoted[c.ID] = struct{}{}
	}
	rest = slices.DeleteFunc(rest, func(c models.Comment) bool {
		_, ok := promoted[c.ID]
		return ok
	})
	slices.SortStableFunc(rest, chronological)
	return best, rest
}

func chronological(a, b models.Comment) int {
	if c := a.CreatedDate.Compare(b.CreatedDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func byPopularity(a, b models.Comment) int {
	if c := cmp.Compare(b.LikeCount, a.LikeCount); c != 0 {
		return c
	}
	if c := b.CreatedDate.Compare(a.CreatedDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
