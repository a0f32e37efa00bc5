package boardserver

import (
	"fmt"
	"strings"

	"boardsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

const maxCommentLength = 2000

func validateCommentInput(in *models.CommentInput) error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return models.NewValidationError("Comment content is required")
	}
	if len(in.Content) > maxCommentLength {
		return models.NewValidationError(fmt.Sprintf("Comment must be at most %d characters", maxCommentLength))
	}
	return nil
}

// GetComments handles GET /api/posts/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	comments, err := s.store.ListComments(c.UserContext(), postID, s.optionalUserID(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(comments)
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req models.CommentInput
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}
	if err := validateCommentInput(&req); err != nil {
		return respondWithError(c, err)
	}

	userID := currentUserID(c)
	comment, post, err := s.store.CreateComment(c.UserContext(), userID, postID, req.Content)
	if err != nil {
		return respondWithError(c, err)
	}
	s.notify(c.UserContext(), post.AuthorID, userID, &post.ID, "%s commented on your post \"%s\"", post.Title)

	return c.Status(fiber.StatusCreated).JSON(comment)
}

// UpdateComment handles PUT /api/comments/:commentId
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}

	var req models.CommentInput
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}
	if err := validateCommentInput(&req); err != nil {
		return respondWithError(c, err)
	}

	comment, err := s.store.UpdateComment(c.UserContext(), currentUserID(c), commentID, req.Content)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:commentId
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}

	if err := s.store.DeleteComment(c.UserContext(), currentUserID(c), commentID); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LikeComment handles POST /api/comments/:commentId/like
func (s *Server) LikeComment(c *fiber.Ctx) error {
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)

	res, comment, err := s.store.ToggleCommentLike(c.UserContext(), userID, commentID)
	if err != nil {
		return respondWithError(c, err)
	}
	if res.Liked {
		s.notify(c.UserContext(), comment.AuthorID, userID, &comment.PostID, "%s liked your comment")
	}
	return c.JSON(res)
}
