package boardserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"boardsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	maxTitleLength   = 200
	maxContentLength = 10000
)

func validatePostInput(in *models.PostInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if in.Title == "" || in.Content == "" {
		return models.NewValidationError("Title and content are required")
	}
	if len(in.Title) > maxTitleLength {
		return models.NewValidationError(fmt.Sprintf("Title must be at most %d characters", maxTitleLength))
	}
	if len(in.Content) > maxContentLength {
		return models.NewValidationError(fmt.Sprintf("Content must be at most %d characters", maxContentLength))
	}
	if in.CategoryID < 0 {
		return models.NewValidationError("Invalid category ID")
	}
	return nil
}

// GetPosts handles GET /api/posts
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.store.ListPosts(c.UserContext(), parsePostFilter(c), s.optionalUserID(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(posts)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	post, err := s.store.GetPost(c.UserContext(), id, s.optionalUserID(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req models.PostInput
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}
	if err := validatePostInput(&req); err != nil {
		return respondWithError(c, err)
	}

	post, err := s.store.CreatePost(c.UserContext(), currentUserID(c), req)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// UpdatePost handles PUT /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req models.PostInput
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}
	if err := validatePostInput(&req); err != nil {
		return respondWithError(c, err)
	}

	post, err := s.store.UpdatePost(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.store.DeletePost(c.UserContext(), currentUserID(c), id); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LikePost handles POST /api/posts/:id/like
func (s *Server) LikePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	userID := currentUserID(c)

	res, post, err := s.store.TogglePostLike(c.UserContext(), userID, id)
	if err != nil {
		return respondWithError(c, err)
	}
	if res.Liked {
		s.notify(c.UserContext(), post.AuthorID, userID, &post.ID, "%s liked your post \"%s\"", post.Title)
	}
	return c.JSON(res)
}

// ScrapPost handles POST /api/posts/:id/scrap
func (s *Server) ScrapPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	res, err := s.store.ToggleScrap(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(res)
}

// GetMyScraps handles GET /api/scraps/me
func (s *Server) GetMyScraps(c *fiber.Ctx) error {
	scraps, err := s.store.ListScraps(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(scraps)
}

// notify records a notification for recipient about something actor did
// and pushes it to the recipient's streams. Acting on your own content
// notifies nobody. Failures are logged, never returned: the action itself
// already succeeded.
func (s *Server) notify(ctx context.Context, recipient, actor int64, postID *int64, format string, args ...interface{}) {
	if recipient == 0 || recipient == actor {
		return
	}

	name := "Someone"
	if u, err := s.store.UserByID(ctx, actor); err == nil {
		name = u.Nickname
	}
	message := fmt.Sprintf(format, append([]interface{}{name}, args...)...)

	n, err := s.store.CreateNotification(ctx, recipient, message, postID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store notification",
			slog.Int64("recipient", recipient),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.notifier.PublishUser(ctx, recipient, n); err != nil {
		s.logger.WarnContext(ctx, "failed to publish notification",
			slog.Int64("recipient", recipient),
			slog.Int64("notification_id", n.ID),
			slog.String("error", err.Error()),
		)
	}
}
