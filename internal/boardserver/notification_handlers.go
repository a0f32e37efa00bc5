package boardserver

import (
	"boardsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetNotifications handles GET /api/notifications
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	ns, err := s.store.ListNotifications(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(ns)
}

// MarkNotificationRead handles PATCH /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.store.MarkNotificationRead(c.UserContext(), currentUserID(c), id); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetUnreadCount handles GET /api/notifications/unread-count
func (s *Server) GetUnreadCount(c *fiber.Ctx) error {
	count, err := s.store.UnreadCount(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(models.UnreadCount{Count: count})
}
