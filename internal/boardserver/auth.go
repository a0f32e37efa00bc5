package boardserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"boardsync/internal/models"
	"boardsync/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// SessionCookie carries the signed session token.
	SessionCookie = "session"

	tokenIssuer = "boardsync"
)

var errInvalidSession = errors.New("invalid session")

// HashPassword hashes a plain password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// generateToken creates a session token for the given user ID
func (s *Server) generateToken(userID int64) (string, time.Time, error) {
	if s.config.JWTSecret == "" {
		return "", time.Time{}, fmt.Errorf("JWT secret not configured")
	}

	now := time.Now()
	expires := now.Add(s.config.SessionTTL)
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iss": tokenIssuer,
		"exp": expires.Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	return signed, expires, err
}

// parseToken validates a session token and returns its user ID.
func (s *Server) parseToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidSession
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return 0, errInvalidSession
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return 0, errInvalidSession
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errInvalidSession
	}
	return userID, nil
}

func (s *Server) sessionCookie(value string, expires time.Time) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

// bearerToken extracts a token from an "Authorization: Bearer" header.
func bearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

func (s *Server) requestToken(c *fiber.Ctx) string {
	if token := c.Cookies(SessionCookie); token != "" {
		return token
	}
	return bearerToken(c.Get("Authorization"))
}

// AuthRequired returns the authentication middleware
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := s.requestToken(c)
		if tokenString == "" {
			return respondWithError(c, models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := s.parseToken(tokenString)
		if err != nil {
			return respondWithError(c, models.NewUnauthorizedError("Invalid or expired session"))
		}

		c.Locals("userID", userID)
		c.SetUserContext(observability.WithUserID(c.UserContext(), userID))
		return c.Next()
	}
}

// optionalUserID returns the caller's user ID when a valid session is
// present, without enforcing one.
func (s *Server) optionalUserID(c *fiber.Ctx) int64 {
	tokenString := s.requestToken(c)
	if tokenString == "" {
		return 0
	}
	userID, err := s.parseToken(tokenString)
	if err != nil {
		return 0
	}
	return userID
}

// httpUserID authenticates a plain net/http request the same way.
func (s *Server) httpUserID(r *http.Request) (int64, error) {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return s.parseToken(cookie.Value)
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return s.parseToken(token)
	}
	return 0, errInvalidSession
}

func currentUserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals("userID").(int64)
	return id
}

// Login handles POST /api/auth/login
func (s *Server) Login(c *fiber.Ctx) error {
	var req models.Credentials
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}
	if req.Email == "" || req.Password == "" {
		return respondWithError(c, models.NewValidationError("Email and password are required"))
	}

	user, err := s.store.UserByEmail(c.UserContext(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return respondWithError(c, models.NewInternalError(err))
	}
	if user == nil {
		return respondWithError(c, models.NewUnauthorizedError("Invalid credentials"))
	}

	if cmpErr := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); cmpErr != nil {
		return respondWithError(c, models.NewUnauthorizedError("Invalid credentials"))
	}

	token, expires, err := s.generateToken(user.ID)
	if err != nil {
		return respondWithError(c, models.NewInternalError(err))
	}
	c.Cookie(s.sessionCookie(token, expires))

	return c.JSON(toUser(*user))
}

// Logout handles POST /api/auth/logout
func (s *Server) Logout(c *fiber.Ctx) error {
	c.Cookie(s.sessionCookie("", time.Unix(0, 0)))
	return c.SendStatus(fiber.StatusNoContent)
}

// Me handles GET /api/auth/me
func (s *Server) Me(c *fiber.Ctx) error {
	user, err := s.store.UserByID(c.UserContext(), currentUserID(c))
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
			// the account behind a valid token is gone
			return respondWithError(c, models.NewUnauthorizedError("Session user no longer exists"))
		}
		return respondWithError(c, err)
	}
	return c.JSON(user)
}
