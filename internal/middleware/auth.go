// Package middleware provides authentication, logging, rate limiting and
// tracing middleware for the HTTP API.
package middleware

import (
	"context"
	"strconv"
	"strings"

	"hostelgate/internal/config"
	"hostelgate/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(msg))
}

// AuthRequired verifies the bearer token and stores the actor in locals.
// Tokens are minted elsewhere; only "sub" and "role" claims are read.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return unauthorized(c, "Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return unauthorized(c, "Invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return unauthorized(c, "Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return unauthorized(c, "Invalid token claims")
	}

	subStr, ok := claims["sub"].(string)
	if !ok {
		return unauthorized(c, "Invalid token structure - missing subject")
	}
	userIDVal, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userIDVal == 0 {
		return unauthorized(c, "Invalid user ID in token")
	}

	roleStr, _ := claims["role"].(string)
	role := models.Role(roleStr)
	if !role.Valid() {
		return unauthorized(c, "Invalid role in token")
	}

	c.Locals("userID", uint(userIDVal))
	c.Locals("role", string(role))

	ctx := context.WithValue(c.UserContext(), UserIDKey, uint(userIDVal))
	ctx = context.WithValue(ctx, RoleKey, string(role))
	c.SetUserContext(ctx)

	return c.Next()
}

// RequireRole rejects actors whose role is not listed. Must run after AuthRequired.
func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if !ok {
			return unauthorized(c, "authentication required")
		}
		for _, r := range roles {
			if actor.Role == r {
				return c.Next()
			}
		}
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewUnauthorizedError("role "+string(actor.Role)+" cannot perform this action"))
	}
}

// ActorFrom returns the authenticated actor stored by AuthRequired.
func ActorFrom(c *fiber.Ctx) (models.Actor, bool) {
	uid, ok := c.Locals("userID").(uint)
	if !ok {
		return models.Actor{}, false
	}
	role, _ := c.Locals("role").(string)
	return models.Actor{ID: uid, Role: models.Role(role)}, true
}
