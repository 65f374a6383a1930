package server

import "github.com/gofiber/fiber/v2"

// GetFeatureFlags returns evaluated feature flags for the current user.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(uint)

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{"evaluated": map[string]bool{}})
	}

	return c.JSON(fiber.Map{
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}
