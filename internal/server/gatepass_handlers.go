package server

import (
	"hostelgate/internal/gatepass"
	"hostelgate/internal/models"

	"github.com/gofiber/fiber/v2"
)

type tokenResponse struct {
	RequestID uint               `json:"request_id"`
	Direction gatepass.Direction `json:"direction"`
	Token     string             `json:"token"`
}

// GetOutgoingQr handles GET /api/requests/:id/outgoing-qr
func (s *Server) GetOutgoingQr(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	token, err := s.gatePasses.IssueOutgoingToken(c.UserContext(), actor(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tokenResponse{RequestID: id, Direction: gatepass.DirectionOutgoing, Token: token})
}

// GetIncomingQr handles GET /api/requests/:id/incoming-qr
func (s *Server) GetIncomingQr(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	token, err := s.gatePasses.IssueIncomingToken(c.UserContext(), actor(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tokenResponse{RequestID: id, Direction: gatepass.DirectionIncoming, Token: token})
}

type scanResponse struct {
	Direction gatepass.Direction `json:"direction"`
	requestResponse
}

// GateScan handles POST /api/gate/scan
func (s *Server) GateScan(c *fiber.Ctx) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&body); err != nil || body.Token == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("token is required"))
	}

	dir, req, err := s.gatePasses.Consume(c.UserContext(), body.Token)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(scanResponse{Direction: dir, requestResponse: s.present(req)})
}

// MarkExited handles POST /api/gate/requests/:id/exited
func (s *Server) MarkExited(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	req, err := s.gatePasses.MarkExited(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s.present(req))
}
