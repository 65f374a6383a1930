package server

import (
	"hostelgate/internal/gatepass"
	"hostelgate/internal/models"
	"hostelgate/internal/service"
	"hostelgate/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// requestResponse is a request plus its derived gate pass state.
type requestResponse struct {
	RequestID uint `json:"request_id"`
	*models.Request
	GatePass *gatepass.State `json:"gate_pass,omitempty"`
}

func (s *Server) present(req *models.Request) requestResponse {
	return requestResponse{
		RequestID: req.ID,
		Request:   req,
		GatePass:  gatepass.Describe(req, s.clock.Now(), s.location),
	}
}

func (s *Server) presentAll(reqs []*models.Request) []requestResponse {
	out := make([]requestResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, s.present(r))
	}
	return out
}

type createRequestBody struct {
	ApplicationType  string `json:"application_type"`
	ParentPhone      string `json:"parent_phone"`
	Reason           string `json:"reason"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	GatePassDateTime string `json:"gate_pass_date_time"`
	PermissionDate   string `json:"permission_date"`
	OutTime          string `json:"out_time"`
	InTime           string `json:"in_time"`
	StayDate         string `json:"stay_date"`
}

func (b createRequestBody) input(s *Server) (validation.CreateInput, error) {
	loc := s.location
	in := validation.CreateInput{
		ApplicationType: models.ApplicationType(b.ApplicationType),
		ParentPhone:     b.ParentPhone,
		Reason:          b.Reason,
	}
	var err error
	if in.StartDate, err = parseDate("start_date", b.StartDate, loc); err != nil {
		return in, err
	}
	if in.EndDate, err = parseDate("end_date", b.EndDate, loc); err != nil {
		return in, err
	}
	if in.GatePassDateTime, err = parseDateTime("gate_pass_date_time", b.GatePassDateTime, in.StartDate, loc); err != nil {
		return in, err
	}
	if in.PermissionDate, err = parseDate("permission_date", b.PermissionDate, loc); err != nil {
		return in, err
	}
	if in.OutTime, err = parseDateTime("out_time", b.OutTime, in.PermissionDate, loc); err != nil {
		return in, err
	}
	if in.InTime, err = parseDateTime("in_time", b.InTime, in.PermissionDate, loc); err != nil {
		return in, err
	}
	if in.StayDate, err = parseDate("stay_date", b.StayDate, loc); err != nil {
		return in, err
	}
	return in, nil
}

// CreateRequest handles POST /api/requests
func (s *Server) CreateRequest(c *fiber.Ctx) error {
	var body createRequestBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	in, err := body.input(s)
	if err != nil {
		return respondError(c, err)
	}

	req, err := s.workflow.Create(c.UserContext(), actor(c), in)
	if err != nil {
		return respondError(c, err)
	}
	setETag(c, req)
	return c.Status(fiber.StatusCreated).JSON(s.present(req))
}

// GetMyRequests handles GET /api/requests/me
func (s *Server) GetMyRequests(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	reqs, err := s.workflow.ListMine(c.UserContext(), actor(c), page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s.presentAll(reqs))
}

// ListRequests handles GET /api/requests?status=
func (s *Server) ListRequests(c *fiber.Ctx) error {
	status := c.Query("status")
	if status == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("status query parameter is required"))
	}
	page := parsePagination(c, 50)
	reqs, err := s.workflow.ListByStatus(c.UserContext(), actor(c), models.RequestStatus(status), page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s.presentAll(reqs))
}

// GetRequest handles GET /api/requests/:id
func (s *Server) GetRequest(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	req, err := s.workflow.Get(c.UserContext(), actor(c), id)
	if err != nil {
		return respondError(c, err)
	}
	setETag(c, req)
	return c.JSON(s.present(req))
}

// DeleteRequest handles DELETE /api/requests/:id
func (s *Server) DeleteRequest(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	version, err := expectedVersion(c, nil)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.workflow.Delete(c.UserContext(), actor(c), id, version); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type verifyOtpBody struct {
	Code    string `json:"code"`
	Comment string `json:"comment"`
	Version *int64 `json:"version"`
}

// VerifyOtp handles POST /api/requests/:id/verify-otp
func (s *Server) VerifyOtp(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	var body verifyOtpBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if body.Code == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("code is required"))
	}
	version, err := expectedVersion(c, body.Version)
	if err != nil {
		return respondError(c, err)
	}

	req, err := s.workflow.WardenVerifyOtp(c.UserContext(), actor(c), id, service.VerifyOtpInput{
		Code:            body.Code,
		Comment:         body.Comment,
		ExpectedVersion: version,
	})
	if err != nil {
		return respondError(c, err)
	}
	setETag(c, req)
	return c.JSON(s.present(req))
}

// ResendOtp handles POST /api/requests/:id/resend-otp
func (s *Server) ResendOtp(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	req, err := s.workflow.ResendOtp(c.UserContext(), actor(c), id)
	if err != nil {
		return respondError(c, err)
	}
	setETag(c, req)
	return c.JSON(fiber.Map{
		"request_id":   req.ID,
		"resend_count": req.ResendCount,
		"version":      req.Version,
	})
}

// GetResendStatus handles GET /api/requests/:id/resend-otp
func (s *Server) GetResendStatus(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	st, err := s.workflow.CanResendOtp(c.UserContext(), actor(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(st)
}

type wardenDecisionBody struct {
	Recommendation string `json:"recommendation"`
	Code           string `json:"code"`
	Comment        string `json:"comment"`
	Version        *int64 `json:"version"`
}

// WardenDecision handles POST /api/requests/:id/warden-decision. A code
// confirms the parent OTP of a leave or permission request; a recommendation
// forwards a stay-in-hostel request.
func (s *Server) WardenDecision(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	var body wardenDecisionBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	version, err := expectedVersion(c, body.Version)
	if err != nil {
		return respondError(c, err)
	}

	var req *models.Request
	switch {
	case body.Code != "" && body.Recommendation != "":
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("send either code or recommendation, not both"))
	case body.Code != "":
		req, err = s.workflow.WardenVerifyOtp(c.UserContext(), actor(c), id, service.VerifyOtpInput{
			Code:            body.Code,
			Comment:         body.Comment,
			ExpectedVersion: version,
		})
	default:
		req, err = s.workflow.WardenRecommend(c.UserContext(), actor(c), id, service.RecommendInput{
			Recommendation:  models.WardenRecommendation(body.Recommendation),
			Comment:         body.Comment,
			ExpectedVersion: version,
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	setETag(c, req)
	return c.JSON(s.present(req))
}

type principalDecisionBody struct {
	Decision        string `json:"decision"`
	Comment         string `json:"comment"`
	RejectionReason string `json:"rejection_reason"`
	Version         *int64 `json:"version"`
}

// PrincipalDecision handles POST /api/requests/:id/principal-decision
func (s *Server) PrincipalDecision(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return nil
	}
	var body principalDecisionBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	version, err := expectedVersion(c, body.Version)
	if err != nil {
		return respondError(c, err)
	}

	req, err := s.workflow.PrincipalDecide(c.UserContext(), actor(c), id, service.DecideInput{
		Decision:        models.PrincipalDecision(body.Decision),
		Comment:         body.Comment,
		RejectionReason: body.RejectionReason,
		ExpectedVersion: version,
	})
	if err != nil {
		return respondError(c, err)
	}
	setETag(c, req)
	return c.JSON(s.present(req))
}
