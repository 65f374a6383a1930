package service

import (
	"context"
	"fmt"
	"strings"

	"hostelgate/internal/clock"
	"hostelgate/internal/gatepass"
	"hostelgate/internal/middleware"
	"hostelgate/internal/models"
	"hostelgate/internal/notifications"
	"hostelgate/internal/observability"
	"hostelgate/internal/otp"
	"hostelgate/internal/repository"
	"hostelgate/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// EventPublisher receives lifecycle events. Failures never fail the operation.
type EventPublisher interface {
	PublishRequestEvent(ctx context.Context, ev notifications.RequestEvent) error
}

// WorkflowService runs the per-type approval state machine.
type WorkflowService struct {
	repo      repository.RequestRepository
	otp       *otp.Service
	events    EventPublisher
	clock     clock.Clock
	policy    validation.Policy
	maxVisits int
}

// NewWorkflowService wires the workflow. maxVisits <= 0 uses models.DefaultMaxVisits.
func NewWorkflowService(
	repo repository.RequestRepository,
	otpService *otp.Service,
	events EventPublisher,
	clk clock.Clock,
	policy validation.Policy,
	maxVisits int,
) *WorkflowService {
	if maxVisits <= 0 {
		maxVisits = models.DefaultMaxVisits
	}
	return &WorkflowService{
		repo:      repo,
		otp:       otpService,
		events:    events,
		clock:     clk,
		policy:    policy,
		maxVisits: maxVisits,
	}
}

// VerifyOtpInput is the warden's OTP confirmation.
type VerifyOtpInput struct {
	Code            string
	Comment         string
	ExpectedVersion *int64
}

// RecommendInput is the warden's opinion on a stay-in-hostel request.
type RecommendInput struct {
	Recommendation  models.WardenRecommendation
	Comment         string
	ExpectedVersion *int64
}

// DecideInput is the principal's verdict.
type DecideInput struct {
	Decision        models.PrincipalDecision
	Comment         string
	RejectionReason string
	ExpectedVersion *int64
}

func requireRole(actor models.Actor, roles ...models.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return models.NewUnauthorizedError(fmt.Sprintf("role %q is not allowed to perform this action", actor.Role))
}

// Create validates and stores a new request in its initial status. Leave and
// permission requests get a parent OTP as part of creation.
func (s *WorkflowService) Create(ctx context.Context, actor models.Actor, in validation.CreateInput) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "WorkflowService", "Create", 0)
	defer func() { observability.EndSpan(span, err) }()

	if err := requireRole(actor, models.RoleStudent); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	in, err = s.policy.Validate(in, now)
	if err != nil {
		return nil, err
	}

	req := &models.Request{
		ApplicationType:  in.ApplicationType,
		Status:           models.InitialStatus(in.ApplicationType),
		Version:          1,
		StudentID:        actor.ID,
		ParentPhone:      in.ParentPhone,
		Reason:           in.Reason,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		GatePassDateTime: in.GatePassDateTime,
		PermissionDate:   in.PermissionDate,
		OutTime:          in.OutTime,
		InTime:           in.InTime,
		StayDate:         in.StayDate,
		MaxVisits:        s.maxVisits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	if req.ApplicationType.RequiresOTP() {
		if _, err := s.otp.Generate(ctx, req.ID); err != nil {
			// Without a code the request could never be verified.
			if delErr := s.repo.DeleteIf(ctx, req.ID, repository.Condition{Status: req.Status, Version: req.Version}); delErr != nil {
				middleware.Logger.ErrorContext(ctx, "failed to discard request after otp generation error",
					"gate_request_id", req.ID, "error", delErr)
			}
			return nil, err
		}
		if req, err = s.repo.GetByID(ctx, req.ID); err != nil {
			return nil, err
		}
	}

	observability.RecordTransition(string(req.ApplicationType), "", string(req.Status))
	s.publish(ctx, notifications.EventRequestCreated, actor, req, "")
	middleware.Logger.InfoContext(ctx, "request created",
		"gate_request_id", req.ID,
		"application_type", req.ApplicationType,
		"status", req.Status,
	)
	return req, nil
}

// WardenVerifyOtp confirms the parent's code and moves a leave or permission
// request to warden_verified. A wrong code changes nothing.
func (s *WorkflowService) WardenVerifyOtp(ctx context.Context, actor models.Actor, id uint, in VerifyOtpInput) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "WorkflowService", "WardenVerifyOtp", id)
	defer func() { observability.EndSpan(span, err) }()

	if err := requireRole(actor, models.RoleWarden); err != nil {
		return nil, err
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(req.ApplicationType, req.Status, models.RequestStatusWardenVerified) {
		return nil, models.NewInvalidStateTransitionError("verify the OTP of", req.Status)
	}

	ok, err := s.otp.Verify(ctx, id, strings.TrimSpace(in.Code))
	if err != nil {
		return nil, err
	}
	if !ok {
		middleware.Logger.WarnContext(ctx, "otp mismatch", "gate_request_id", id)
		return nil, models.NewOtpMismatchError()
	}

	now := s.clock.Now()
	return s.transition(ctx, actor, req, models.RequestStatusWardenVerified, in.ExpectedVersion, repository.Fields{
		"otp_verified_at":   now,
		"warden_id":         actor.ID,
		"warden_comment":    strings.TrimSpace(in.Comment),
		"warden_decided_at": now,
	})
}

// WardenRecommend forwards a stay-in-hostel request to the principal with
// the warden's recommendation.
func (s *WorkflowService) WardenRecommend(ctx context.Context, actor models.Actor, id uint, in RecommendInput) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "WorkflowService", "WardenRecommend", id)
	defer func() { observability.EndSpan(span, err) }()

	if err := requireRole(actor, models.RoleWarden); err != nil {
		return nil, err
	}
	switch in.Recommendation {
	case models.WardenRecommended, models.WardenNotRecommended:
	default:
		return nil, models.NewValidationError("recommendation must be recommended or not_recommended")
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(req.ApplicationType, req.Status, models.RequestStatusWardenRecommended) {
		return nil, models.NewInvalidStateTransitionError("recommend", req.Status)
	}

	return s.transition(ctx, actor, req, models.RequestStatusWardenRecommended, in.ExpectedVersion, repository.Fields{
		"warden_recommendation": in.Recommendation,
		"warden_id":             actor.ID,
		"warden_comment":        strings.TrimSpace(in.Comment),
		"warden_decided_at":     s.clock.Now(),
	})
}

// PrincipalDecide approves or rejects a warden-processed request. Approval of
// a leave or permission opens its gate pass.
func (s *WorkflowService) PrincipalDecide(ctx context.Context, actor models.Actor, id uint, in DecideInput) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "WorkflowService", "PrincipalDecide", id)
	defer func() { observability.EndSpan(span, err) }()

	if err := requireRole(actor, models.RolePrincipal); err != nil {
		return nil, err
	}
	var to models.RequestStatus
	switch in.Decision {
	case models.PrincipalApproved:
		to = models.RequestStatusApproved
	case models.PrincipalRejected:
		to = models.RequestStatusRejected
	default:
		return nil, models.NewValidationError("decision must be approved or rejected")
	}
	reason := strings.TrimSpace(in.RejectionReason)
	if to == models.RequestStatusRejected && reason == "" {
		return nil, models.NewValidationError("rejection_reason is required when rejecting")
	}

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(req.ApplicationType, req.Status, to) {
		return nil, models.NewInvalidStateTransitionError("decide on", req.Status)
	}

	fields := repository.Fields{
		"principal_decision":   in.Decision,
		"principal_id":         actor.ID,
		"principal_comment":    strings.TrimSpace(in.Comment),
		"principal_decided_at": s.clock.Now(),
	}
	if to == models.RequestStatusRejected {
		fields["rejection_reason"] = reason
	} else if opens, ok := gatepass.OpensAt(req, s.policy.Location); ok {
		fields["qr_available_from"] = opens
	}
	return s.transition(ctx, actor, req, to, in.ExpectedVersion, fields)
}

// Delete withdraws a request that has not been decided yet. Only the owning
// student may delete, and the write is conditioned on the observed status so
// it cannot race a principal's decision.
func (s *WorkflowService) Delete(ctx context.Context, actor models.Actor, id uint, expectedVersion *int64) (err error) {
	ctx, span := observability.StartServiceSpan(ctx, "WorkflowService", "Delete", id)
	defer func() { observability.EndSpan(span, err) }()

	if err := requireRole(actor, models.RoleStudent); err != nil {
		return err
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if req.StudentID != actor.ID {
		return models.NewNotFoundError("Request", id)
	}
	if !req.Status.Deletable() {
		return models.NewInvalidStateTransitionError("delete", req.Status)
	}
	version, err := s.expectVersion(req, expectedVersion)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteIf(ctx, id, repository.Condition{Status: req.Status, Version: version}); err != nil {
		return err
	}
	s.publish(ctx, notifications.EventRequestDeleted, actor, req, "")
	middleware.Logger.InfoContext(ctx, "request deleted", "gate_request_id", id, "status", req.Status)
	return nil
}

// Get returns a request. Students only see their own; other ids look missing.
func (s *WorkflowService) Get(ctx context.Context, actor models.Actor, id uint) (*models.Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && req.StudentID != actor.ID {
		return nil, models.NewNotFoundError("Request", id)
	}
	return req, nil
}

// ListMine returns the student's own requests, newest first.
func (s *WorkflowService) ListMine(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.Request, error) {
	if err := requireRole(actor, models.RoleStudent); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByStudent(ctx, actor.ID, limit, offset)
}

// ListByStatus is the staff queue, oldest first.
func (s *WorkflowService) ListByStatus(ctx context.Context, actor models.Actor, status models.RequestStatus, limit, offset int) ([]*models.Request, error) {
	if err := requireRole(actor, models.RoleWarden, models.RolePrincipal); err != nil {
		return nil, err
	}
	switch status {
	case models.RequestStatusPending, models.RequestStatusPendingOTP, models.RequestStatusWardenVerified,
		models.RequestStatusWardenRecommended, models.RequestStatusApproved, models.RequestStatusRejected:
	default:
		return nil, models.NewValidationError(fmt.Sprintf("unknown status %q", status))
	}
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// CanResendOtp reports the resend cooldown for the owner or a warden.
func (s *WorkflowService) CanResendOtp(ctx context.Context, actor models.Actor, id uint) (otp.ResendStatus, error) {
	if err := s.authorizeOtpActor(ctx, actor, id); err != nil {
		return otp.ResendStatus{}, err
	}
	return s.otp.CanResend(ctx, id)
}

// ResendOtp redelivers the parent code for the owner or a warden.
func (s *WorkflowService) ResendOtp(ctx context.Context, actor models.Actor, id uint) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "WorkflowService", "ResendOtp", id)
	defer func() { observability.EndSpan(span, err) }()

	if err := s.authorizeOtpActor(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.otp.Resend(ctx, id)
}

func (s *WorkflowService) authorizeOtpActor(ctx context.Context, actor models.Actor, id uint) error {
	if err := requireRole(actor, models.RoleStudent, models.RoleWarden); err != nil {
		return err
	}
	_, err := s.Get(ctx, actor, id)
	return err
}

func (s *WorkflowService) expectVersion(req *models.Request, expected *int64) (int64, error) {
	if expected == nil {
		return req.Version, nil
	}
	if *expected != req.Version {
		observability.OptimisticLockConflicts.WithLabelValues("precondition").Inc()
		return 0, models.NewConcurrentModificationError(req.ID)
	}
	return *expected, nil
}

// transition applies a conditional status change and returns the fresh row.
func (s *WorkflowService) transition(
	ctx context.Context,
	actor models.Actor,
	req *models.Request,
	to models.RequestStatus,
	expectedVersion *int64,
	fields repository.Fields,
) (*models.Request, error) {
	version, err := s.expectVersion(req, expectedVersion)
	if err != nil {
		return nil, err
	}
	fields["status"] = to

	if err := s.repo.UpdateIf(ctx, req.ID, repository.Condition{Status: req.Status, Version: version}, fields, s.clock.Now()); err != nil {
		return nil, err
	}
	updated, err := s.repo.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	observability.RecordTransition(string(req.ApplicationType), string(req.Status), string(to))
	s.publish(ctx, notifications.EventRequestStatusChanged, actor, updated, req.Status)
	middleware.Logger.InfoContext(ctx, "request transitioned",
		"gate_request_id", req.ID,
		"from", req.Status,
		"to", to,
		"version", updated.Version,
	)
	return updated, nil
}

func (s *WorkflowService) publish(ctx context.Context, kind string, actor models.Actor, req *models.Request, previous models.RequestStatus) {
	if s.events == nil {
		return
	}
	ev := notifications.RequestEvent{
		Type:            kind,
		RequestID:       req.ID,
		StudentID:       req.StudentID,
		ApplicationType: string(req.ApplicationType),
		Status:          string(req.Status),
		PreviousStatus:  string(previous),
		Version:         req.Version,
		ActorID:         actor.ID,
		OccurredAt:      s.clock.Now(),
	}
	if kind == notifications.EventRequestDeleted {
		ev.PreviousStatus, ev.Status = ev.Status, ""
	}
	if err := s.events.PublishRequestEvent(ctx, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish request event",
			"gate_request_id", req.ID, "event", kind, "error", err)
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
