// Package otp generates, verifies and redelivers the parent verification code
// attached to leave and permission requests.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"

	"hostelgate/internal/clock"
	"hostelgate/internal/featureflags"
	"hostelgate/internal/middleware"
	"hostelgate/internal/models"
	"hostelgate/internal/notifications"
	"hostelgate/internal/observability"
	"hostelgate/internal/repository"
)

// DefaultResendCooldown is the wait between generation and the first allowed resend.
const DefaultResendCooldown = 5 * time.Minute

const codeDigits = 4

// ResendStatus is the outcome of a cooldown check.
type ResendStatus struct {
	Allowed          bool `json:"allowed"`
	MinutesRemaining int  `json:"minutes_remaining"`
}

// Service owns the OTP fields of a request.
type Service struct {
	repo       repository.RequestRepository
	dispatcher notifications.Dispatcher
	clock      clock.Clock
	flags      *featureflags.Manager
	cooldown   time.Duration
	random     io.Reader
}

// NewService creates an OTP service. A non-positive cooldown uses DefaultResendCooldown.
func NewService(
	repo repository.RequestRepository,
	dispatcher notifications.Dispatcher,
	clk clock.Clock,
	flags *featureflags.Manager,
	cooldown time.Duration,
) *Service {
	if cooldown <= 0 {
		cooldown = DefaultResendCooldown
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		clock:      clk,
		flags:      flags,
		cooldown:   cooldown,
		random:     rand.Reader,
	}
}

// NewCode returns a uniformly random 4-digit code, zero padded.
func NewCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// CodeMatches compares in constant time.
func CodeMatches(stored, candidate string) bool {
	if stored == "" || len(candidate) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// ResendStatusAt computes the cooldown state at now for a code generated at
// generatedAt. A missing timestamp allows a resend.
func ResendStatusAt(generatedAt *time.Time, now time.Time, cooldown time.Duration) ResendStatus {
	if generatedAt == nil {
		return ResendStatus{Allowed: true}
	}
	elapsed := now.Sub(*generatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= cooldown {
		return ResendStatus{Allowed: true}
	}
	remaining := cooldown - elapsed
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	return ResendStatus{Allowed: false, MinutesRemaining: minutes}
}

func (s *Service) load(ctx context.Context, id uint) (*models.Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.ApplicationType.RequiresOTP() {
		return nil, models.NewValidationError(fmt.Sprintf("%s requests have no verification code", req.ApplicationType))
	}
	return req, nil
}

// Generate stores a fresh code on a request awaiting verification, resets the
// resend counter and sends the code to the parent. Delivery failure is logged
// and does not undo the stored code.
func (s *Service) Generate(ctx context.Context, id uint) (string, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if req.Status != models.RequestStatusPendingOTP {
		return "", models.NewInvalidStateTransitionError("generate a verification code for", req.Status)
	}

	code, err := NewCode(s.random)
	if err != nil {
		return "", models.NewInternalError(err)
	}
	now := s.clock.Now()
	err = s.repo.UpdateIf(ctx, req.ID,
		repository.Condition{Status: req.Status, Version: req.Version},
		repository.Fields{
			"otp_code":         code,
			"otp_generated_at": now,
			"resend_count":     0,
		}, now)
	if err != nil {
		return "", err
	}

	s.dispatch(ctx, req.ID, "generate", notifications.NewOtpMessage(req.ParentPhone, code))
	return code, nil
}

// Verify reports whether code matches the stored one. It never mutates.
func (s *Service) Verify(ctx context.Context, id uint, code string) (bool, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	return CodeMatches(req.OtpCode, code), nil
}

// CanResend reports whether the cooldown since generation has elapsed.
func (s *Service) CanResend(ctx context.Context, id uint) (ResendStatus, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return ResendStatus{}, err
	}
	return ResendStatusAt(req.OtpGeneratedAt, s.clock.Now(), s.cooldown), nil
}

// Resend redelivers the stored code and bumps the resend counter. The
// cooldown anchor (OtpGeneratedAt) is never moved, so repeated resends cannot
// shorten the wait. With the otp_resend_rotation flag on, a new code replaces
// the old one instead.
func (s *Service) Resend(ctx context.Context, id uint) (*models.Request, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(req.ApplicationType, req.Status, models.RequestStatusPendingOTP) {
		return nil, models.NewInvalidStateTransitionError("resend the verification code of", req.Status)
	}

	now := s.clock.Now()
	if st := ResendStatusAt(req.OtpGeneratedAt, now, s.cooldown); !st.Allowed {
		return nil, models.NewOtpCooldownError(st.MinutesRemaining)
	}

	code := req.OtpCode
	fields := repository.Fields{"resend_count": req.ResendCount + 1}
	if code == "" || s.flags.Enabled(featureflags.OtpResendRotation, req.ID) {
		if code, err = NewCode(s.random); err != nil {
			return nil, models.NewInternalError(err)
		}
		fields["otp_code"] = code
		if req.OtpGeneratedAt == nil {
			fields["otp_generated_at"] = now
		}
	}

	err = s.repo.UpdateIf(ctx, req.ID, repository.Condition{Status: req.Status, Version: req.Version}, fields, now)
	if err != nil {
		return nil, err
	}
	observability.RecordTransition(string(req.ApplicationType), string(req.Status), string(req.Status))

	s.dispatch(ctx, req.ID, "resend", notifications.NewOtpMessage(req.ParentPhone, code))
	return s.repo.GetByID(ctx, req.ID)
}

func (s *Service) dispatch(ctx context.Context, requestID uint, kind string, msg notifications.OtpMessage) {
	err := s.dispatcher.SendOtp(ctx, msg)
	observability.RecordOtpDispatch(kind, err)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "otp dispatch failed",
			"gate_request_id", requestID,
			"kind", kind,
			"error", err,
		)
	}
}
