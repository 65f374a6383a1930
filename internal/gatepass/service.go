// Package gatepass issues and redeems the outgoing and incoming QR tokens of
// approved leave and permission requests.
package gatepass

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hostelgate/internal/clock"
	"hostelgate/internal/middleware"
	"hostelgate/internal/models"
	"hostelgate/internal/observability"
	"hostelgate/internal/repository"
)

// Direction distinguishes exit from re-entry tokens.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

const (
	outgoingPrefix = "/leave/qr/"
	incomingPrefix = "/leave/incoming-qr/"
)

// Service computes gate pass windows and consumes visit quota.
type Service struct {
	repo   repository.RequestRepository
	clock  clock.Clock
	loc    *time.Location
	origin *url.URL
	grace  time.Duration
}

// NewService creates a gate pass service. Tokens are URLs under origin.
func NewService(repo repository.RequestRepository, clk clock.Clock, loc *time.Location, origin string, grace time.Duration) (*Service, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gate pass origin %q must be an absolute URL", origin)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, clock: clk, loc: loc, origin: u, grace: grace}, nil
}

// Token renders the URL printed in the QR code.
func (s *Service) Token(dir Direction, id uint) string {
	prefix := outgoingPrefix
	if dir == DirectionIncoming {
		prefix = incomingPrefix
	}
	return s.origin.String() + prefix + strconv.FormatUint(uint64(id), 10)
}

// ParseToken resolves a scanned URL back to its direction and request id.
func (s *Service) ParseToken(token string) (Direction, uint, error) {
	u, err := url.Parse(strings.TrimSpace(token))
	if err != nil || !strings.EqualFold(u.Host, s.origin.Host) || u.Scheme != s.origin.Scheme {
		return "", 0, models.NewValidationError("token was not issued by this gate")
	}
	path := strings.TrimPrefix(u.Path, s.origin.Path)

	var dir Direction
	var raw string
	switch {
	case strings.HasPrefix(path, outgoingPrefix):
		dir, raw = DirectionOutgoing, strings.TrimPrefix(path, outgoingPrefix)
	case strings.HasPrefix(path, incomingPrefix):
		dir, raw = DirectionIncoming, strings.TrimPrefix(path, incomingPrefix)
	default:
		return "", 0, models.NewValidationError("unrecognized gate pass token")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return "", 0, models.NewValidationError("unrecognized gate pass token")
	}
	return dir, uint(id), nil
}

// load fetches a request and enforces that students only see their own.
func (s *Service) load(ctx context.Context, actor models.Actor, id uint) (*models.Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && req.StudentID != actor.ID {
		return nil, models.NewNotFoundError("Request", id)
	}
	return req, nil
}

func notIssuable(req *models.Request) error {
	if req.ApplicationType == models.ApplicationTypeStayInHostel {
		return models.NewTokenUnavailableError("stay in hostel requests have no gate pass")
	}
	return models.NewTokenUnavailableError(fmt.Sprintf("no gate pass for a request in status %q", req.Status))
}

// outgoingError explains why req has no outgoing pass at now.
func (s *Service) outgoingError(req *models.Request, now time.Time) error {
	if !Eligible(req) {
		return notIssuable(req)
	}
	if req.VisitLocked || req.OutgoingVisitCount >= req.MaxVisits {
		return models.NewVisitLimitReachedError()
	}
	w, ok := OutgoingWindow(req, s.loc)
	if !ok {
		return models.NewTokenUnavailableError("gate pass window is not defined")
	}
	if now.Before(w.From) {
		return models.NewTokenUnavailableError("gate pass is not valid yet")
	}
	if now.After(w.To) {
		return models.NewTokenUnavailableError("gate pass has expired")
	}
	return nil
}

func (s *Service) incomingError(req *models.Request, now time.Time) error {
	if !Eligible(req) {
		return notIssuable(req)
	}
	if !req.IncomingQrGenerated || req.IncomingQrExpiresAt == nil {
		return models.NewTokenUnavailableError("no exit has been recorded for this gate pass")
	}
	if req.IncomingVisitCount >= models.MaxIncomingVisits {
		return models.NewVisitLimitReachedError()
	}
	if now.After(*req.IncomingQrExpiresAt) {
		return models.NewTokenUnavailableError("re-entry pass has expired")
	}
	return nil
}

// IssueOutgoingToken returns the exit token while the pass is usable.
// Issuing never consumes a visit.
func (s *Service) IssueOutgoingToken(ctx context.Context, actor models.Actor, id uint) (string, error) {
	req, err := s.load(ctx, actor, id)
	if err != nil {
		return "", err
	}
	if err := s.outgoingError(req, s.clock.Now()); err != nil {
		return "", err
	}
	return s.Token(DirectionOutgoing, req.ID), nil
}

// IssueIncomingToken returns the re-entry token while it is usable.
func (s *Service) IssueIncomingToken(ctx context.Context, actor models.Actor, id uint) (string, error) {
	req, err := s.load(ctx, actor, id)
	if err != nil {
		return "", err
	}
	if err := s.incomingError(req, s.clock.Now()); err != nil {
		return "", err
	}
	return s.Token(DirectionIncoming, req.ID), nil
}

// ConsumeOutgoing redeems one exit. The quota check and increment are a single
// conditional update, so concurrent scans cannot overspend.
func (s *Service) ConsumeOutgoing(ctx context.Context, id uint) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "GatePassService", "ConsumeOutgoing", id)
	defer func() { observability.EndSpan(span, err) }()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.outgoingError(req, now); err != nil {
		observability.RecordConsumption(string(DirectionOutgoing), "rejected")
		return nil, err
	}

	ok, err := s.repo.ConsumeOutgoing(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RecordConsumption(string(DirectionOutgoing), "rejected")
		return nil, s.explainMiss(ctx, id, now, s.outgoingError)
	}
	observability.RecordConsumption(string(DirectionOutgoing), "admitted")

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	middleware.Logger.InfoContext(ctx, "gate exit admitted",
		"gate_request_id", id,
		"visits_used", updated.OutgoingVisitCount,
		"visit_locked", updated.VisitLocked,
	)
	return updated, nil
}

// ConsumeIncoming redeems the single re-entry.
func (s *Service) ConsumeIncoming(ctx context.Context, id uint) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "GatePassService", "ConsumeIncoming", id)
	defer func() { observability.EndSpan(span, err) }()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.incomingError(req, now); err != nil {
		observability.RecordConsumption(string(DirectionIncoming), "rejected")
		return nil, err
	}

	ok, err := s.repo.ConsumeIncoming(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RecordConsumption(string(DirectionIncoming), "rejected")
		return nil, s.explainMiss(ctx, id, now, s.incomingError)
	}
	observability.RecordConsumption(string(DirectionIncoming), "admitted")

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	middleware.Logger.InfoContext(ctx, "gate re-entry admitted", "gate_request_id", id)
	return updated, nil
}

// explainMiss re-reads after a conditional update matched nothing and reports
// which guard a concurrent writer tripped.
func (s *Service) explainMiss(ctx context.Context, id uint, now time.Time, check func(*models.Request, time.Time) error) error {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := check(req, now); err != nil {
		return err
	}
	return models.NewVisitLimitReachedError()
}

// Consume resolves a scanned token and redeems it.
func (s *Service) Consume(ctx context.Context, token string) (Direction, *models.Request, error) {
	dir, id, err := s.ParseToken(token)
	if err != nil {
		return "", nil, err
	}
	var req *models.Request
	if dir == DirectionOutgoing {
		req, err = s.ConsumeOutgoing(ctx, id)
	} else {
		req, err = s.ConsumeIncoming(ctx, id)
	}
	return dir, req, err
}

// MarkExited records a confirmed physical exit and opens the re-entry pass,
// valid until the end of the outgoing window plus the configured grace.
// Calling it again leaves the original expiry in place.
func (s *Service) MarkExited(ctx context.Context, id uint) (_ *models.Request, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "GatePassService", "MarkExited", id)
	defer func() { observability.EndSpan(span, err) }()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Eligible(req) {
		return nil, notIssuable(req)
	}
	if req.IncomingQrGenerated {
		return req, nil
	}
	if req.OutgoingVisitCount == 0 {
		return nil, models.NewInvalidStateTransitionError("record an exit without an outgoing scan for", req.Status)
	}
	w, ok := OutgoingWindow(req, s.loc)
	if !ok {
		return nil, models.NewTokenUnavailableError("gate pass window is not defined")
	}

	if _, err := s.repo.MarkExited(ctx, id, w.To.Add(s.grace), s.clock.Now()); err != nil {
		return nil, err
	}
	// A concurrent MarkExited may have won; either way the flag is now set.
	return s.repo.GetByID(ctx, id)
}
