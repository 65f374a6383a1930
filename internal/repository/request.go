// Package repository provides data access for gate requests.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hostelgate/internal/models"
	"hostelgate/internal/observability"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const requestsTable = "gate_requests"

// Fields is a column -> value set applied by a conditional update.
type Fields map[string]any

// Condition names the state a conditional write expects to find.
type Condition struct {
	Status  models.RequestStatus
	Version int64
}

// RequestRepository defines the interface for gate request data operations.
// Every mutation is conditional; none of them read-then-write.
type RequestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id uint) (*models.Request, error)
	ListByStudent(ctx context.Context, studentID uint, limit, offset int) ([]*models.Request, error)
	ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.Request, error)

	// UpdateIf applies fields and bumps the version when the row is still in
	// cond. A lost race returns CONCURRENT_MODIFICATION, a missing row NOT_FOUND.
	UpdateIf(ctx context.Context, id uint, cond Condition, fields Fields, now time.Time) error
	// DeleteIf removes the row when it is still in cond.
	DeleteIf(ctx context.Context, id uint, cond Condition) error

	// ConsumeOutgoing spends one outgoing visit and locks the pass when the
	// quota is exhausted. Reports false when no slot was available.
	ConsumeOutgoing(ctx context.Context, id uint, now time.Time) (bool, error)
	// ConsumeIncoming spends the single re-entry visit while it is unexpired.
	ConsumeIncoming(ctx context.Context, id uint, now time.Time) (bool, error)
	// MarkExited enables the incoming pass once. Reports false when it was
	// already enabled or the request is not an approved gate pass.
	MarkExited(ctx context.Context, id uint, expiresAt, now time.Time) (bool, error)
}

// requestRepository implements RequestRepository
type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new gate request repository
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *models.Request) (err error) {
	ctx, span := observability.StartRepositorySpan(ctx, "Create", requestsTable)
	defer func() { observability.EndSpan(span, err) }()
	defer observability.TrackQuery("create", requestsTable)()

	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return classify(err, "create request")
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id uint) (_ *models.Request, err error) {
	ctx, span := observability.StartRepositorySpan(ctx, "GetByID", requestsTable)
	defer func() { observability.EndSpan(span, err) }()
	defer observability.TrackQuery("select", requestsTable)()

	var req models.Request
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Request", id)
		}
		return nil, classify(err, "get request")
	}
	return &req, nil
}

func (r *requestRepository) ListByStudent(ctx context.Context, studentID uint, limit, offset int) ([]*models.Request, error) {
	defer observability.TrackQuery("select", requestsTable)()

	var reqs []*models.Request
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&reqs).Error
	if err != nil {
		return nil, classify(err, "list student requests")
	}
	return reqs, nil
}

func (r *requestRepository) ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.Request, error) {
	defer observability.TrackQuery("select", requestsTable)()

	var reqs []*models.Request
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&reqs).Error
	if err != nil {
		return nil, classify(err, "list requests by status")
	}
	return reqs, nil
}

func (r *requestRepository) UpdateIf(ctx context.Context, id uint, cond Condition, fields Fields, now time.Time) (err error) {
	ctx, span := observability.StartRepositorySpan(ctx, "UpdateIf", requestsTable)
	defer func() { observability.EndSpan(span, err) }()
	defer observability.TrackQuery("update", requestsTable)()

	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = now.UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ? AND version = ?", id, cond.Status, cond.Version).
		Updates(updates)
	if res.Error != nil {
		return classify(res.Error, "update request")
	}
	if res.RowsAffected == 0 {
		return r.missedWrite(ctx, id, "update")
	}
	return nil
}

func (r *requestRepository) DeleteIf(ctx context.Context, id uint, cond Condition) (err error) {
	ctx, span := observability.StartRepositorySpan(ctx, "DeleteIf", requestsTable)
	defer func() { observability.EndSpan(span, err) }()
	defer observability.TrackQuery("delete", requestsTable)()

	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND version = ?", id, cond.Status, cond.Version).
		Delete(&models.Request{})
	if res.Error != nil {
		return classify(res.Error, "delete request")
	}
	if res.RowsAffected == 0 {
		return r.missedWrite(ctx, id, "delete")
	}
	return nil
}

func (r *requestRepository) ConsumeOutgoing(ctx context.Context, id uint, now time.Time) (_ bool, err error) {
	ctx, span := observability.StartRepositorySpan(ctx, "ConsumeOutgoing", requestsTable)
	defer func() { observability.EndSpan(span, err) }()
	defer observability.TrackQuery("update", requestsTable)()

	// SET expressions read the pre-update row, so visit_locked sees the old count.
	res := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ? AND application_type <> ? AND outgoing_visit_count < max_visits AND visit_locked = ?",
			id, models.RequestStatusApproved, models.ApplicationTypeStayInHostel, false).
		Updates(map[string]any{
			"outgoing_visit_count": gorm.Expr("outgoing_visit_count + 1"),
			"visit_locked":         gorm.Expr("outgoing_visit_count + 1 >= max_visits"),
			"version":              gorm.Expr("version + 1"),
			"updated_at":           now.UTC(),
		})
	if res.Error != nil {
		return false, classify(res.Error, "consume outgoing visit")
	}
	return res.RowsAffected == 1, nil
}

func (r *requestRepository) ConsumeIncoming(ctx context.Context, id uint, now time.Time) (_ bool, err error) {
	ctx, span := observability.StartRepositorySpan(ctx, "ConsumeIncoming", requestsTable)
	defer func() { observability.EndSpan(span, err) }()
	defer observability.TrackQuery("update", requestsTable)()

	res := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ? AND incoming_qr_generated = ? AND incoming_visit_count < ? AND incoming_qr_expires_at >= ?",
			id, models.RequestStatusApproved, true, models.MaxIncomingVisits, now.UTC()).
		Updates(map[string]any{
			"incoming_visit_count": gorm.Expr("incoming_visit_count + 1"),
			"version":              gorm.Expr("version + 1"),
			"updated_at":           now.UTC(),
		})
	if res.Error != nil {
		return false, classify(res.Error, "consume incoming visit")
	}
	return res.RowsAffected == 1, nil
}

func (r *requestRepository) MarkExited(ctx context.Context, id uint, expiresAt, now time.Time) (_ bool, err error) {
	ctx, span := observability.StartRepositorySpan(ctx, "MarkExited", requestsTable)
	defer func() { observability.EndSpan(span, err) }()
	defer observability.TrackQuery("update", requestsTable)()

	res := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ? AND application_type <> ? AND incoming_qr_generated = ?",
			id, models.RequestStatusApproved, models.ApplicationTypeStayInHostel, false).
		Updates(map[string]any{
			"incoming_qr_generated":  true,
			"incoming_qr_expires_at": expiresAt.UTC(),
			"version":                gorm.Expr("version + 1"),
			"updated_at":             now.UTC(),
		})
	if res.Error != nil {
		return false, classify(res.Error, "mark exited")
	}
	return res.RowsAffected == 1, nil
}

// missedWrite distinguishes a vanished row from a lost race after a
// conditional write matched nothing.
func (r *requestRepository) missedWrite(ctx context.Context, id uint, op string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Request{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return classify(err, "re-read request")
	}
	if count == 0 {
		return models.NewNotFoundError("Request", id)
	}
	observability.OptimisticLockConflicts.WithLabelValues(op).Inc()
	return models.NewConcurrentModificationError(id)
}

// Postgres SQLSTATEs that mean another writer won.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func classify(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return &models.AppError{
				Code:    models.CodeConcurrentModification,
				Message: "request was modified concurrently; reload and retry",
				Err:     err,
			}
		}
	}
	return models.NewInternalError(fmt.Errorf("%s: %w", op, err))
}
