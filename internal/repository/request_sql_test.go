package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"hostelgate/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMockDB creates a GORM *gorm.DB backed by sqlmock for Postgres-dialect checks.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	return gormDB, mock
}

func TestConsumeOutgoing_IsSingleGuardedUpdate(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewRequestRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "gate_requests" SET .*"outgoing_visit_count"=outgoing_visit_count \+ 1.*"visit_locked"=outgoing_visit_count \+ 1 >= max_visits WHERE \(?id = \$\d+ AND status = \$\d+ AND application_type <> \$\d+ AND outgoing_visit_count < max_visits AND visit_locked = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.ConsumeOutgoing(context.Background(), 42, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIf_SerializationFailureIsConcurrentModification(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewRequestRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "gate_requests" SET .* WHERE \(?id = \$\d+ AND status = \$\d+ AND version = \$\d+`).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err := repo.UpdateIf(context.Background(), 42,
		Condition{Status: models.RequestStatusWardenVerified, Version: 3},
		Fields{"status": models.RequestStatusApproved}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConcurrentModification))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIf_OtherDatabaseErrorsAreInternal(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewRequestRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "gate_requests"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.UpdateIf(context.Background(), 42,
		Condition{Status: models.RequestStatusPending, Version: 1},
		Fields{"status": models.RequestStatusWardenRecommended}, time.Now())
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, models.CodeInternal, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
