package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hostelgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	// Each :memory: connection is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Request{}))
	return db
}

func ptr(t time.Time) *time.Time { return &t }

func approvedLeave(studentID uint, maxVisits int) *models.Request {
	day := time.Date(2025, 3, 11, 0, 0, 0, 0, ist)
	gatePass := time.Date(2025, 3, 11, 17, 0, 0, 0, ist)
	return &models.Request{
		ApplicationType:  models.ApplicationTypeLeave,
		Status:           models.RequestStatusApproved,
		Version:          1,
		StudentID:        studentID,
		ParentPhone:      "9876543210",
		Reason:           "home",
		StartDate:        ptr(day),
		EndDate:          ptr(day.AddDate(0, 0, 2)),
		GatePassDateTime: ptr(gatePass),
		QrAvailableFrom:  ptr(gatePass),
		MaxVisits:        maxVisits,
	}
}

func TestRequestRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	req := approvedLeave(7, 2)
	req.Status = models.RequestStatusPendingOTP
	require.NoError(t, repo.Create(ctx, req))
	require.NotZero(t, req.ID)

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPendingOTP, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 2, got.MaxVisits)
	assert.True(t, got.GatePassDateTime.Equal(*req.GatePassDateTime))

	_, err = repo.GetByID(ctx, req.ID+100)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRequestRepository_UpdateIf(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, ist)

	req := approvedLeave(7, 2)
	req.Status = models.RequestStatusPendingOTP
	require.NoError(t, repo.Create(ctx, req))

	cond := Condition{Status: models.RequestStatusPendingOTP, Version: 1}
	err := repo.UpdateIf(ctx, req.ID, cond, Fields{"status": models.RequestStatusWardenVerified}, now)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusWardenVerified, got.Status)
	assert.Equal(t, int64(2), got.Version)

	// Same precondition again: the row moved on.
	err = repo.UpdateIf(ctx, req.ID, cond, Fields{"status": models.RequestStatusWardenVerified}, now)
	assert.True(t, errors.Is(err, models.ErrConcurrentModification))

	err = repo.UpdateIf(ctx, req.ID+100, cond, Fields{"status": models.RequestStatusWardenVerified}, now)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRequestRepository_DeleteIf(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	req := approvedLeave(7, 2)
	req.Status = models.RequestStatusWardenVerified
	require.NoError(t, repo.Create(ctx, req))

	err := repo.DeleteIf(ctx, req.ID, Condition{Status: models.RequestStatusWardenVerified, Version: 5})
	assert.True(t, errors.Is(err, models.ErrConcurrentModification))

	require.NoError(t, repo.DeleteIf(ctx, req.ID, Condition{Status: models.RequestStatusWardenVerified, Version: 1}))
	_, err = repo.GetByID(ctx, req.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = repo.DeleteIf(ctx, req.ID, Condition{Status: models.RequestStatusWardenVerified, Version: 1})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRequestRepository_ConsumeOutgoingLocksAtQuota(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 11, 18, 0, 0, 0, ist)

	req := approvedLeave(7, 2)
	require.NoError(t, repo.Create(ctx, req))

	ok, err := repo.ConsumeOutgoing(ctx, req.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := repo.GetByID(ctx, req.ID)
	assert.Equal(t, 1, got.OutgoingVisitCount)
	assert.False(t, got.VisitLocked)

	ok, err = repo.ConsumeOutgoing(ctx, req.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = repo.GetByID(ctx, req.ID)
	assert.Equal(t, 2, got.OutgoingVisitCount)
	assert.True(t, got.VisitLocked)

	ok, err = repo.ConsumeOutgoing(ctx, req.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ = repo.GetByID(ctx, req.ID)
	assert.Equal(t, 2, got.OutgoingVisitCount)
}

func TestRequestRepository_ConsumeOutgoingRequiresApproval(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	req := approvedLeave(7, 2)
	req.Status = models.RequestStatusWardenVerified
	require.NoError(t, repo.Create(ctx, req))

	ok, err := repo.ConsumeOutgoing(ctx, req.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestRepository_ConcurrentConsumeNeverExceedsQuota(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 11, 18, 0, 0, 0, ist)

	const maxVisits, extra = 3, 7
	req := approvedLeave(7, maxVisits)
	require.NoError(t, repo.Create(ctx, req))

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	start := make(chan struct{})
	for i := 0; i < maxVisits+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := repo.ConsumeOutgoing(ctx, req.ID, now)
			if err == nil && ok {
				succeeded.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(maxVisits), succeeded.Load())
	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, maxVisits, got.OutgoingVisitCount)
	assert.True(t, got.VisitLocked)
}

func TestRequestRepository_IncomingFlow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 11, 18, 0, 0, 0, ist)
	expires := time.Date(2025, 3, 13, 23, 59, 0, 0, ist)

	req := approvedLeave(7, 2)
	require.NoError(t, repo.Create(ctx, req))

	ok, err := repo.ConsumeIncoming(ctx, req.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "incoming pass is not enabled before exit")

	ok, err = repo.MarkExited(ctx, req.ID, expires, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkExited(ctx, req.ID, expires.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, ok, "second exit does not move the expiry")

	got, _ := repo.GetByID(ctx, req.ID)
	assert.True(t, got.IncomingQrGenerated)
	require.NotNil(t, got.IncomingQrExpiresAt)
	assert.True(t, got.IncomingQrExpiresAt.Equal(expires))

	ok, err = repo.ConsumeIncoming(ctx, req.ID, expires.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "expired")

	ok, err = repo.ConsumeIncoming(ctx, req.ID, expires)
	require.NoError(t, err)
	assert.True(t, ok, "expiry is inclusive")

	ok, err = repo.ConsumeIncoming(ctx, req.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "quota of one")
}

func TestRequestRepository_Lists(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := approvedLeave(7, 2)
		req.Status = models.RequestStatusPendingOTP
		require.NoError(t, repo.Create(ctx, req))
	}
	other := approvedLeave(8, 2)
	require.NoError(t, repo.Create(ctx, other))

	mine, err := repo.ListByStudent(ctx, 7, 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	page, err := repo.ListByStudent(ctx, 7, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	pending, err := repo.ListByStatus(ctx, models.RequestStatusPendingOTP, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	approved, err := repo.ListByStatus(ctx, models.RequestStatusApproved, 10, 0)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, other.ID, approved[0].ID)
}
