package seed

import (
	"context"
	"fmt"
	"time"

	"hostelgate/internal/middleware"
	"hostelgate/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumStudents        int
	RequestsPerStudent int
	ShouldClean        bool
	MaxVisits          int
	Seed               int64
	Now                time.Time
	Location           *time.Location
	WardenID           uint
	PrincipalID        uint
}

// DefaultOptions returns a small, varied demo data set.
func DefaultOptions(now time.Time, loc *time.Location) Options {
	return Options{
		NumStudents:        10,
		RequestsPerStudent: 4,
		Now:                now,
		Location:           loc,
		WardenID:           900,
		PrincipalID:        901,
	}
}

// Summary counts what Run inserted by status.
type Summary map[models.RequestStatus]int

var targets = map[models.ApplicationType][]models.RequestStatus{
	models.ApplicationTypeLeave: {
		models.RequestStatusPendingOTP, models.RequestStatusWardenVerified,
		models.RequestStatusApproved, models.RequestStatusRejected,
	},
	models.ApplicationTypePermission: {
		models.RequestStatusPendingOTP, models.RequestStatusWardenVerified,
		models.RequestStatusApproved, models.RequestStatusRejected,
	},
	models.ApplicationTypeStayInHostel: {
		models.RequestStatusPending, models.RequestStatusWardenRecommended,
		models.RequestStatusApproved, models.RequestStatusRejected,
	},
}

// Run inserts demo requests for students 1..NumStudents.
func Run(ctx context.Context, db *gorm.DB, opts Options) (Summary, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().In(opts.Location)
	}

	if opts.ShouldClean {
		if err := db.WithContext(ctx).Where("1 = 1").Delete(&models.Request{}).Error; err != nil {
			return nil, fmt.Errorf("clean gate_requests: %w", err)
		}
		middleware.Logger.InfoContext(ctx, "seed: cleaned existing requests")
	}

	f := NewFactory(opts.Seed, opts.Now, opts.Location, opts.MaxVisits)
	builders := []func(uint) *models.Request{f.Leave, f.Permission, f.Stay}

	summary := Summary{}
	batch := make([]*models.Request, 0, opts.NumStudents*opts.RequestsPerStudent)
	for s := 1; s <= opts.NumStudents; s++ {
		for i := 0; i < opts.RequestsPerStudent; i++ {
			req := builders[(s+i)%len(builders)](uint(s))
			choices := targets[req.ApplicationType]
			target := choices[f.faker.Number(0, len(choices)-1)]
			if err := f.Advance(req, target, opts.WardenID, opts.PrincipalID); err != nil {
				return nil, err
			}
			batch = append(batch, req)
			summary[req.Status]++
		}
	}

	if len(batch) > 0 {
		if err := db.WithContext(ctx).CreateInBatches(batch, 100).Error; err != nil {
			return nil, fmt.Errorf("insert demo requests: %w", err)
		}
	}

	middleware.Logger.InfoContext(ctx, "seed: demo requests created", "count", len(batch))
	return summary, nil
}
