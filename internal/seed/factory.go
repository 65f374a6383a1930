// Package seed provides helpers to create demo data for local development.
// Nothing here runs in production.
package seed

import (
	"fmt"
	"time"

	"hostelgate/internal/clock"
	"hostelgate/internal/gatepass"
	"hostelgate/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

var leaveReasons = []string{
	"Sister's wedding", "Festival at home", "Medical appointment in home town",
	"Family function", "Grandparent unwell", "Semester break travel",
}

var permissionReasons = []string{
	"Dentist appointment", "Bank visit", "Buying lab supplies",
	"Passport office", "Coaching class", "Meeting local guardian",
}

var stayReasons = []string{
	"Exam preparation", "Project deadline", "Hackathon on campus",
	"Sports practice", "Library research",
}

// Factory builds internally consistent requests in every lifecycle state.
type Factory struct {
	faker *gofakeit.Faker
	loc   *time.Location
	now   time.Time
	maxV  int
}

// NewFactory returns a factory anchored at now. A zero seed is random.
func NewFactory(seed int64, now time.Time, loc *time.Location, maxVisits int) *Factory {
	if maxVisits <= 0 {
		maxVisits = models.DefaultMaxVisits
	}
	return &Factory{faker: gofakeit.New(seed), loc: loc, now: now, maxV: maxVisits}
}

func (f *Factory) phone() string {
	return fmt.Sprintf("%d%s", f.faker.Number(6, 9), f.faker.DigitN(9))
}

func (f *Factory) day(offset int) time.Time {
	return clock.StartOfDay(f.now, f.loc).AddDate(0, 0, offset)
}

func ptr(t time.Time) *time.Time { return &t }

func (f *Factory) base(studentID uint, t models.ApplicationType) *models.Request {
	created := f.now.Add(-time.Duration(f.faker.Number(1, 72)) * time.Hour)
	return &models.Request{
		ApplicationType: t,
		Status:          models.InitialStatus(t),
		Version:         1,
		StudentID:       studentID,
		MaxVisits:       f.maxV,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

// Leave builds a leave request starting within the next week.
func (f *Factory) Leave(studentID uint) *models.Request {
	req := f.base(studentID, models.ApplicationTypeLeave)
	start := f.day(f.faker.Number(1, 7))
	gatePass := start.Add(time.Duration(f.faker.Number(17*60, 21*60)) * time.Minute)
	req.ParentPhone = f.phone()
	req.Reason = f.faker.RandomString(leaveReasons)
	req.StartDate = ptr(start)
	req.EndDate = ptr(start.AddDate(0, 0, f.faker.Number(0, 4)))
	req.GatePassDateTime = ptr(gatePass)
	return req
}

// Permission builds a same-day outing within the next few days.
func (f *Factory) Permission(studentID uint) *models.Request {
	req := f.base(studentID, models.ApplicationTypePermission)
	date := f.day(f.faker.Number(1, 5))
	out := date.Add(time.Duration(f.faker.Number(9, 15)) * time.Hour)
	req.ParentPhone = f.phone()
	req.Reason = f.faker.RandomString(permissionReasons)
	req.PermissionDate = ptr(date)
	req.OutTime = ptr(out)
	req.InTime = ptr(out.Add(time.Duration(f.faker.Number(1, 4)) * time.Hour))
	return req
}

// Stay builds a stay-in-hostel request.
func (f *Factory) Stay(studentID uint) *models.Request {
	req := f.base(studentID, models.ApplicationTypeStayInHostel)
	req.Reason = f.faker.RandomString(stayReasons)
	req.StayDate = ptr(f.day(f.faker.Number(1, 10)))
	return req
}

// Advance walks req along its state graph to status, filling the fields each
// step would have set. Unreachable targets return an error and leave req as is.
func (f *Factory) Advance(req *models.Request, status models.RequestStatus, wardenID, principalID uint) error {
	var wardenStep models.RequestStatus
	switch req.Status {
	case models.RequestStatusPendingOTP:
		wardenStep = models.RequestStatusWardenVerified
	case models.RequestStatusPending:
		wardenStep = models.RequestStatusWardenRecommended
	}
	reachable := status == req.Status || (wardenStep != "" &&
		(status == wardenStep || models.CanTransition(req.ApplicationType, wardenStep, status)))
	if !reachable {
		return fmt.Errorf("%s request cannot reach %q", req.ApplicationType, status)
	}

	if req.ApplicationType.RequiresOTP() {
		generated := req.CreatedAt
		req.OtpCode = f.faker.DigitN(4)
		req.OtpGeneratedAt = &generated
	}
	if status == req.Status {
		return nil
	}

	decided := req.CreatedAt.Add(time.Hour)
	req.Status = wardenStep
	if wardenStep == models.RequestStatusWardenVerified {
		req.OtpVerifiedAt = ptr(decided)
	} else {
		req.WardenRecommendation = models.WardenRecommended
		if f.faker.Bool() {
			req.WardenRecommendation = models.WardenNotRecommended
		}
	}
	req.WardenID = &wardenID
	req.WardenComment = f.faker.Sentence(6)
	req.WardenDecidedAt = ptr(decided)
	req.Version++
	if status == req.Status {
		return nil
	}

	req.Status = status
	req.PrincipalID = &principalID
	req.PrincipalDecidedAt = ptr(decided.Add(time.Hour))
	req.Version++
	if status == models.RequestStatusRejected {
		req.PrincipalDecision = models.PrincipalRejected
		req.RejectionReason = f.faker.Sentence(5)
		return nil
	}
	req.PrincipalDecision = models.PrincipalApproved
	if opens, ok := gatepass.OpensAt(req, f.loc); ok {
		req.QrAvailableFrom = &opens
	}
	return nil
}
