// Package validation checks request creation input against the hostel's
// date and gate-pass policy.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"hostelgate/internal/clock"
	"hostelgate/internal/models"
)

const (
	// MaxLeaveReasonLength bounds the reason of a leave request.
	MaxLeaveReasonLength = 100
	// MaxReasonLength bounds the reason of permission and stay requests.
	MaxReasonLength = 500
)

var parentPhoneRegex = regexp.MustCompile(`^(\+91)?[6-9][0-9]{9}$`)

// CreateInput is the student-supplied part of a new request.
type CreateInput struct {
	ApplicationType models.ApplicationType
	ParentPhone     string
	Reason          string

	StartDate        *time.Time
	EndDate          *time.Time
	GatePassDateTime *time.Time

	PermissionDate *time.Time
	OutTime        *time.Time
	InTime         *time.Time

	StayDate *time.Time
}

// Policy holds the site-specific rules used during validation.
type Policy struct {
	Location     *time.Location
	CutoffHour   int
	CutoffMinute int
}

// DefaultPolicy is 16:30 in the given location.
func DefaultPolicy(loc *time.Location) Policy {
	return Policy{Location: loc, CutoffHour: 16, CutoffMinute: 30}
}

func invalid(format string, args ...any) *models.AppError {
	return models.NewValidationError(fmt.Sprintf(format, args...))
}

// Validate checks in against the policy at instant now and returns a
// normalized copy: reason trimmed, phone stripped of its country code and
// calendar dates moved to local midnight.
func (p Policy) Validate(in CreateInput, now time.Time) (CreateInput, error) {
	if !in.ApplicationType.Valid() {
		return in, invalid("unknown application type %q", in.ApplicationType)
	}

	out := in
	out.Reason = strings.TrimSpace(in.Reason)
	if out.Reason == "" {
		return in, invalid("reason is required")
	}
	limit := MaxReasonLength
	if in.ApplicationType == models.ApplicationTypeLeave {
		limit = MaxLeaveReasonLength
	}
	if utf8.RuneCountInString(out.Reason) > limit {
		return in, invalid("reason must be at most %d characters", limit)
	}

	if in.ApplicationType.RequiresOTP() {
		phone, err := NormalizeParentPhone(in.ParentPhone)
		if err != nil {
			return in, err
		}
		out.ParentPhone = phone
	} else {
		out.ParentPhone = ""
	}

	var err error
	switch in.ApplicationType {
	case models.ApplicationTypeLeave:
		err = p.validateLeave(&out, now)
	case models.ApplicationTypePermission:
		err = p.validatePermission(&out, now)
	case models.ApplicationTypeStayInHostel:
		err = p.validateStay(&out, now)
	}
	if err != nil {
		return in, err
	}
	return out, nil
}

func (p Policy) day(t time.Time) *time.Time {
	d := clock.StartOfDay(t, p.Location)
	return &d
}

func (p Policy) validateLeave(in *CreateInput, now time.Time) error {
	if in.StartDate == nil || in.EndDate == nil || in.GatePassDateTime == nil {
		return invalid("leave requires start_date, end_date and gate_pass_date_time")
	}
	today := clock.StartOfDay(now, p.Location)
	start := p.day(*in.StartDate)
	end := p.day(*in.EndDate)

	if start.Before(today) {
		return invalid("start date cannot be in the past")
	}
	if end.Before(*start) {
		return invalid("end date must be on or after start date")
	}

	gatePass := *in.GatePassDateTime
	if start.Equal(today) {
		if gatePass.Before(now) {
			return invalid("gate pass time cannot be in the past")
		}
	} else {
		cutoff := clock.At(*start, p.CutoffHour, p.CutoffMinute, p.Location)
		if !gatePass.After(cutoff) {
			return invalid("gate pass time must be after %02d:%02d on the start date", p.CutoffHour, p.CutoffMinute)
		}
	}
	if gatePass.After(clock.EndOfDay(*end, p.Location)) {
		return invalid("gate pass time cannot be after the end date")
	}

	in.StartDate, in.EndDate = start, end
	in.PermissionDate, in.OutTime, in.InTime, in.StayDate = nil, nil, nil, nil
	return nil
}

func (p Policy) validatePermission(in *CreateInput, now time.Time) error {
	if in.PermissionDate == nil || in.OutTime == nil || in.InTime == nil {
		return invalid("permission requires permission_date, out_time and in_time")
	}
	today := clock.StartOfDay(now, p.Location)
	date := p.day(*in.PermissionDate)

	if date.Before(today) {
		return invalid("permission date cannot be in the past")
	}
	if !clock.SameDay(*in.OutTime, *date, p.Location) || !clock.SameDay(*in.InTime, *date, p.Location) {
		return invalid("out time and in time must fall on the permission date")
	}
	if !in.OutTime.Before(*in.InTime) {
		return invalid("out time must be before in time")
	}
	if date.Equal(today) && in.OutTime.Before(now) {
		return invalid("out time cannot be in the past")
	}

	in.PermissionDate = date
	in.StartDate, in.EndDate, in.GatePassDateTime, in.StayDate = nil, nil, nil, nil
	return nil
}

func (p Policy) validateStay(in *CreateInput, now time.Time) error {
	if in.StayDate == nil {
		return invalid("stay in hostel requires stay_date")
	}
	date := p.day(*in.StayDate)
	if date.Before(clock.StartOfDay(now, p.Location)) {
		return invalid("stay date cannot be in the past")
	}

	in.StayDate = date
	in.StartDate, in.EndDate, in.GatePassDateTime = nil, nil, nil
	in.PermissionDate, in.OutTime, in.InTime = nil, nil, nil
	return nil
}

// NormalizeParentPhone accepts a 10-digit mobile number with an optional +91
// prefix and returns the bare 10 digits.
func NormalizeParentPhone(phone string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	if !parentPhoneRegex.MatchString(p) {
		return "", invalid("parent phone must be a 10-digit mobile number")
	}
	return strings.TrimPrefix(p, "+91"), nil
}
