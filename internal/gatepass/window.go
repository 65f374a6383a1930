package gatepass

import (
	"time"

	"hostelgate/internal/clock"
	"hostelgate/internal/models"
)

// Window is an inclusive time range.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t lies in [From, To].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Eligible reports whether req can carry a gate pass at all.
func Eligible(req *models.Request) bool {
	return req.Status == models.RequestStatusApproved && req.ApplicationType != models.ApplicationTypeStayInHostel
}

// OpensAt is the instant approval makes the exit pass usable: the gate pass
// time for a leave, local midnight of the date for a permission.
func OpensAt(req *models.Request, loc *time.Location) (time.Time, bool) {
	switch req.ApplicationType {
	case models.ApplicationTypeLeave:
		if req.GatePassDateTime != nil {
			return *req.GatePassDateTime, true
		}
	case models.ApplicationTypePermission:
		if req.PermissionDate != nil {
			return clock.StartOfDay(*req.PermissionDate, loc), true
		}
	}
	return time.Time{}, false
}

// OutgoingWindow derives the exit window from immutable request fields.
// Leave: [QrAvailableFrom, end of EndDate]. Permission: the whole PermissionDate.
func OutgoingWindow(req *models.Request, loc *time.Location) (Window, bool) {
	switch req.ApplicationType {
	case models.ApplicationTypeLeave:
		from := req.QrAvailableFrom
		if from == nil {
			from = req.GatePassDateTime
		}
		if from == nil || req.EndDate == nil {
			return Window{}, false
		}
		return Window{From: *from, To: clock.EndOfDay(*req.EndDate, loc)}, true
	case models.ApplicationTypePermission:
		if req.PermissionDate == nil {
			return Window{}, false
		}
		return Window{
			From: clock.StartOfDay(*req.PermissionDate, loc),
			To:   clock.EndOfDay(*req.PermissionDate, loc),
		}, true
	}
	return Window{}, false
}

// IsOutgoingAvailable = approved gate pass ∧ now in window ∧ not locked.
func IsOutgoingAvailable(req *models.Request, now time.Time, loc *time.Location) bool {
	if !Eligible(req) || req.VisitLocked || req.OutgoingVisitCount >= req.MaxVisits {
		return false
	}
	w, ok := OutgoingWindow(req, loc)
	return ok && w.Contains(now)
}

// IsIncomingAvailable = exit recorded ∧ now ≤ expiry ∧ re-entry unused.
func IsIncomingAvailable(req *models.Request, now time.Time) bool {
	if !Eligible(req) || !req.IncomingQrGenerated || req.IncomingQrExpiresAt == nil {
		return false
	}
	return !now.After(*req.IncomingQrExpiresAt) && req.IncomingVisitCount < models.MaxIncomingVisits
}

// State summarizes a request's gate pass for API responses.
type State struct {
	OutgoingWindow     *Window    `json:"outgoing_window,omitempty"`
	OutgoingAvailable  bool       `json:"outgoing_available"`
	VisitsUsed         int        `json:"visits_used"`
	VisitsRemaining    int        `json:"visits_remaining"`
	IncomingAvailable  bool       `json:"incoming_available"`
	IncomingExpiresAt  *time.Time `json:"incoming_expires_at,omitempty"`
	IncomingVisitsUsed int        `json:"incoming_visits_used"`
}

// Describe returns nil for requests that never get a gate pass.
func Describe(req *models.Request, now time.Time, loc *time.Location) *State {
	if req.ApplicationType == models.ApplicationTypeStayInHostel || req.Status != models.RequestStatusApproved {
		return nil
	}
	st := &State{
		OutgoingAvailable:  IsOutgoingAvailable(req, now, loc),
		VisitsUsed:         req.OutgoingVisitCount,
		VisitsRemaining:    max(req.MaxVisits-req.OutgoingVisitCount, 0),
		IncomingAvailable:  IsIncomingAvailable(req, now),
		IncomingExpiresAt:  req.IncomingQrExpiresAt,
		IncomingVisitsUsed: req.IncomingVisitCount,
	}
	if w, ok := OutgoingWindow(req, loc); ok {
		st.OutgoingWindow = &w
	}
	return st
}
