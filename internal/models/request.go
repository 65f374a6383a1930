package models

import "time"

// ApplicationType identifies which workflow a request follows.
type ApplicationType string

const (
	// ApplicationTypeLeave is a multi-day leave with a gate pass.
	ApplicationTypeLeave ApplicationType = "leave"
	// ApplicationTypePermission is a same-day outing with out/in times.
	ApplicationTypePermission ApplicationType = "permission"
	// ApplicationTypeStayInHostel is a request to stay on campus; it never gets a gate pass.
	ApplicationTypeStayInHostel ApplicationType = "stay_in_hostel"
)

// Valid reports whether t is a known application type.
func (t ApplicationType) Valid() bool {
	switch t {
	case ApplicationTypeLeave, ApplicationTypePermission, ApplicationTypeStayInHostel:
		return true
	}
	return false
}

// RequiresOTP reports whether the type goes through parent OTP verification.
func (t ApplicationType) RequiresOTP() bool {
	return t == ApplicationTypeLeave || t == ApplicationTypePermission
}

// RequestStatus defines lifecycle states for hostel requests.
type RequestStatus string

const (
	// RequestStatusPending is the initial state of a stay-in-hostel request.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusPendingOTP is the initial state of leave and permission requests.
	RequestStatusPendingOTP RequestStatus = "pending_otp_verification"
	// RequestStatusWardenVerified means the warden confirmed the parent OTP.
	RequestStatusWardenVerified RequestStatus = "warden_verified"
	// RequestStatusWardenRecommended means the warden forwarded a stay request.
	RequestStatusWardenRecommended RequestStatus = "warden_recommended"
	// RequestStatusApproved is the principal's approval. Terminal.
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusRejected is the principal's rejection. Terminal.
	RequestStatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition can leave s.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// Deletable reports whether a student may still withdraw a request in status s.
func (s RequestStatus) Deletable() bool {
	switch s {
	case RequestStatusPending, RequestStatusPendingOTP, RequestStatusWardenVerified, RequestStatusWardenRecommended:
		return true
	}
	return false
}

// DeletableStatuses lists the pre-approval states in which delete is allowed.
func DeletableStatuses() []RequestStatus {
	return []RequestStatus{
		RequestStatusPending,
		RequestStatusPendingOTP,
		RequestStatusWardenVerified,
		RequestStatusWardenRecommended,
	}
}

// WardenRecommendation is the warden's opinion on a stay-in-hostel request.
type WardenRecommendation string

const (
	WardenRecommended    WardenRecommendation = "recommended"
	WardenNotRecommended WardenRecommendation = "not_recommended"
)

// PrincipalDecision is the final verdict on a request.
type PrincipalDecision string

const (
	PrincipalApproved PrincipalDecision = "approved"
	PrincipalRejected PrincipalDecision = "rejected"
)

// DefaultMaxVisits is the outgoing quota when configuration does not override it.
const DefaultMaxVisits = 2

// MaxIncomingVisits is the re-entry quota of a gate pass.
const MaxIncomingVisits = 1

// Request is a student's leave, permission or stay-in-hostel application.
type Request struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	ApplicationType ApplicationType `gorm:"type:varchar(20);not null;index" json:"application_type"`
	Status          RequestStatus   `gorm:"type:varchar(32);not null;index" json:"status"`
	Version         int64           `gorm:"not null;default:1" json:"version"`
	StudentID       uint            `gorm:"not null;index" json:"student_id"`
	ParentPhone     string          `gorm:"size:20" json:"parent_phone,omitempty"`
	Reason          string          `gorm:"type:text;not null" json:"reason"`

	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	GatePassDateTime *time.Time `json:"gate_pass_date_time,omitempty"`
	PermissionDate   *time.Time `json:"permission_date,omitempty"`
	OutTime          *time.Time `json:"out_time,omitempty"`
	InTime           *time.Time `json:"in_time,omitempty"`
	StayDate         *time.Time `json:"stay_date,omitempty"`

	OtpCode        string     `gorm:"size:4" json:"-"`
	OtpGeneratedAt *time.Time `json:"otp_generated_at,omitempty"`
	OtpVerifiedAt  *time.Time `json:"otp_verified_at,omitempty"`
	ResendCount    int        `gorm:"not null;default:0" json:"resend_count"`

	WardenID             *uint                `json:"warden_id,omitempty"`
	WardenRecommendation WardenRecommendation `gorm:"type:varchar(20)" json:"warden_recommendation,omitempty"`
	WardenComment        string               `gorm:"type:text" json:"warden_comment,omitempty"`
	WardenDecidedAt      *time.Time           `json:"warden_decided_at,omitempty"`

	PrincipalID        *uint             `json:"principal_id,omitempty"`
	PrincipalDecision  PrincipalDecision `gorm:"type:varchar(20)" json:"principal_decision,omitempty"`
	PrincipalComment   string            `gorm:"type:text" json:"principal_comment,omitempty"`
	RejectionReason    string            `gorm:"type:text" json:"rejection_reason,omitempty"`
	PrincipalDecidedAt *time.Time        `json:"principal_decided_at,omitempty"`

	QrAvailableFrom     *time.Time `json:"qr_available_from,omitempty"`
	OutgoingVisitCount  int        `gorm:"not null;default:0" json:"outgoing_visit_count"`
	MaxVisits           int        `gorm:"not null;default:2" json:"max_visits"`
	VisitLocked         bool       `gorm:"not null;default:false" json:"visit_locked"`
	IncomingQrGenerated bool       `gorm:"not null;default:false" json:"incoming_qr_generated"`
	IncomingQrExpiresAt *time.Time `json:"incoming_qr_expires_at,omitempty"`
	IncomingVisitCount  int        `gorm:"not null;default:0" json:"incoming_visit_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Request) TableName() string {
	return "gate_requests"
}

// InitialStatus returns the state a freshly created request of type t enters.
func InitialStatus(t ApplicationType) RequestStatus {
	if t.RequiresOTP() {
		return RequestStatusPendingOTP
	}
	return RequestStatusPending
}

var transitions = map[ApplicationType]map[RequestStatus][]RequestStatus{
	ApplicationTypeLeave: {
		RequestStatusPendingOTP:     {RequestStatusPendingOTP, RequestStatusWardenVerified},
		RequestStatusWardenVerified: {RequestStatusApproved, RequestStatusRejected},
	},
	ApplicationTypePermission: {
		RequestStatusPendingOTP:     {RequestStatusPendingOTP, RequestStatusWardenVerified},
		RequestStatusWardenVerified: {RequestStatusApproved, RequestStatusRejected},
	},
	ApplicationTypeStayInHostel: {
		RequestStatusPending:           {RequestStatusWardenRecommended},
		RequestStatusWardenRecommended: {RequestStatusApproved, RequestStatusRejected},
	},
}

// CanTransition reports whether from -> to is an edge of t's state graph.
// The only self-loop is the OTP resend on pending_otp_verification.
func CanTransition(t ApplicationType, from, to RequestStatus) bool {
	for _, next := range transitions[t][from] {
		if next == to {
			return true
		}
	}
	return false
}
