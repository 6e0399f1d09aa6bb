// Package models defines the core data structures for CareLedger.
//
// It includes the persisted entities (users, children, sessions, monthly
// configuration, consent events) and the API response envelope shared across
// modules.
package models

import (
	"errors"
	"time"
)

// SessionStatus describes how a logged session ended.
type SessionStatus string

const (
	// SessionAttended marks a session that took place.
	SessionAttended SessionStatus = "attended"
	// SessionCancelled marks a session that was missed or cancelled.
	SessionCancelled SessionStatus = "cancelled"
)

// MemberRole describes a caregiver's relationship to a child record.
type MemberRole string

const (
	// RoleOwner is the member responsible for the child record. Every child
	// with members has exactly one owner.
	RoleOwner MemberRole = "owner"
	// RoleParent is a caregiver who can log and view sessions.
	RoleParent MemberRole = "parent"
	// RoleTherapist is a professional member with the same read/log rights.
	RoleTherapist MemberRole = "therapist"
)

// ConsentEventType is the kind of consent event recorded.
type ConsentEventType string

const (
	// ConsentOptIn records that the user agreed to receive messages.
	ConsentOptIn ConsentEventType = "opt_in"
	// ConsentOptOut records that the user asked to stop receiving messages.
	ConsentOptOut ConsentEventType = "opt_out"
)

// Mood tags accepted after logging attended sessions.
const (
	MoodExcellent = "excellent"
	MoodGood      = "good"
	MoodOkay      = "okay"
	MoodTough     = "tough"
)

// IsValidMood reports whether the given mood tag is one of the accepted set.
func IsValidMood(mood string) bool {
	switch mood {
	case MoodExcellent, MoodGood, MoodOkay, MoodTough:
		return true
	default:
		return false
	}
}

// Date and month layouts used throughout the ledger.
const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// DefaultReminderHour is the local hour at which reminders fire unless the
// user configured another one.
const DefaultReminderHour = 20

// Validation and flow errors shared across modules.
var (
	ErrEmptyPhone        = errors.New("phone cannot be empty")
	ErrInvalidDate       = errors.New("date must be in YYYY-MM-DD format")
	ErrInvalidDateRange  = errors.New("date range must be YYYY-MM-DD..YYYY-MM-DD")
	ErrInvalidCount      = errors.New("session count must be a positive integer")
	ErrInvalidSetup      = errors.New("setup expects space-separated integers")
	ErrNoMonthlyConfig   = errors.New("no monthly config for this month")
	ErrUnknownWaiting    = errors.New("unknown waiting state token")
	ErrEmptyReason       = errors.New("reason cannot be empty")
	ErrInvalidMood       = errors.New("unknown mood tag")
	ErrInvalidMemberRole = errors.New("unknown member role")
	ErrNotOwner          = errors.New("only the owner can manage members")
	ErrAlreadyLinked     = errors.New("phone is already linked to a child record")
	ErrNotAMember        = errors.New("phone is not a member of this child record")
)

// User is a phone-scoped identity. WaitingFor is the persisted dialogue
// continuation token; the empty string means idle.
type User struct {
	TenantID         string     `json:"tenant_id,omitempty"`
	Phone            string     `json:"phone"`
	WaitingFor       string     `json:"waiting_for,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	RemindersEnabled bool       `json:"reminders_enabled"`
	ReminderTimeHour int        `json:"reminder_time_hour"`
	IsPro            bool       `json:"is_pro"`
	ProExpiresAt     *time.Time `json:"pro_expires_at,omitempty"`
	LastReminderSent string     `json:"last_reminder_sent,omitempty"` // YYYY-MM-DD
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Child is the therapy-tracking subject shared by one or more members.
type Child struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"` // phone of the creating member
	CreatedAt time.Time `json:"created_at"`
}

// ChildMember links a phone to a child with a role.
type ChildMember struct {
	ChildID   string     `json:"child_id"`
	Phone     string     `json:"phone"`
	Role      MemberRole `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsValidMemberRole reports whether the role is one of the known roles.
func IsValidMemberRole(role MemberRole) bool {
	switch role {
	case RoleOwner, RoleParent, RoleTherapist:
		return true
	default:
		return false
	}
}

// MonthlyConfig holds the paid-session plan for one scope and month.
/// PaidSessions is already net of carry forward: max(0, total - carry).
type MonthlyConfig struct {
	TenantID       string `json:"tenant_id,omitempty"`
	ScopeID        string `json:"scope_id"` // child id when linked, else phone
	Month          string `json:"month"`    // YYYY-MM
	PaidSessions   int    `json:"paid_sessions"`
	CostPerSession int    `json:"cost_per_session"`
	CarryForward   int    `json:"carry_forward"`
}

// Session is one append-only attendance/absence log row. Corrections are
// delete-then-insert, never in-place status mutation. SessionsDone is always
// 1; multi-session days are multiple rows.
type Session struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenant_id,omitempty"`
	ScopeID      string        `json:"scope_id"`
	UserPhone    string        `json:"user_phone"`
	ChildID      string        `json:"child_id,omitempty"`
	Date         string        `json:"date"`  // YYYY-MM-DD
	Month        string        `json:"month"` // YYYY-MM
	Status       SessionStatus `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	Mood         string        `json:"mood,omitempty"`
	SessionsDone int           `json:"sessions_done"`
	LoggedBy     string        `json:"logged_by"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Holiday marks a date excluded from attendance expectations.
type Holiday struct {
	TenantID string `json:"tenant_id,omitempty"`
	ScopeID  string `json:"scope_id"`
	Date     string `json:"date"`
	Month    string `json:"month"`
}

// ConsentEvent is one append-only opt-in/opt-out record. The most recent
// event decides current consent; no events means opted in.
type ConsentEvent struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id,omitempty"`
	Phone     string           `json:"phone"`
	EventType ConsentEventType `json:"event_type"`
	CreatedAt time.Time        `json:"created_at"`
}

// FeedbackNote is a free-text or transcribed voice note from a user, with an
// optional best-effort summary.
type FeedbackNote struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Phone     string    `json:"phone"`
	Note      string    `json:"note"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IncomingMessage is a normalized inbound message from any transport.
type IncomingMessage struct {
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	TenantID  string `json:"tenant_id,omitempty"`
	Time      int64  `json:"time"`
}

// InteractiveOption is one selectable button or list row. The ID is the
// stable reply token the state machine expects back.
type InteractiveOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Interactive is a prompt with selectable options, rendered natively where
// the transport supports buttons and as a numbered list elsewhere.
type Interactive struct {
	Body    string              `json:"body"`
	Options []InteractiveOption `json:"options"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates an inbound message was acknowledged but not
	// processed (duplicate delivery, bad signature already reported, etc.).
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse is the standard JSON envelope for HTTP endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Ignored creates an acknowledged-but-not-processed API response.
func Ignored(message string) APIResponse {
	return APIResponse{Status: string(APIStatusIgnored), Message: message}
}
