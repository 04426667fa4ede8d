package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents an admin/reviewer account
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// VisitorIdentity represents one distinct device/browser fingerprint as
// reported by the fingerprinting provider. An identity may be linked to zero
// or more loan applications and is never deleted.
type VisitorIdentity struct {
	ID                uuid.UUID  `json:"id"`
	Token             *string    `json:"visitor_id,omitempty"` // provider token, globally unique when present
	ClientIP          string     `json:"ip_address,omitempty"`
	PublicIP          string     `json:"public_ip,omitempty"`
	ConfidenceScore   *float64   `json:"confidence_score,omitempty"`
	BrowserName       string     `json:"browser_name,omitempty"`
	BrowserVersion    string     `json:"browser_version,omitempty"`
	OS                string     `json:"os,omitempty"`
	OSVersion         string     `json:"os_version,omitempty"`
	Device            string     `json:"device,omitempty"`
	Incognito         *bool      `json:"incognito,omitempty"`
	FirstSeenAt       time.Time  `json:"first_seen_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	ApplicationCount  int        `json:"application_count"`
	LastApplicationAt *time.Time `json:"last_application_date,omitempty"`
}

// LoanApplication represents one submitted request for funds
type LoanApplication struct {
	ID                uuid.UUID  `json:"id"`
	VisitorID         *uuid.UUID `json:"visitor_id,omitempty"`
	FullName          string     `json:"full_name"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	Address           string     `json:"address"`
	EmploymentStatus  string     `json:"employment_status"`
	Occupation        string     `json:"occupation"`
	AmountRequested   float64    `json:"amount_requested"`
	RepaymentDuration string     `json:"repayment_duration"`
	Purpose           string     `json:"purpose"`
	Status            string     `json:"status"`
	ClientIP          string     `json:"ip_address,omitempty"`
	PublicIP          string     `json:"public_ip,omitempty"`
	ConfidenceScore   *float64   `json:"confidence_score,omitempty"`
	RiskScore         float64    `json:"risk_score"` // 0-100, two decimal places
	Metadata          JSONB      `json:"metadata,omitempty"`
	RiskFactors       JSONB      `json:"risk_factors,omitempty"`
	FraudPatterns     []string   `json:"fraud_patterns,omitempty"`
	BotDetected       *bool      `json:"bot_detected,omitempty"`
	IPBlocklisted     *bool      `json:"ip_blocklisted,omitempty"`
	TorDetected       *bool      `json:"tor_detected,omitempty"`
	VPNDetected       *bool      `json:"vpn_detected,omitempty"`
	ProxyDetected     *bool      `json:"proxy_detected,omitempty"`
	TamperingDetected *bool      `json:"tampering_detected,omitempty"`
	Incognito         *bool      `json:"incognito,omitempty"`
	CreatedAt         time.Time  `json:"application_date"`
	LastModified      time.Time  `json:"last_modified"`
}

// ApplicationStatus enum values. Flagged and fraud_detected are set only by
// the fraud detection orchestrator; approved/rejected only by manual review.
const (
	StatusPending       = "pending"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
	StatusFlagged       = "flagged"
	StatusFraudDetected = "fraud_detected"
)

// RepaymentDuration enum values
const (
	Duration3Months  = "3 months"
	Duration6Months  = "6 months"
	Duration12Months = "12 months"
	Duration24Months = "24 months"
)

// ValidStatus reports whether s is a known application status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusFlagged, StatusFraudDetected:
		return true
	}
	return false
}

// ValidRepaymentDuration reports whether d is a known repayment term.
func ValidRepaymentDuration(d string) bool {
	switch d {
	case Duration3Months, Duration6Months, Duration12Months, Duration24Months:
		return true
	}
	return false
}

// FraudAlert records that risk evaluation flagged an application
type FraudAlert struct {
	ID            uuid.UUID  `json:"id"`
	ApplicationID uuid.UUID  `json:"loan_application_id"`
	VisitorID     *uuid.UUID `json:"visitor_id,omitempty"`
	Reason        string     `json:"reason"`
	Decision      string     `json:"decision"` // APPROVE, REVIEW, REJECT, PENDING
	RiskScore     float64    `json:"risk_score"`
	Metadata      JSONB      `json:"metadata,omitempty"`
	Resolved      bool       `json:"resolved"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Decision category enum values
const (
	DecisionApprove = "APPROVE"
	DecisionReview  = "REVIEW"
	DecisionReject  = "REJECT"
	DecisionPending = "PENDING"
)

// CoerceDecision maps any unknown decision value to PENDING. Enforced at
// alert write time so the store never holds an out-of-vocabulary category.
func CoerceDecision(d string) string {
	switch d {
	case DecisionApprove, DecisionReview, DecisionReject, DecisionPending:
		return d
	}
	return DecisionPending
}

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	EventType  string     `json:"event_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	EntityType string     `json:"entity_type"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Action     string     `json:"action"`
	Payload    JSONB      `json:"payload"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	RequestID  string     `json:"request_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventApplication     = "application"
	AuditEventFraudEvaluation = "fraud_evaluation"
	AuditEventAlertResolution = "alert_resolution"
	AuditEventUserLogin       = "user_login"
)

// AlertEvent is the event published to the Redis Stream when an application
// is flagged. Consumed by the alert worker for best-effort notification.
type AlertEvent struct {
	AlertID       string    `json:"alert_id"`
	ApplicationID string    `json:"application_id"`
	VisitorToken  string    `json:"visitor_token,omitempty"`
	FullName      string    `json:"full_name"`
	Amount        float64   `json:"amount"`
	RiskScore     float64   `json:"risk_score"`
	Decision      string    `json:"decision"`
	Status        string    `json:"status"`
	Reasons       []string  `json:"reasons"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retry_count"`
}

// FraudStatistics represents aggregate fraud detection counters
type FraudStatistics struct {
	TotalApplications    int     `json:"total_applications"`
	FlaggedApplications  int     `json:"flagged_applications"`
	FraudDetected        int     `json:"fraud_detected"`
	ApprovedApplications int     `json:"approved_applications"`
	FraudRate            float64 `json:"fraud_rate"`
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// ParseMetadata decodes an opaque intake metadata payload. Malformed input is
// treated as empty rather than an error so scoring never aborts on it.
func ParseMetadata(raw string) JSONB {
	if raw == "" {
		return nil
	}
	var m JSONB
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}
