// Package intake accepts loan application submissions: it resolves the
// visitor identity, persists the application, and runs fraud detection
// synchronously before answering the caller.
package intake

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/internal/detection"
	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/repositories"
)

var (
	ErrInvalidAmount   = errors.New("amount requested must be non-negative")
	ErrInvalidDuration = errors.New("invalid repayment duration")
)

// ApplicationRequest is one loan application submission
type ApplicationRequest struct {
	FullName          string  `json:"full_name"`
	Email             string  `json:"email"`
	Phone             string  `json:"phone"`
	Address           string  `json:"address"`
	EmploymentStatus  string  `json:"employment_status"`
	Occupation        string  `json:"occupation"`
	AmountRequested   float64 `json:"amount_requested" binding:"required"`
	RepaymentDuration string  `json:"repayment_duration"`
	Purpose           string  `json:"purpose"`
	VisitorToken      string  `json:"visitor_id"`
	Metadata          string  `json:"metadata"`

	// Filled by the HTTP layer, not the client body
	ClientIP  string `json:"-"`
	UserAgent string `json:"-"`
	RequestID string `json:"-"`
}

// SubmitResult is the synchronous answer to a submission
type SubmitResult struct {
	ApplicationID uuid.UUID          `json:"application_id"`
	Outcome       *detection.Outcome `json:"outcome"`
}

// Service wires the intake flow together
type Service struct {
	visitors *repositories.VisitorRepository
	apps     *repositories.ApplicationRepository
	audits   *repositories.AuditRepository
	detector *detection.Detector
}

// NewService creates an intake service
func NewService(visitors *repositories.VisitorRepository, apps *repositories.ApplicationRepository, audits *repositories.AuditRepository, detector *detection.Detector) *Service {
	return &Service{
		visitors: visitors,
		apps:     apps,
		audits:   audits,
		detector: detector,
	}
}

// Submit validates the request, resolves the visitor identity, persists the
// application, and evaluates it. The response carries the committed outcome.
func (s *Service) Submit(ctx context.Context, req *ApplicationRequest) (*SubmitResult, error) {
	if req.AmountRequested < 0 {
		return nil, ErrInvalidAmount
	}
	if req.RepaymentDuration != "" && !models.ValidRepaymentDuration(req.RepaymentDuration) {
		return nil, ErrInvalidDuration
	}

	metadata := models.ParseMetadata(req.Metadata)
	signals := extractSignals(metadata)

	visitor, err := s.resolveVisitor(ctx, req, metadata, signals)
	if err != nil {
		// An unresolved identity degrades scoring to neutral defaults; it
		// never rejects the submission.
		log.Warn().Err(err).Str("request_id", req.RequestID).Msg("Visitor resolution failed")
		visitor = nil
	}

	app := &models.LoanApplication{
		FullName:          req.FullName,
		Email:             req.Email,
		Phone:             req.Phone,
		Address:           req.Address,
		EmploymentStatus:  req.EmploymentStatus,
		Occupation:        req.Occupation,
		AmountRequested:   req.AmountRequested,
		RepaymentDuration: req.RepaymentDuration,
		Purpose:           req.Purpose,
		ClientIP:          req.ClientIP,
		Metadata:          metadata,
		ConfidenceScore:   signals.confidence,
		BotDetected:       signals.bot,
		IPBlocklisted:     signals.ipBlocklisted,
		TorDetected:       signals.tor,
		VPNDetected:       signals.vpn,
		ProxyDetected:     signals.proxy,
		TamperingDetected: signals.tampering,
		Incognito:         signals.incognito,
	}
	if visitor != nil {
		app.VisitorID = &visitor.ID
		app.PublicIP = visitor.PublicIP
	}

	if err := s.apps.Create(ctx, app); err != nil {
		return nil, err
	}

	if visitor != nil {
		if err := s.visitors.RecordApplication(ctx, visitor.ID, app.CreatedAt); err != nil {
			log.Warn().Err(err).Str("visitor_id", visitor.ID.String()).Msg("Failed to record application on visitor")
		}
	}

	outcome, err := s.detector.Detect(ctx, app)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, req, app, outcome)

	return &SubmitResult{
		ApplicationID: app.ID,
		Outcome:       outcome,
	}, nil
}

// resolveVisitor get-or-creates the identity keyed on the provider token,
// falling back to the client IP when no token was supplied.
func (s *Service) resolveVisitor(ctx context.Context, req *ApplicationRequest, metadata models.JSONB, signals smartSignals) (*models.VisitorIdentity, error) {
	if req.VisitorToken == "" && req.ClientIP == "" {
		return nil, nil
	}

	identity := &models.VisitorIdentity{
		ClientIP:        req.ClientIP,
		PublicIP:        metaString(metadata, "public_ip"),
		ConfidenceScore: signals.confidence,
		BrowserName:     metaString(metadata, "browser_name"),
		BrowserVersion:  metaString(metadata, "browser_version"),
		OS:              metaString(metadata, "os"),
		OSVersion:       metaString(metadata, "os_version"),
		Device:          metaString(metadata, "device"),
		Incognito:       signals.incognito,
	}
	if req.VisitorToken != "" {
		token := req.VisitorToken
		identity.Token = &token
	}

	return s.visitors.GetOrCreate(ctx, identity)
}

func (s *Service) writeAudit(ctx context.Context, req *ApplicationRequest, app *models.LoanApplication, outcome *detection.Outcome) {
	entry := &models.AuditLog{
		EventType:  models.AuditEventApplication,
		EntityID:   app.ID,
		EntityType: "loan_application",
		Action:     "submitted",
		Payload: models.JSONB{
			"risk_score":     outcome.RiskScore,
			"decision":       outcome.Decision,
			"status":         outcome.Status,
			"fraud_detected": outcome.FraudDetected,
		},
		IPAddress: req.ClientIP,
		UserAgent: req.UserAgent,
		RequestID: req.RequestID,
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.audits.Create(auditCtx, entry); err != nil {
		log.Warn().Err(err).Str("application_id", app.ID.String()).Msg("Audit write failed")
	}
}

// smartSignals are the provider flags lifted out of the opaque metadata blob
type smartSignals struct {
	confidence    *float64
	bot           *bool
	vpn           *bool
	proxy         *bool
	tor           *bool
	tampering     *bool
	incognito     *bool
	ipBlocklisted *bool
}

func extractSignals(m models.JSONB) smartSignals {
	return smartSignals{
		confidence:    metaFloat(m, "confidence"),
		bot:           metaResult(m, "bot"),
		vpn:           metaResult(m, "vpn"),
		proxy:         metaResult(m, "proxy"),
		tor:           metaResult(m, "tor"),
		tampering:     metaResult(m, "tampering"),
		incognito:     metaBool(m, "incognito"),
		ipBlocklisted: metaResult(m, "ip_blocklist"),
	}
}

func metaString(m models.JSONB, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func metaFloat(m models.JSONB, key string) *float64 {
	if m == nil {
		return nil
	}
	if f, ok := m[key].(float64); ok {
		return &f
	}
	return nil
}

func metaBool(m models.JSONB, key string) *bool {
	if m == nil {
		return nil
	}
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

// metaResult reads the provider's nested {"signal": {"result": bool}} shape,
// accepting a bare boolean as well.
func metaResult(m models.JSONB, key string) *bool {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case bool:
		return &v
	case map[string]interface{}:
		if b, ok := v["result"].(bool); ok {
			return &b
		}
	}
	return nil
}
