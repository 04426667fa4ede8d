// Package detection coordinates one fraud evaluation per loan application:
// risk scoring, decision mapping, duplicate and fake-data checks, and the
// atomic commit of the resulting alert and status.
package detection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/notify"
	"github.com/lendguard/fraud-engine/internal/scoring"
)

// highRiskThreshold mirrors the REJECT decision boundary. Scores above it
// always produce an alert reason, independent of the other checks.
const highRiskThreshold = 70.0

// repeatWindow is the look-back for the repeat-application check. One repeat
// inside the window is reportable; the history sub-score keeps its own
// stricter threshold.
const repeatWindow = 7 * 24 * time.Hour

// Scorer produces a risk score for an application
type Scorer interface {
	Score(ctx context.Context, app *models.LoanApplication) (*scoring.Result, error)
}

// Store is the persistence surface the detector needs beyond scoring
type Store interface {
	CountRecentByVisitor(ctx context.Context, visitorID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error)
	CountCrossVisitorMatches(ctx context.Context, app *models.LoanApplication) (int, error)
	FindNearDuplicates(ctx context.Context, app *models.LoanApplication, emailLocalBase string) ([]*models.LoanApplication, error)
	CommitEvaluation(ctx context.Context, app *models.LoanApplication, alert *models.FraudAlert) error
}

// AlertStore answers whether an application already has an alert
type AlertStore interface {
	ExistsForApplication(ctx context.Context, applicationID uuid.UUID) (bool, error)
}

// Locker is a best-effort advisory lock. A nil Locker disables locking.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Detector runs fraud evaluations
type Detector struct {
	scorer   Scorer
	store    Store
	alerts   AlertStore
	locker   Locker
	notifier notify.Notifier
	cfg      configs.DetectionConfig
}

// NewDetector creates a detector
func NewDetector(scorer Scorer, store Store, alerts AlertStore, locker Locker, notifier notify.Notifier, cfg configs.DetectionConfig) *Detector {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Detector{
		scorer:   scorer,
		store:    store,
		alerts:   alerts,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Outcome is the result of one evaluation
type Outcome struct {
	RiskScore     float64  `json:"risk_score"`
	Decision      string   `json:"decision"`
	FraudDetected bool     `json:"fraud_detected"`
	Status        string   `json:"status"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Detect evaluates an application and commits the outcome. Transient store
// failures are retried with a fixed backoff; business outcomes are not.
// Re-running detection for an application that already has an alert updates
// score and status without creating a second alert.
func (d *Detector) Detect(ctx context.Context, app *models.LoanApplication) (*Outcome, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	unlock := d.tryLock(ctx, app)
	defer unlock()

	var outcome *Outcome
	var err error

	attempts := d.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, err = d.evaluate(ctx, app)
		if err == nil {
			return outcome, nil
		}
		if ctx.Err() != nil {
			break
		}

		log.Warn().Err(err).
			Str("application_id", app.ID.String()).
			Int("attempt", attempt).
			Msg("Fraud evaluation attempt failed")

		if attempt < attempts {
			select {
			case <-time.After(d.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("fraud evaluation failed after %d attempts: %w", attempts, err)
}

// tryLock serializes evaluations per visitor identity. Lock acquisition is
// advisory: a miss or a Redis failure never blocks the evaluation.
func (d *Detector) tryLock(ctx context.Context, app *models.LoanApplication) func() {
	if d.locker == nil || app.VisitorID == nil {
		return func() {}
	}

	key := "fraud:lock:visitor:" + app.VisitorID.String()
	acquired, err := d.locker.AcquireLock(ctx, key, d.cfg.LockTTL)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Advisory lock unavailable")
		return func() {}
	}
	if !acquired {
		log.Debug().Str("key", key).Msg("Concurrent evaluation in flight for visitor")
		return func() {}
	}

	return func() {
		if err := d.locker.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release advisory lock")
		}
	}
}

func (d *Detector) evaluate(ctx context.Context, app *models.LoanApplication) (*Outcome, error) {
	result, err := d.scorer.Score(ctx, app)
	if err != nil {
		return nil, err
	}

	decision := scoring.Decide(result.Score)

	reasons, err := d.collectReasons(ctx, app, result.Score)
	if err != nil {
		return nil, err
	}

	app.RiskScore = result.Score
	app.RiskFactors = result.SubScores
	app.FraudPatterns = reasons

	if len(reasons) == 0 {
		app.Status = models.StatusPending
		if err := d.store.CommitEvaluation(ctx, app, nil); err != nil {
			return nil, err
		}
		return &Outcome{
			RiskScore: result.Score,
			Decision:  decision,
			Status:    app.Status,
		}, nil
	}

	if decision == models.DecisionReject {
		app.Status = models.StatusFraudDetected
	} else {
		app.Status = models.StatusFlagged
	}

	exists, err := d.alerts.ExistsForApplication(ctx, app.ID)
	if err != nil {
		return nil, err
	}

	var alert *models.FraudAlert
	if !exists {
		alert = &models.FraudAlert{
			ApplicationID: app.ID,
			VisitorID:     app.VisitorID,
			Reason:        strings.Join(reasons, " | "),
			Decision:      decision,
			RiskScore:     result.Score,
			Metadata:      app.Metadata,
		}
	}

	if err := d.store.CommitEvaluation(ctx, app, alert); err != nil {
		return nil, err
	}

	if alert != nil {
		d.publish(ctx, app, alert, reasons)
	}

	log.Info().
		Str("application_id", app.ID.String()).
		Float64("risk_score", result.Score).
		Str("decision", decision).
		Str("status", app.Status).
		Int("reasons", len(reasons)).
		Msg("Fraud detected")

	return &Outcome{
		RiskScore:     result.Score,
		Decision:      decision,
		FraudDetected: true,
		Status:        app.Status,
		Reasons:       reasons,
	}, nil
}

// collectReasons runs the duplicate and pattern checks. Order is fixed so the
// alert reason text is stable for a given application state.
func (d *Detector) collectReasons(ctx context.Context, app *models.LoanApplication, score float64) ([]string, error) {
	var reasons []string

	if app.VisitorID != nil {
		since := time.Now().Add(-repeatWindow)
		repeats, err := d.store.CountRecentByVisitor(ctx, *app.VisitorID, since, app.ID)
		if err != nil {
			return nil, err
		}
		if repeats >= 1 {
			reasons = append(reasons, "Multiple loan applications in a short period")
		}

		crossVisitor, err := d.store.CountCrossVisitorMatches(ctx, app)
		if err != nil {
			return nil, err
		}
		if crossVisitor > 0 {
			reasons = append(reasons, "Same personal details used across different visitor identities")
		}
	}

	reasons = append(reasons, scoring.DetectFakeData(app)...)

	nearDuplicates, err := d.store.FindNearDuplicates(ctx, app, scoring.EmailLocalBase(app.Email))
	if err != nil {
		return nil, err
	}
	if len(nearDuplicates) > 0 {
		reasons = append(reasons, fmt.Sprintf("Near-duplicate applicant details (%d similar applications)", len(nearDuplicates)))
	}

	if score > highRiskThreshold {
		reasons = append(reasons, fmt.Sprintf("High risk score (%.2f)", score))
	}

	return reasons, nil
}

// publish hands the alert to the notification sink. Delivery is best effort;
// failures are logged and never surface to the caller.
func (d *Detector) publish(ctx context.Context, app *models.LoanApplication, alert *models.FraudAlert, reasons []string) {
	event := &models.AlertEvent{
		AlertID:       alert.ID.String(),
		ApplicationID: app.ID.String(),
		FullName:      app.FullName,
		Amount:        app.AmountRequested,
		RiskScore:     alert.RiskScore,
		Decision:      alert.Decision,
		Status:        app.Status,
		Reasons:       reasons,
		Timestamp:     time.Now(),
	}

	if err := d.notifier.Notify(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("alert_id", event.AlertID).
			Msg("Alert notification publish failed")
	}
}
