package scoring

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/models"
)

// SignalStore is the read surface the engine needs from the persistence
// layer. Satisfied by repositories.ApplicationRepository.
type SignalStore interface {
	CountCrossVisitorMatches(ctx context.Context, app *models.LoanApplication) (int, error)
	CountVisitorAliases(ctx context.Context, app *models.LoanApplication) (int, error)
	CountByClientIP(ctx context.Context, ip string, exclude uuid.UUID) (int, error)
	CountRecentByVisitor(ctx context.Context, visitorID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error)
}

// Sub-score point values. The neutral default applies whenever the signal an
// axis depends on is absent.
const (
	neutralScore = 50.0

	identityBase    = 60.0
	identityPerHit  = 10.0
	identityMaxHits = 5

	pointsBot            = 45.0
	pointsTampering      = 40.0
	pointsVPN            = 30.0
	pointsProxy          = 25.0
	pointsIncognito      = 20.0
	pointsLowConfidence  = 30.0
	pointsSoftConfidence = 15.0
	softConfidenceCeil   = 0.95

	crowdedIPScore     = 80.0
	crowdedIPThreshold = 5

	historyScore     = 70.0
	historyThreshold = 3
	historyWindow    = 7 * 24 * time.Hour
)

// Engine computes a weighted risk score from four independent axes. It holds
// no state of its own; every evaluation is a pure function of the store
// contents and the application under review.
type Engine struct {
	store SignalStore
	cfg   configs.ScoringConfig
}

// NewEngine creates a scoring engine
func NewEngine(store SignalStore, cfg configs.ScoringConfig) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Result carries the final score plus the per-axis breakdown persisted into
// the application's risk_factors column.
type Result struct {
	Score     float64
	SubScores models.JSONB
}

// Score evaluates an application. Missing optional data (no visitor identity,
// no IP, no confidence score) falls back to neutral defaults and never
// produces an error; only store failures do.
func (e *Engine) Score(ctx context.Context, app *models.LoanApplication) (*Result, error) {
	identity, err := e.identityRisk(ctx, app)
	if err != nil {
		return nil, err
	}

	device := e.deviceRisk(app)

	ip, err := e.ipRisk(ctx, app)
	if err != nil {
		return nil, err
	}

	history, err := e.historyRisk(ctx, app)
	if err != nil {
		return nil, err
	}

	weighted := identity*e.cfg.IdentityWeight +
		device*e.cfg.DeviceWeight +
		ip*e.cfg.IPWeight +
		history*e.cfg.HistoryWeight

	score := round2(clamp(weighted, 0, 100))

	log.Debug().
		Str("application_id", app.ID.String()).
		Float64("identity_risk", identity).
		Float64("device_risk", device).
		Float64("ip_risk", ip).
		Float64("history_risk", history).
		Float64("risk_score", score).
		Msg("Risk score computed")

	return &Result{
		Score: score,
		SubScores: models.JSONB{
			"identity_risk": identity,
			"device_risk":   device,
			"ip_risk":       ip,
			"history_risk":  history,
		},
	}, nil
}

// identityRisk flags identity spoofing (same details, many devices) and
// device sharing (same device, many fabricated identities).
func (e *Engine) identityRisk(ctx context.Context, app *models.LoanApplication) (float64, error) {
	if app.VisitorID == nil {
		return neutralScore, nil
	}

	crossVisitor, err := e.store.CountCrossVisitorMatches(ctx, app)
	if err != nil {
		return 0, err
	}

	aliases, err := e.store.CountVisitorAliases(ctx, app)
	if err != nil {
		return 0, err
	}

	hits := crossVisitor + aliases
	if hits == 0 {
		return 0, nil
	}
	if hits > identityMaxHits {
		hits = identityMaxHits
	}
	return math.Min(identityBase+identityPerHit*float64(hits), 100), nil
}

// deviceRisk sums fixed points per triggered smart signal and clamps to
// [0, 100]. The weight is applied once, in the final combination.
func (e *Engine) deviceRisk(app *models.LoanApplication) float64 {
	if app.VisitorID == nil {
		return neutralScore
	}

	var sum float64

	if flagged(app.BotDetected) {
		sum += pointsBot
	}
	if flagged(app.VPNDetected) {
		sum += pointsVPN
	}
	if flagged(app.ProxyDetected) {
		sum += pointsProxy
	}
	if flagged(app.TamperingDetected) {
		sum += pointsTampering
	}
	if flagged(app.Incognito) {
		sum += pointsIncognito
	}

	// Absent confidence counts as zero, which lands below the threshold.
	confidence := 0.0
	if app.ConfidenceScore != nil {
		confidence = *app.ConfidenceScore
	}
	if confidence < e.cfg.ConfidenceThreshold {
		sum += pointsLowConfidence
	} else if confidence < softConfidenceCeil {
		sum += pointsSoftConfidence
	}

	return clamp(sum, 0, 100)
}

func (e *Engine) ipRisk(ctx context.Context, app *models.LoanApplication) (float64, error) {
	if app.ClientIP == "" {
		return neutralScore, nil
	}

	// The count excludes the application under evaluation, so five others
	// means this is the sixth from the IP, the first to trigger.
	count, err := e.store.CountByClientIP(ctx, app.ClientIP, app.ID)
	if err != nil {
		return 0, err
	}
	if count >= crowdedIPThreshold {
		return crowdedIPScore, nil
	}
	return 0, nil
}

func (e *Engine) historyRisk(ctx context.Context, app *models.LoanApplication) (float64, error) {
	if app.VisitorID == nil {
		return neutralScore, nil
	}

	since := time.Now().Add(-historyWindow)
	count, err := e.store.CountRecentByVisitor(ctx, *app.VisitorID, since, app.ID)
	if err != nil {
		return 0, err
	}
	if count >= historyThreshold {
		return historyScore, nil
	}
	return 0, nil
}

func flagged(b *bool) bool {
	return b != nil && *b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
