package scoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/scoring"
)

// fakeStore is an in-memory SignalStore with canned counts
type fakeStore struct {
	crossVisitor int
	aliases      int
	ipCount      int
	recentCount  int
	err          error
}

func (f *fakeStore) CountCrossVisitorMatches(ctx context.Context, app *models.LoanApplication) (int, error) {
	return f.crossVisitor, f.err
}

func (f *fakeStore) CountVisitorAliases(ctx context.Context, app *models.LoanApplication) (int, error) {
	return f.aliases, f.err
}

func (f *fakeStore) CountByClientIP(ctx context.Context, ip string, exclude uuid.UUID) (int, error) {
	return f.ipCount, f.err
}

func (f *fakeStore) CountRecentByVisitor(ctx context.Context, visitorID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error) {
	return f.recentCount, f.err
}

func defaultConfig() configs.ScoringConfig {
	return configs.ScoringConfig{
		IdentityWeight:      0.3,
		DeviceWeight:        0.2,
		IPWeight:            0.2,
		HistoryWeight:       0.3,
		ConfidenceThreshold: 0.9,
	}
}

func newEngine(store *fakeStore) *scoring.Engine {
	return scoring.NewEngine(store, defaultConfig())
}

// baseApp returns a clean application linked to a visitor with a high
// confidence score, which triggers no device points.
func baseApp() *models.LoanApplication {
	visitorID := uuid.New()
	confidence := 0.97
	return &models.LoanApplication{
		ID:              uuid.New(),
		VisitorID:       &visitorID,
		FullName:        "Grace Okafor",
		Email:           "grace.okafor@gmail.com",
		Phone:           "+2348031234567",
		AmountRequested: 5000,
		ClientIP:        "102.89.33.10",
		ConfidenceScore: &confidence,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestScore_NeutralDefaultsWhenNothingKnown(t *testing.T) {
	engine := newEngine(&fakeStore{})

	// No visitor identity, no IP: every axis falls back to 50, so the
	// weighted sum is exactly 50 regardless of store contents.
	app := &models.LoanApplication{ID: uuid.New()}

	result, err := engine.Score(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, 50.0, result.Score)
	assert.Equal(t, models.DecisionReview, scoring.Decide(result.Score))
}

func TestScore_CleanApplicationScoresZero(t *testing.T) {
	engine := newEngine(&fakeStore{})

	result, err := engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, models.DecisionApprove, scoring.Decide(result.Score))
}

func TestScore_IdentityRiskOnDuplicateDetails(t *testing.T) {
	engine := newEngine(&fakeStore{crossVisitor: 1})

	result, err := engine.Score(context.Background(), baseApp())
	require.NoError(t, err)

	// One cross-visitor match: identity = 60 + 10*1 = 70.
	assert.Equal(t, 70.0, result.SubScores["identity_risk"])
	assert.GreaterOrEqual(t, result.SubScores["identity_risk"].(float64), 60.0)
}

func TestScore_IdentityRiskCapsAtFiveHits(t *testing.T) {
	engine := newEngine(&fakeStore{crossVisitor: 12, aliases: 9})

	result, err := engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.SubScores["identity_risk"])
}

func TestScore_DeviceRiskMonotonicInFlags(t *testing.T) {
	engine := newEngine(&fakeStore{})

	app := baseApp()
	base, err := engine.Score(context.Background(), app)
	require.NoError(t, err)

	app.VPNDetected = boolPtr(true)
	withVPN, err := engine.Score(context.Background(), app)
	require.NoError(t, err)
	assert.Greater(t, withVPN.Score, base.Score)

	app.BotDetected = boolPtr(true)
	withBot, err := engine.Score(context.Background(), app)
	require.NoError(t, err)
	assert.Greater(t, withBot.Score, withVPN.Score)
}

func TestScore_DeviceRiskClampedAt100(t *testing.T) {
	engine := newEngine(&fakeStore{})

	app := baseApp()
	app.ConfidenceScore = nil // counts as below threshold: +30
	app.BotDetected = boolPtr(true)
	app.VPNDetected = boolPtr(true)
	app.ProxyDetected = boolPtr(true)
	app.TamperingDetected = boolPtr(true)
	app.Incognito = boolPtr(true)

	result, err := engine.Score(context.Background(), app)
	require.NoError(t, err)
	// 45+30+25+40+20+30 = 190 raw, clamped before weighting.
	assert.Equal(t, 100.0, result.SubScores["device_risk"])
}

func TestScore_SoftConfidenceBand(t *testing.T) {
	engine := newEngine(&fakeStore{})

	app := baseApp()
	confidence := 0.92 // above threshold 0.9, below 0.95
	app.ConfidenceScore = &confidence

	result, err := engine.Score(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, 15.0, result.SubScores["device_risk"])
}

func TestScore_CrowdedIP(t *testing.T) {
	// The store count excludes the application being scored, so five others
	// makes this the sixth submission from the IP: the first to trigger.
	engine := newEngine(&fakeStore{ipCount: 5})

	result, err := engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	assert.Equal(t, 80.0, result.SubScores["ip_risk"])

	engine = newEngine(&fakeStore{ipCount: 4})
	result, err = engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.SubScores["ip_risk"])
}

func TestScore_HistoryRiskAtThreeRecent(t *testing.T) {
	engine := newEngine(&fakeStore{recentCount: 3})

	result, err := engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	assert.Equal(t, 70.0, result.SubScores["history_risk"])

	engine = newEngine(&fakeStore{recentCount: 2})
	result, err = engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.SubScores["history_risk"])
}

func TestScore_WeightedCombination(t *testing.T) {
	// identity 70 (1 hit), ip 80, history 70: 70*0.3 + 0*0.2 + 80*0.2 + 70*0.3 = 58.
	engine := newEngine(&fakeStore{crossVisitor: 1, ipCount: 6, recentCount: 3})

	result, err := engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	assert.Equal(t, 58.0, result.Score)
	assert.Equal(t, models.DecisionReview, scoring.Decide(result.Score))
}

func TestScore_RoundedToTwoDecimals(t *testing.T) {
	cfg := defaultConfig()
	cfg.IdentityWeight = 0.333
	engine := scoring.NewEngine(&fakeStore{crossVisitor: 1}, cfg)

	result, err := engine.Score(context.Background(), baseApp())
	require.NoError(t, err)
	// 70 * 0.333 = 23.31 exactly at 2dp.
	assert.Equal(t, 23.31, result.Score)
}

func TestScore_PropagatesStoreErrors(t *testing.T) {
	storeErr := errors.New("connection reset")
	engine := newEngine(&fakeStore{err: storeErr})

	_, err := engine.Score(context.Background(), baseApp())
	assert.ErrorIs(t, err, storeErr)
}

func TestDecide_StepFunction(t *testing.T) {
	tests := []struct {
		score    float64
		expected string
	}{
		{0, models.DecisionApprove},
		{40, models.DecisionApprove},
		{40.01, models.DecisionReview},
		{70, models.DecisionReview},
		{70.01, models.DecisionReject},
		{100, models.DecisionReject},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, scoring.Decide(tt.score), "score %.2f", tt.score)
	}
}
