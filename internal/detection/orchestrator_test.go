package detection_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/detection"
	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/scoring"
)

type fakeScorer struct {
	score float64
	err   error
}

func (f *fakeScorer) Score(ctx context.Context, app *models.LoanApplication) (*scoring.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &scoring.Result{
		Score:     f.score,
		SubScores: models.JSONB{"identity_risk": f.score},
	}, nil
}

type fakeDetectionStore struct {
	recentCount    int
	crossVisitor   int
	nearDuplicates []*models.LoanApplication

	commitErrs      []error // popped per CommitEvaluation call
	commitCalls     int
	committedApp    *models.LoanApplication
	committedAlert  *models.FraudAlert
	committedStatus string
}

func (f *fakeDetectionStore) CountRecentByVisitor(ctx context.Context, visitorID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error) {
	return f.recentCount, nil
}

func (f *fakeDetectionStore) CountCrossVisitorMatches(ctx context.Context, app *models.LoanApplication) (int, error) {
	return f.crossVisitor, nil
}

func (f *fakeDetectionStore) FindNearDuplicates(ctx context.Context, app *models.LoanApplication, emailLocalBase string) ([]*models.LoanApplication, error) {
	return f.nearDuplicates, nil
}

func (f *fakeDetectionStore) CommitEvaluation(ctx context.Context, app *models.LoanApplication, alert *models.FraudAlert) error {
	f.commitCalls++
	if len(f.commitErrs) > 0 {
		err := f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
		if err != nil {
			return err
		}
	}
	if alert != nil && alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	f.committedApp = app
	f.committedAlert = alert
	f.committedStatus = app.Status
	return nil
}

type fakeAlertStore struct {
	exists bool
}

func (f *fakeAlertStore) ExistsForApplication(ctx context.Context, applicationID uuid.UUID) (bool, error) {
	return f.exists, nil
}

type fakeLocker struct {
	acquired  bool
	available bool
	released  bool
}

func (f *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.acquired = true
	return f.available, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	f.released = true
	return nil
}

type fakeNotifier struct {
	events []*models.AlertEvent
}

func (f *fakeNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	f.events = append(f.events, event)
	return nil
}

func detectionConfig() configs.DetectionConfig {
	return configs.DetectionConfig{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		Timeout:      time.Second,
		LockTTL:      time.Second,
	}
}

func cleanApp() *models.LoanApplication {
	visitorID := uuid.New()
	return &models.LoanApplication{
		ID:        uuid.New(),
		VisitorID: &visitorID,
		FullName:  "Grace Okafor",
		Email:     "grace.okafor@gmail.com",
		Phone:     "+2348031224567",
	}
}

func TestDetect_CleanApplicationStaysPending(t *testing.T) {
	store := &fakeDetectionStore{}
	notifier := &fakeNotifier{}
	detector := detection.NewDetector(&fakeScorer{score: 10}, store, &fakeAlertStore{}, nil, notifier, detectionConfig())

	outcome, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)

	assert.False(t, outcome.FraudDetected)
	assert.Equal(t, models.StatusPending, outcome.Status)
	assert.Equal(t, models.DecisionApprove, outcome.Decision)
	assert.Empty(t, outcome.Reasons)
	assert.Nil(t, store.committedAlert)
	assert.Equal(t, models.StatusPending, store.committedStatus)
	assert.Empty(t, notifier.events)
}

func TestDetect_RepeatApplicationsFlagged(t *testing.T) {
	store := &fakeDetectionStore{recentCount: 1}
	notifier := &fakeNotifier{}
	detector := detection.NewDetector(&fakeScorer{score: 10}, store, &fakeAlertStore{}, nil, notifier, detectionConfig())

	outcome, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)

	assert.True(t, outcome.FraudDetected)
	assert.Equal(t, models.StatusFlagged, outcome.Status)
	require.NotNil(t, store.committedAlert)
	assert.Contains(t, store.committedAlert.Reason, "short period")
	assert.Len(t, notifier.events, 1)
}

func TestDetect_HighScoreBecomesFraudDetected(t *testing.T) {
	store := &fakeDetectionStore{}
	detector := detection.NewDetector(&fakeScorer{score: 85}, store, &fakeAlertStore{}, nil, nil, detectionConfig())

	outcome, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)

	assert.True(t, outcome.FraudDetected)
	assert.Equal(t, models.StatusFraudDetected, outcome.Status)
	assert.Equal(t, models.DecisionReject, outcome.Decision)
	require.NotNil(t, store.committedAlert)
	assert.Contains(t, store.committedAlert.Reason, "High risk score (85.00)")
}

func TestDetect_FakeDataAlwaysReported(t *testing.T) {
	// Scenario: a test-pattern email produces an alert reason even when the
	// numeric score is harmless.
	store := &fakeDetectionStore{}
	detector := detection.NewDetector(&fakeScorer{score: 5}, store, &fakeAlertStore{}, nil, nil, detectionConfig())

	app := cleanApp()
	app.Email = "test.account@somewhere.com"

	outcome, err := detector.Detect(context.Background(), app)
	require.NoError(t, err)

	assert.True(t, outcome.FraudDetected)
	assert.Equal(t, models.StatusFlagged, outcome.Status)
	require.NotNil(t, store.committedAlert)
	assert.Contains(t, store.committedAlert.Reason, "test pattern")
}

func TestDetect_ReasonsJoinedWithPipe(t *testing.T) {
	store := &fakeDetectionStore{recentCount: 2, crossVisitor: 1}
	detector := detection.NewDetector(&fakeScorer{score: 85}, store, &fakeAlertStore{}, nil, nil, detectionConfig())

	_, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)

	require.NotNil(t, store.committedAlert)
	parts := strings.Split(store.committedAlert.Reason, " | ")
	assert.Len(t, parts, 3)
	// Check order: repeats, cross-visitor details, then high score last.
	assert.Contains(t, parts[0], "short period")
	assert.Contains(t, parts[1], "different visitor")
	assert.Contains(t, parts[2], "High risk score")
}

func TestDetect_IdempotentWhenAlertExists(t *testing.T) {
	store := &fakeDetectionStore{recentCount: 1}
	notifier := &fakeNotifier{}
	detector := detection.NewDetector(&fakeScorer{score: 50}, store, &fakeAlertStore{exists: true}, nil, notifier, detectionConfig())

	outcome, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)

	// Status and score still committed, but no second alert and no event.
	assert.True(t, outcome.FraudDetected)
	assert.Equal(t, models.StatusFlagged, store.committedStatus)
	assert.Nil(t, store.committedAlert)
	assert.Empty(t, notifier.events)
}

func TestDetect_RetriesTransientFailures(t *testing.T) {
	store := &fakeDetectionStore{
		commitErrs: []error{errors.New("timeout"), errors.New("timeout"), nil},
	}
	detector := detection.NewDetector(&fakeScorer{score: 10}, store, &fakeAlertStore{}, nil, nil, detectionConfig())

	_, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)
	assert.Equal(t, 3, store.commitCalls)
}

func TestDetect_GivesUpAfterMaxAttempts(t *testing.T) {
	storeErr := errors.New("store down")
	store := &fakeDetectionStore{
		commitErrs: []error{storeErr, storeErr, storeErr},
	}
	detector := detection.NewDetector(&fakeScorer{score: 10}, store, &fakeAlertStore{}, nil, nil, detectionConfig())

	_, err := detector.Detect(context.Background(), cleanApp())
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, 3, store.commitCalls)
}

func TestDetect_AdvisoryLockAcquiredAndReleased(t *testing.T) {
	locker := &fakeLocker{available: true}
	detector := detection.NewDetector(&fakeScorer{score: 10}, &fakeDetectionStore{}, &fakeAlertStore{}, locker, nil, detectionConfig())

	_, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)
	assert.True(t, locker.acquired)
	assert.True(t, locker.released)
}

func TestDetect_ProceedsWhenLockHeldElsewhere(t *testing.T) {
	locker := &fakeLocker{available: false}
	detector := detection.NewDetector(&fakeScorer{score: 10}, &fakeDetectionStore{}, &fakeAlertStore{}, locker, nil, detectionConfig())

	outcome, err := detector.Detect(context.Background(), cleanApp())
	require.NoError(t, err)
	assert.NotNil(t, outcome)
	assert.False(t, locker.released)
}

func TestDetect_AlertCarriesScoreSnapshot(t *testing.T) {
	store := &fakeDetectionStore{recentCount: 1}
	detector := detection.NewDetector(&fakeScorer{score: 62.5}, store, &fakeAlertStore{}, nil, nil, detectionConfig())

	app := cleanApp()
	_, err := detector.Detect(context.Background(), app)
	require.NoError(t, err)

	require.NotNil(t, store.committedAlert)
	assert.Equal(t, 62.5, store.committedAlert.RiskScore)
	assert.Equal(t, models.DecisionReview, store.committedAlert.Decision)
	assert.Equal(t, app.ID, store.committedAlert.ApplicationID)
	assert.Equal(t, 62.5, app.RiskScore)
	assert.Equal(t, app.FraudPatterns, store.committedApp.FraudPatterns)
}
