package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/fraud-engine/internal/models"
)

func TestApplyApplicationDefaults(t *testing.T) {
	app := &models.LoanApplication{}
	applyApplicationDefaults(app)

	assert.Equal(t, "Anonymous", app.FullName)
	assert.Equal(t, "not_provided@example.com", app.Email)
	assert.Equal(t, "000-000-0000", app.Phone)
	assert.Equal(t, "Not provided", app.Address)
	assert.Equal(t, "Unemployed", app.EmploymentStatus)
	assert.Equal(t, "Not specified", app.Occupation)
	assert.Equal(t, models.Duration12Months, app.RepaymentDuration)
	assert.Equal(t, "No purpose specified", app.Purpose)
}

func TestApplyApplicationDefaults_KeepsProvidedValues(t *testing.T) {
	app := &models.LoanApplication{
		FullName: "Grace Okafor",
		Phone:    "+2348031224567",
		Purpose:  "Working capital",
	}
	applyApplicationDefaults(app)

	assert.Equal(t, "Grace Okafor", app.FullName)
	assert.Equal(t, "+2348031224567", app.Phone)
	assert.Equal(t, "Working capital", app.Purpose)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 62.35, round2(62.345))
	assert.Equal(t, 23.31, round2(23.310000000000002))
	assert.Equal(t, 0.0, round2(0))
	assert.Equal(t, 100.0, round2(99.999))
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isUniqueViolation(fmt.Errorf("exec failed: %w", unique)))

	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(fmt.Errorf("connection reset")))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
}

// fakeRow replays one stored application row through Scan, the way a pgx row
// would after a commit.
type fakeRow struct {
	values []interface{}
}

func (f fakeRow) Scan(dest ...any) error {
	if len(dest) != len(f.values) {
		return fmt.Errorf("expected %d destinations, got %d", len(f.values), len(dest))
	}
	for i, d := range dest {
		v := f.values[i]
		switch p := d.(type) {
		case *uuid.UUID:
			*p = v.(uuid.UUID)
		case **uuid.UUID:
			if v == nil {
				*p = nil
			} else {
				u := v.(uuid.UUID)
				*p = &u
			}
		case *string:
			*p = v.(string)
		case **string:
			if v == nil {
				*p = nil
			} else {
				s := v.(string)
				*p = &s
			}
		case *float64:
			*p = v.(float64)
		case **float64:
			if v == nil {
				*p = nil
			} else {
				fv := v.(float64)
				*p = &fv
			}
		case **bool:
			if v == nil {
				*p = nil
			} else {
				b := v.(bool)
				*p = &b
			}
		case *[]byte:
			if v == nil {
				*p = nil
			} else {
				*p = v.([]byte)
			}
		case *[]string:
			if v == nil {
				*p = nil
			} else {
				*p = v.([]string)
			}
		case *time.Time:
			*p = v.(time.Time)
		default:
			return fmt.Errorf("unsupported destination %T at index %d", d, i)
		}
	}
	return nil
}

func TestScanApplication_RoundTrip(t *testing.T) {
	repo := &ApplicationRepository{}

	id := uuid.New()
	visitorID := uuid.New()
	now := time.Now().Truncate(time.Microsecond)

	row := fakeRow{values: []interface{}{
		id,
		visitorID,
		"Grace Okafor",
		"grace.okafor@gmail.com",
		"+2348031224567",
		"12 Marina Rd",
		"Employed",
		"Engineer",
		5000.0,
		models.Duration12Months,
		"Working capital",
		models.StatusFlagged,
		"102.89.33.10",
		nil, // public_ip
		0.97,
		62.35,
		[]byte(`{"confidence": 0.97}`),
		[]byte(`{"identity_risk": 70, "device_risk": 0}`),
		[]string{"Multiple loan applications in a short period"},
		false, // bot_detected
		nil,   // ip_blocklisted
		nil,   // tor_detected
		true,  // vpn_detected
		nil,   // proxy_detected
		nil,   // tampering_detected
		nil,   // incognito
		now,
		now,
	}}

	app, err := repo.scanApplication(row)
	require.NoError(t, err)

	// The committed score and status come back exactly as stored.
	assert.Equal(t, 62.35, app.RiskScore)
	assert.Equal(t, models.StatusFlagged, app.Status)

	assert.Equal(t, id, app.ID)
	require.NotNil(t, app.VisitorID)
	assert.Equal(t, visitorID, *app.VisitorID)
	assert.Equal(t, "102.89.33.10", app.ClientIP)
	assert.Empty(t, app.PublicIP)
	require.NotNil(t, app.ConfidenceScore)
	assert.Equal(t, 0.97, *app.ConfidenceScore)
	assert.Equal(t, models.JSONB{"identity_risk": 70.0, "device_risk": 0.0}, app.RiskFactors)
	assert.Equal(t, []string{"Multiple loan applications in a short period"}, app.FraudPatterns)
	require.NotNil(t, app.VPNDetected)
	assert.True(t, *app.VPNDetected)
	assert.Nil(t, app.Incognito)
	assert.Equal(t, now, app.CreatedAt)
}
