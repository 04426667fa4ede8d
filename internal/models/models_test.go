package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/fraud-engine/internal/models"
)

func TestCoerceDecision(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{models.DecisionApprove, models.DecisionApprove},
		{models.DecisionReview, models.DecisionReview},
		{models.DecisionReject, models.DecisionReject},
		{models.DecisionPending, models.DecisionPending},
		{"approve", models.DecisionPending}, // case matters
		{"ESCALATE", models.DecisionPending},
		{"", models.DecisionPending},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, models.CoerceDecision(tt.in), "input %q", tt.in)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{"pending", "approved", "rejected", "flagged", "fraud_detected"} {
		assert.True(t, models.ValidStatus(s), s)
	}
	for _, s := range []string{"", "PENDING", "Flagged", "unknown"} {
		assert.False(t, models.ValidStatus(s), s)
	}
}

func TestValidRepaymentDuration(t *testing.T) {
	for _, d := range []string{"3 months", "6 months", "12 months", "24 months"} {
		assert.True(t, models.ValidRepaymentDuration(d), d)
	}
	assert.False(t, models.ValidRepaymentDuration("18 months"))
	assert.False(t, models.ValidRepaymentDuration(""))
}

func TestJSONB_RoundTrip(t *testing.T) {
	original := models.JSONB{
		"confidence": 0.95,
		"vpn":        map[string]interface{}{"result": true},
	}

	data, err := original.Value()
	require.NoError(t, err)

	var decoded models.JSONB
	require.NoError(t, decoded.Scan(data))
	assert.Equal(t, 0.95, decoded["confidence"])
}

func TestJSONB_NilHandling(t *testing.T) {
	var j models.JSONB
	data, err := j.Value()
	require.NoError(t, err)
	assert.Nil(t, data)

	var decoded models.JSONB
	require.NoError(t, decoded.Scan(nil))
	assert.Nil(t, decoded)
}

func TestParseMetadata(t *testing.T) {
	m := models.ParseMetadata(`{"confidence": 0.8, "incognito": true}`)
	require.NotNil(t, m)
	assert.Equal(t, 0.8, m["confidence"])
	assert.Equal(t, true, m["incognito"])

	// Malformed and empty payloads degrade to nil, never an error.
	assert.Nil(t, models.ParseMetadata("not json"))
	assert.Nil(t, models.ParseMetadata(""))
	assert.Nil(t, models.ParseMetadata("[1,2,3]"))
}
