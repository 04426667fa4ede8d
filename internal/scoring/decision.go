package scoring

import "github.com/lendguard/fraud-engine/internal/models"

// Decision thresholds. The three cut points are fixed; tuning happens through
// the score weights, not here.
const (
	approveCeiling = 40.0
	reviewCeiling  = 70.0
)

// Decide maps a risk score onto a decision category
func Decide(score float64) string {
	switch {
	case score <= approveCeiling:
		return models.DecisionApprove
	case score <= reviewCeiling:
		return models.DecisionReview
	default:
		return models.DecisionReject
	}
}
