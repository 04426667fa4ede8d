// Package analytics serves the reviewer-facing aggregates: fraud statistics,
// flagged application lists, and alert resolution.
package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/queue"
	"github.com/lendguard/fraud-engine/internal/repositories"
)

const (
	statsCacheKey = "fraud:stats"
	statsCacheTTL = 30 * time.Second
)

// Service aggregates fraud detection outcomes for review
type Service struct {
	apps   *repositories.ApplicationRepository
	alerts *repositories.AlertRepository
	audits *repositories.AuditRepository
	cache  *queue.CacheClient
}

// NewService creates an analytics service. The cache may be nil; statistics
// are then computed on every call.
func NewService(apps *repositories.ApplicationRepository, alerts *repositories.AlertRepository, audits *repositories.AuditRepository, cache *queue.CacheClient) *Service {
	return &Service{
		apps:   apps,
		alerts: alerts,
		audits: audits,
		cache:  cache,
	}
}

// Statistics returns aggregate fraud counters, cached briefly so dashboard
// polling doesn't hammer the store.
func (s *Service) Statistics(ctx context.Context) (*models.FraudStatistics, error) {
	if s.cache != nil {
		var cached models.FraudStatistics
		if err := s.cache.Get(ctx, statsCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := s.apps.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, stats, statsCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache fraud statistics")
		}
	}

	return stats, nil
}

// ResolveAlert marks an alert handled and writes the audit trail entry
func (s *Service) ResolveAlert(ctx context.Context, alertID, reviewerID uuid.UUID) error {
	if err := s.alerts.Resolve(ctx, alertID); err != nil {
		return err
	}

	entry := &models.AuditLog{
		EventType:  models.AuditEventAlertResolution,
		EntityID:   alertID,
		EntityType: "fraud_alert",
		UserID:     &reviewerID,
		Action:     "resolved",
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("alert_id", alertID.String()).Msg("Audit write failed")
	}

	s.invalidateStats(ctx)
	return nil
}

// ReviewApplication applies a manual approve/reject outcome
func (s *Service) ReviewApplication(ctx context.Context, applicationID, reviewerID uuid.UUID, status string) error {
	if status != models.StatusApproved && status != models.StatusRejected {
		return repositories.ErrInvalidStatus
	}

	if err := s.apps.UpdateStatus(ctx, applicationID, status); err != nil {
		return err
	}

	entry := &models.AuditLog{
		EventType:  models.AuditEventFraudEvaluation,
		EntityID:   applicationID,
		EntityType: "loan_application",
		UserID:     &reviewerID,
		Action:     "review_" + status,
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("application_id", applicationID.String()).Msg("Audit write failed")
	}

	s.invalidateStats(ctx)
	return nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate statistics cache")
	}
}
