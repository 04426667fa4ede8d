package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lendguard/fraud-engine/internal/models"
)

// AuditRepository handles audit log database operations. Audit writes are
// best-effort and never block the caller's main path.
type AuditRepository struct {
	db *Database
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *Database) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create persists an audit log entry
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, event_type, entity_id, entity_type, user_id,
			action, payload, ip_address, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()

	payloadBytes, _ := entry.Payload.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.EventType,
		entry.EntityID,
		entry.EntityType,
		entry.UserID,
		entry.Action,
		payloadBytes,
		entry.IPAddress,
		entry.UserAgent,
		entry.RequestID,
		entry.CreatedAt,
	)
	return err
}

// ListByEntity retrieves the audit trail for one entity, newest first
func (r *AuditRepository) ListByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, event_type, entity_id, entity_type, user_id, action,
			payload, ip_address, user_agent, request_id, created_at
		FROM audit_logs
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditLog
	for rows.Next() {
		entry := &models.AuditLog{}
		var payloadBytes []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.EventType,
			&entry.EntityID,
			&entry.EntityType,
			&entry.UserID,
			&entry.Action,
			&payloadBytes,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.RequestID,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Payload.Scan(payloadBytes)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
