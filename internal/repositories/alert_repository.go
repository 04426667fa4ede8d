package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lendguard/fraud-engine/internal/models"
)

var (
	ErrAlertNotFound = errors.New("fraud alert not found")
)

// AlertRepository handles fraud alert database operations
type AlertRepository struct {
	db *Database
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *Database) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `
	id, loan_application_id, visitor_id, reason, decision, risk_score,
	metadata, resolved, created_at
`

// insertAlert writes an alert inside an existing transaction. The decision is
// coerced to a known category before it touches the store. Shared with
// ApplicationRepository.CommitEvaluation so alert and status land atomically.
func insertAlert(ctx context.Context, tx pgx.Tx, alert *models.FraudAlert) error {
	query := `
		INSERT INTO fraud_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	alert.Decision = models.CoerceDecision(alert.Decision)

	metadataBytes, _ := alert.Metadata.Value()

	_, err := tx.Exec(ctx, query,
		alert.ID,
		alert.ApplicationID,
		alert.VisitorID,
		alert.Reason,
		alert.Decision,
		alert.RiskScore,
		metadataBytes,
		alert.Resolved,
		alert.CreatedAt,
	)
	return err
}

// Create persists a standalone alert outside an evaluation transaction
func (r *AlertRepository) Create(ctx context.Context, alert *models.FraudAlert) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return insertAlert(ctx, tx, alert)
	})
}

// ExistsForApplication reports whether an application already has an alert.
// Checked before evaluation writes so re-running detection never duplicates
// alerts.
func (r *AlertRepository) ExistsForApplication(ctx context.Context, applicationID uuid.UUID) (bool, error) {
	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT EXISTS(SELECT 1 FROM fraud_alerts WHERE loan_application_id = $1)`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, applicationID).Scan(&exists)
	return exists, err
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = $1`
	return r.scanAlertRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByApplicationID retrieves the alert linked to an application
func (r *AlertRepository) GetByApplicationID(ctx context.Context, applicationID uuid.UUID) (*models.FraudAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE loan_application_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanAlertRow(r.db.Pool.QueryRow(ctx, query, applicationID))
}

// List retrieves alerts ordered by newest first, optionally only unresolved
func (r *AlertRepository) List(ctx context.Context, unresolvedOnly bool, page, pageSize int) ([]*models.FraudAlert, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM fraud_alerts WHERE ($1 = false OR resolved = false)`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, unresolvedOnly).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE ($1 = false OR resolved = false)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, unresolvedOnly, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var alerts []*models.FraudAlert
	for rows.Next() {
		alert, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, total, rows.Err()
}

// Resolve marks an alert as handled by a reviewer
func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE fraud_alerts SET resolved = true WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (r *AlertRepository) scanAlertRow(row pgx.Row) (*models.FraudAlert, error) {
	alert, err := r.scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

func (r *AlertRepository) scanAlert(row rowScanner) (*models.FraudAlert, error) {
	alert := &models.FraudAlert{}
	var metadataBytes []byte

	if err := row.Scan(
		&alert.ID,
		&alert.ApplicationID,
		&alert.VisitorID,
		&alert.Reason,
		&alert.Decision,
		&alert.RiskScore,
		&metadataBytes,
		&alert.Resolved,
		&alert.CreatedAt,
	); err != nil {
		return nil, err
	}

	alert.Metadata.Scan(metadataBytes)
	return alert, nil
}
