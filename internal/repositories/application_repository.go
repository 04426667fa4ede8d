package repositories

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/lendguard/fraud-engine/internal/models"
)

var (
	ErrApplicationNotFound = errors.New("loan application not found")
	ErrInvalidStatus       = errors.New("invalid application status")
)

// ApplicationRepository handles loan application database operations
type ApplicationRepository struct {
	db *Database
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *Database) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `
	id, visitor_id, full_name, email, phone, address, employment_status,
	occupation, amount_requested, repayment_duration, purpose, status,
	ip_address, public_ip, confidence_score, risk_score, metadata,
	risk_factors, fraud_patterns, bot_detected, ip_blocklisted, tor_detected,
	vpn_detected, proxy_detected, tampering_detected, incognito,
	application_date, last_modified
`

// Create persists a new application. Status always starts at pending; the
// fraud detection orchestrator is the only writer of flagged/fraud_detected.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.LoanApplication) error {
	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO loan_applications (` + applicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
	`

	now := time.Now()
	app.ID = uuid.New()
	app.Status = models.StatusPending
	app.CreatedAt = now
	app.LastModified = now
	applyApplicationDefaults(app)

	metadataBytes, _ := app.Metadata.Value()
	riskFactorBytes, _ := app.RiskFactors.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		app.ID,
		app.VisitorID,
		app.FullName,
		app.Email,
		app.Phone,
		app.Address,
		app.EmploymentStatus,
		app.Occupation,
		app.AmountRequested,
		app.RepaymentDuration,
		app.Purpose,
		app.Status,
		nullableIP(app.ClientIP),
		nullableIP(app.PublicIP),
		app.ConfidenceScore,
		app.RiskScore,
		metadataBytes,
		riskFactorBytes,
		pq.Array(app.FraudPatterns),
		app.BotDetected,
		app.IPBlocklisted,
		app.TorDetected,
		app.VPNDetected,
		app.ProxyDetected,
		app.TamperingDetected,
		app.Incognito,
		app.CreatedAt,
		app.LastModified,
	)

	return err
}

// applyApplicationDefaults fills the free-text defaults the intake form allows
// to be absent.
func applyApplicationDefaults(app *models.LoanApplication) {
	if app.FullName == "" {
		app.FullName = "Anonymous"
	}
	if app.Email == "" {
		app.Email = "not_provided@example.com"
	}
	if app.Phone == "" {
		app.Phone = "000-000-0000"
	}
	if app.Address == "" {
		app.Address = "Not provided"
	}
	if app.EmploymentStatus == "" {
		app.EmploymentStatus = "Unemployed"
	}
	if app.Occupation == "" {
		app.Occupation = "Not specified"
	}
	if app.RepaymentDuration == "" {
		app.RepaymentDuration = models.Duration12Months
	}
	if app.Purpose == "" {
		app.Purpose = "No purpose specified"
	}
}

// GetByID retrieves an application by ID
func (r *ApplicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM loan_applications WHERE id = $1`

	app, err := r.scanApplication(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return app, nil
}

// CountCrossVisitorMatches counts other applications that share the same full
// name, phone, or email but are linked to a different visitor identity (or
// none). Signals identity spoofing: one person, many devices.
func (r *ApplicationRepository) CountCrossVisitorMatches(ctx context.Context, app *models.LoanApplication) (int, error) {
	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM loan_applications
		WHERE id <> $1
		  AND visitor_id IS DISTINCT FROM $2
		  AND (LOWER(full_name) = LOWER($3) OR phone = $4 OR LOWER(email) = LOWER($5))
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query,
		app.ID, app.VisitorID, app.FullName, app.Phone, app.Email,
	).Scan(&count)
	return count, err
}

// CountVisitorAliases counts other applications from the same visitor
// identity that carry a different full name, phone, and email. Signals
// device sharing: one device, many fabricated identities.
func (r *ApplicationRepository) CountVisitorAliases(ctx context.Context, app *models.LoanApplication) (int, error) {
	if app.VisitorID == nil {
		return 0, nil
	}

	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM loan_applications
		WHERE id <> $1
		  AND visitor_id = $2
		  AND NOT (LOWER(full_name) = LOWER($3) OR phone = $4 OR LOWER(email) = LOWER($5))
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query,
		app.ID, *app.VisitorID, app.FullName, app.Phone, app.Email,
	).Scan(&count)
	return count, err
}

// CountByClientIP counts other applications submitted from the same client IP
func (r *ApplicationRepository) CountByClientIP(ctx context.Context, ip string, exclude uuid.UUID) (int, error) {
	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT COUNT(*) FROM loan_applications WHERE ip_address = $1 AND id <> $2`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ip, exclude).Scan(&count)
	return count, err
}

// CountRecentByVisitor counts other applications from the same visitor
// identity submitted since the given time.
func (r *ApplicationRepository) CountRecentByVisitor(ctx context.Context, visitorID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error) {
	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM loan_applications
		WHERE visitor_id = $1 AND application_date >= $2 AND id <> $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, visitorID, since, exclude).Scan(&count)
	return count, err
}

// FindNearDuplicates returns applications that plausibly represent the same
// real submitter under a different fingerprint: case-insensitive full-name
// match, or email local-part equal once trailing digits are stripped.
// Applications sharing this application's visitor identity are excluded.
func (r *ApplicationRepository) FindNearDuplicates(ctx context.Context, app *models.LoanApplication, emailLocalBase string) ([]*models.LoanApplication, error) {
	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + applicationColumns + `
		FROM loan_applications
		WHERE id <> $1
		  AND visitor_id IS DISTINCT FROM $2
		  AND (LOWER(full_name) = LOWER($3)
			   OR ($4 <> '' AND regexp_replace(split_part(LOWER(email), '@', 1), '\d+$', '') = $4))
		ORDER BY application_date DESC
		LIMIT 20
	`

	rows, err := r.db.Pool.Query(ctx, query, app.ID, app.VisitorID, app.FullName, emailLocalBase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanApplications(rows)
}

// CommitEvaluation atomically writes the outcome of one fraud evaluation:
// the application's risk score, status, risk factors, and fraud patterns,
// plus the fraud alert when one was produced. All writes succeed or none do.
func (r *ApplicationRepository) CommitEvaluation(ctx context.Context, app *models.LoanApplication, alert *models.FraudAlert) error {
	if !models.ValidStatus(app.Status) {
		return ErrInvalidStatus
	}

	app.RiskScore = round2(app.RiskScore)

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE loan_applications
			SET risk_score = $2, status = $3, risk_factors = $4,
				fraud_patterns = $5, last_modified = $6
			WHERE id = $1
		`

		app.LastModified = time.Now()
		riskFactorBytes, _ := app.RiskFactors.Value()

		result, err := tx.Exec(ctx, query,
			app.ID,
			app.RiskScore,
			app.Status,
			riskFactorBytes,
			pq.Array(app.FraudPatterns),
			app.LastModified,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrApplicationNotFound
		}

		if alert != nil {
			if err := insertAlert(ctx, tx, alert); err != nil {
				return err
			}
		}

		return nil
	})
}

// UpdateStatus applies a manual review outcome (approve/reject)
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !models.ValidStatus(status) {
		return ErrInvalidStatus
	}

	query := `UPDATE loan_applications SET status = $2, last_modified = $3 WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

// List retrieves applications with pagination, optionally filtered by status
func (r *ApplicationRepository) List(ctx context.Context, status string, page, pageSize int) ([]*models.LoanApplication, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM loan_applications
		WHERE ($1 = '' OR status = $1)
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + applicationColumns + `
		FROM loan_applications
		WHERE ($1 = '' OR status = $1)
		ORDER BY application_date DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	apps, err := r.scanApplications(rows)
	return apps, total, err
}

// GetRecentByVisitor retrieves a visitor's applications since the given time
func (r *ApplicationRepository) GetRecentByVisitor(ctx context.Context, visitorID uuid.UUID, since time.Time) ([]*models.LoanApplication, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM loan_applications
		WHERE visitor_id = $1 AND application_date >= $2
		ORDER BY application_date DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, visitorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanApplications(rows)
}

// GetStatistics aggregates fraud detection counters across all applications
func (r *ApplicationRepository) GetStatistics(ctx context.Context) (*models.FraudStatistics, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN status = 'flagged' THEN 1 END) AS flagged,
			COUNT(CASE WHEN status = 'fraud_detected' THEN 1 END) AS fraud,
			COUNT(CASE WHEN status = 'approved' THEN 1 END) AS approved
		FROM loan_applications
	`

	stats := &models.FraudStatistics{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&stats.TotalApplications,
		&stats.FlaggedApplications,
		&stats.FraudDetected,
		&stats.ApprovedApplications,
	)
	if err != nil {
		return nil, err
	}

	if stats.TotalApplications > 0 {
		stats.FraudRate = round2(float64(stats.FraudDetected) / float64(stats.TotalApplications) * 100)
	}
	return stats, nil
}

func (r *ApplicationRepository) scanApplications(rows pgx.Rows) ([]*models.LoanApplication, error) {
	var apps []*models.LoanApplication
	for rows.Next() {
		app, err := r.scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (r *ApplicationRepository) scanApplication(row rowScanner) (*models.LoanApplication, error) {
	app := &models.LoanApplication{}
	var clientIP, publicIP *string
	var metadataBytes, riskFactorBytes []byte
	var fraudPatterns []string

	if err := row.Scan(
		&app.ID,
		&app.VisitorID,
		&app.FullName,
		&app.Email,
		&app.Phone,
		&app.Address,
		&app.EmploymentStatus,
		&app.Occupation,
		&app.AmountRequested,
		&app.RepaymentDuration,
		&app.Purpose,
		&app.Status,
		&clientIP,
		&publicIP,
		&app.ConfidenceScore,
		&app.RiskScore,
		&metadataBytes,
		&riskFactorBytes,
		&fraudPatterns,
		&app.BotDetected,
		&app.IPBlocklisted,
		&app.TorDetected,
		&app.VPNDetected,
		&app.ProxyDetected,
		&app.TamperingDetected,
		&app.Incognito,
		&app.CreatedAt,
		&app.LastModified,
	); err != nil {
		return nil, err
	}

	if clientIP != nil {
		app.ClientIP = *clientIP
	}
	if publicIP != nil {
		app.PublicIP = *publicIP
	}
	app.Metadata.Scan(metadataBytes)
	app.RiskFactors.Scan(riskFactorBytes)
	app.FraudPatterns = fraudPatterns
	return app, nil
}

// round2 rounds a score to two decimal places, the precision persisted in the
// risk_score column.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
