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
	ErrVisitorNotFound = errors.New("visitor identity not found")
)

// VisitorRepository handles visitor identity database operations
type VisitorRepository struct {
	db *Database
}

// NewVisitorRepository creates a new visitor repository
func NewVisitorRepository(db *Database) *VisitorRepository {
	return &VisitorRepository{db: db}
}

const visitorColumns = `
	id, visitor_token, ip_address, public_ip, confidence_score,
	browser_name, browser_version, os, os_version, device, incognito,
	first_seen_at, last_seen_at, application_count, last_application_date
`

// GetOrCreate looks up a visitor identity and creates one if absent. Lookup
// keys on the provider token when present, falling back to the client IP only
// when no token was supplied. Descriptive fields are overwritten on every
// sighting (overwrite-on-conflict).
func (r *VisitorRepository) GetOrCreate(ctx context.Context, v *models.VisitorIdentity) (*models.VisitorIdentity, error) {
	ctx, cancel := r.db.withQueryTimeout(ctx)
	defer cancel()

	var existing *models.VisitorIdentity
	var err error

	if v.Token != nil && *v.Token != "" {
		existing, err = r.GetByToken(ctx, *v.Token)
	} else if v.ClientIP != "" {
		existing, err = r.GetByClientIP(ctx, v.ClientIP)
	} else {
		err = ErrVisitorNotFound
	}

	if err != nil {
		if !errors.Is(err, ErrVisitorNotFound) {
			return nil, err
		}
		return r.create(ctx, v)
	}

	return r.updateSighting(ctx, existing.ID, v)
}

func (r *VisitorRepository) create(ctx context.Context, v *models.VisitorIdentity) (*models.VisitorIdentity, error) {
	query := `
		INSERT INTO visitor_identities (` + visitorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	now := time.Now()
	v.ID = uuid.New()
	v.FirstSeenAt = now
	v.LastSeenAt = now

	_, err := r.db.Pool.Exec(ctx, query,
		v.ID,
		v.Token,
		v.ClientIP,
		nullableIP(v.PublicIP),
		v.ConfidenceScore,
		v.BrowserName,
		v.BrowserVersion,
		v.OS,
		v.OSVersion,
		v.Device,
		v.Incognito,
		v.FirstSeenAt,
		v.LastSeenAt,
		v.ApplicationCount,
		v.LastApplicationAt,
	)
	if err != nil {
		return nil, err
	}

	return v, nil
}

// updateSighting refreshes the descriptive fields and last-seen timestamp of
// an existing identity with the values from the latest sighting.
func (r *VisitorRepository) updateSighting(ctx context.Context, id uuid.UUID, v *models.VisitorIdentity) (*models.VisitorIdentity, error) {
	query := `
		UPDATE visitor_identities
		SET ip_address = COALESCE(NULLIF($2, ''), ip_address),
			public_ip = COALESCE($3::inet, public_ip),
			confidence_score = COALESCE($4, confidence_score),
			browser_name = COALESCE(NULLIF($5, ''), browser_name),
			browser_version = COALESCE(NULLIF($6, ''), browser_version),
			os = COALESCE(NULLIF($7, ''), os),
			os_version = COALESCE(NULLIF($8, ''), os_version),
			device = COALESCE(NULLIF($9, ''), device),
			incognito = COALESCE($10, incognito),
			last_seen_at = $11
		WHERE id = $1
		RETURNING ` + visitorColumns

	return r.scanVisitorRow(r.db.Pool.QueryRow(ctx, query,
		id,
		v.ClientIP,
		nullableIP(v.PublicIP),
		v.ConfidenceScore,
		v.BrowserName,
		v.BrowserVersion,
		v.OS,
		v.OSVersion,
		v.Device,
		v.Incognito,
		time.Now(),
	))
}

// GetByID retrieves a visitor identity by internal ID
func (r *VisitorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VisitorIdentity, error) {
	query := `SELECT ` + visitorColumns + ` FROM visitor_identities WHERE id = $1`
	return r.scanVisitorRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByToken retrieves a visitor identity by its provider token
func (r *VisitorRepository) GetByToken(ctx context.Context, token string) (*models.VisitorIdentity, error) {
	query := `SELECT ` + visitorColumns + ` FROM visitor_identities WHERE visitor_token = $1`
	return r.scanVisitorRow(r.db.Pool.QueryRow(ctx, query, token))
}

// GetByClientIP retrieves the most recently seen identity for a client IP
func (r *VisitorRepository) GetByClientIP(ctx context.Context, ip string) (*models.VisitorIdentity, error) {
	query := `
		SELECT ` + visitorColumns + `
		FROM visitor_identities
		WHERE ip_address = $1
		ORDER BY last_seen_at DESC
		LIMIT 1
	`
	return r.scanVisitorRow(r.db.Pool.QueryRow(ctx, query, ip))
}

// RecordApplication bumps the running application counter and the timestamp
// of the most recent linked application.
func (r *VisitorRepository) RecordApplication(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE visitor_identities
		SET application_count = application_count + 1,
			last_application_date = $2
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrVisitorNotFound
	}
	return nil
}

// List retrieves visitor identities ordered by most recently seen
func (r *VisitorRepository) List(ctx context.Context, page, pageSize int) ([]*models.VisitorIdentity, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM visitor_identities`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + visitorColumns + `
		FROM visitor_identities
		ORDER BY last_seen_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var visitors []*models.VisitorIdentity
	for rows.Next() {
		v, err := r.scanVisitor(rows)
		if err != nil {
			return nil, 0, err
		}
		visitors = append(visitors, v)
	}

	return visitors, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *VisitorRepository) scanVisitorRow(row pgx.Row) (*models.VisitorIdentity, error) {
	v, err := r.scanVisitor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVisitorNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *VisitorRepository) scanVisitor(row rowScanner) (*models.VisitorIdentity, error) {
	v := &models.VisitorIdentity{}
	var clientIP, publicIP *string

	if err := row.Scan(
		&v.ID,
		&v.Token,
		&clientIP,
		&publicIP,
		&v.ConfidenceScore,
		&v.BrowserName,
		&v.BrowserVersion,
		&v.OS,
		&v.OSVersion,
		&v.Device,
		&v.Incognito,
		&v.FirstSeenAt,
		&v.LastSeenAt,
		&v.ApplicationCount,
		&v.LastApplicationAt,
	); err != nil {
		return nil, err
	}

	if clientIP != nil {
		v.ClientIP = *clientIP
	}
	if publicIP != nil {
		v.PublicIP = *publicIP
	}
	return v, nil
}

// nullableIP maps an empty string to NULL for inet columns
func nullableIP(ip string) *string {
	if ip == "" {
		return nil
	}
	return &ip
}
