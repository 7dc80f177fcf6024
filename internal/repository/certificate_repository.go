package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusdesk/certificate-api/internal/models"
)

const certificateColumns = `id, student_id, staff_id, type, status, request_data, rejection_reason, issued_at, created_at, updated_at`

// CertificateRepository handles persistence of certificate requests.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Insert persists a new certificate row.
func (r *CertificateRepository) Insert(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = now
	}
	cert.UpdatedAt = cert.CreatedAt
	if cert.Status == "" {
		cert.Status = models.StatusPending
	}
	const query = `INSERT INTO certificates (id, student_id, type, status, request_data, created_at, updated_at)
        VALUES (:id, :student_id, :type, :status, :request_data, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cert); err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// GetByID returns a certificate by its ID.
func (r *CertificateRepository) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	query := fmt.Sprintf(`SELECT %s FROM certificates WHERE id = $1`, certificateColumns)
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// ConditionalUpdate applies the patch only when the row still holds the
// expected status. The status guard in the WHERE clause makes the
// read-modify-write atomic: of two racing updates exactly one matches the row.
// sql.ErrNoRows is returned when the guard did not match.
func (r *CertificateRepository) ConditionalUpdate(ctx context.Context, id string, expected models.CertificateStatus, patch models.CertificatePatch) (*models.Certificate, error) {
	query := fmt.Sprintf(`UPDATE certificates
        SET status = $3, staff_id = $4, rejection_reason = $5, issued_at = $6, updated_at = $7
        WHERE id = $1 AND status = $2
        RETURNING %s`, certificateColumns)
	var cert models.Certificate
	err := r.db.GetContext(ctx, &cert, query, id, expected, patch.Status, patch.StaffID, patch.RejectionReason, patch.IssuedAt, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// ListByStudent returns a student's certificates newest first.
func (r *CertificateRepository) ListByStudent(ctx context.Context, studentID string, filter models.CertificateFilter) ([]models.Certificate, error) {
	limit, offset := normalizeBounds(filter)
	query := fmt.Sprintf(`SELECT %s FROM certificates WHERE student_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, certificateColumns)
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, studentID, limit, offset); err != nil {
		return nil, fmt.Errorf("list student certificates: %w", err)
	}
	return certs, nil
}

// ListByStatus returns certificates in the given status newest first.
func (r *CertificateRepository) ListByStatus(ctx context.Context, status models.CertificateStatus, filter models.CertificateFilter) ([]models.Certificate, error) {
	limit, offset := normalizeBounds(filter)
	query := fmt.Sprintf(`SELECT %s FROM certificates WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, certificateColumns)
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("list certificates by status: %w", err)
	}
	return certs, nil
}

// ListAll returns certificates across all students newest first.
func (r *CertificateRepository) ListAll(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error) {
	limit, offset := normalizeBounds(filter)
	query := fmt.Sprintf(`SELECT %s FROM certificates ORDER BY created_at DESC LIMIT $1 OFFSET $2`, certificateColumns)
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certs, nil
}

// AggregateCounts returns per-status certificate counts in a single query.
func (r *CertificateRepository) AggregateCounts(ctx context.Context) (*models.CertificateStatistics, error) {
	const query = `SELECT
        COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'pending') AS pending,
        COUNT(*) FILTER (WHERE status = 'in_progress') AS in_progress,
        COUNT(*) FILTER (WHERE status = 'ready') AS ready,
        COUNT(*) FILTER (WHERE status = 'issued') AS issued,
        COUNT(*) FILTER (WHERE status = 'rejected') AS rejected
        FROM certificates`
	var stats models.CertificateStatistics
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("aggregate certificate counts: %w", err)
	}
	return &stats, nil
}

func normalizeBounds(filter models.CertificateFilter) (int, int) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
