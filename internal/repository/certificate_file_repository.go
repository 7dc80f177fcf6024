package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusdesk/certificate-api/internal/models"
)

// CertificateFileRepository handles persistence of attachment metadata.
type CertificateFileRepository struct {
	db *sqlx.DB
}

// NewCertificateFileRepository constructs the repository.
func NewCertificateFileRepository(db *sqlx.DB) *CertificateFileRepository {
	return &CertificateFileRepository{db: db}
}

// Create persists a new attachment metadata row.
func (r *CertificateFileRepository) Create(ctx context.Context, file *models.CertificateFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificate_files (id, certificate_id, file_name, file_path, file_size, mime_type, uploaded_by, uploaded_at)
        VALUES (:id, :certificate_id, :file_name, :file_path, :file_size, :mime_type, :uploaded_by, :uploaded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("create certificate file: %w", err)
	}
	return nil
}

// FindByID returns attachment metadata by its ID.
func (r *CertificateFileRepository) FindByID(ctx context.Context, id string) (*models.CertificateFile, error) {
	const query = `SELECT id, certificate_id, file_name, file_path, file_size, mime_type, uploaded_by, uploaded_at
        FROM certificate_files WHERE id = $1`
	var file models.CertificateFile
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		return nil, err
	}
	return &file, nil
}

// ListByCertificate returns all attachments for a certificate, newest first.
// The first element is the current document under the latest-file-wins rule.
func (r *CertificateFileRepository) ListByCertificate(ctx context.Context, certificateID string) ([]models.CertificateFile, error) {
	const query = `SELECT id, certificate_id, file_name, file_path, file_size, mime_type, uploaded_by, uploaded_at
        FROM certificate_files WHERE certificate_id = $1 ORDER BY uploaded_at DESC`
	var files []models.CertificateFile
	if err := r.db.SelectContext(ctx, &files, query, certificateID); err != nil {
		return nil, fmt.Errorf("list certificate files: %w", err)
	}
	return files, nil
}

// Delete removes an attachment metadata row.
func (r *CertificateFileRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM certificate_files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete certificate file: %w", err)
	}
	return nil
}
