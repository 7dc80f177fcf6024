package models

import "time"

// CertificateFile is the metadata row for a document attached to a certificate.
type CertificateFile struct {
	ID            string    `db:"id" json:"id"`
	CertificateID string    `db:"certificate_id" json:"certificate_id"`
	FileName      string    `db:"file_name" json:"file_name"`
	FilePath      string    `db:"file_path" json:"-"`
	FileSize      int64     `db:"file_size" json:"file_size"`
	MimeType      string    `db:"mime_type" json:"mime_type"`
	UploadedBy    string    `db:"uploaded_by" json:"uploaded_by"`
	UploadedAt    time.Time `db:"uploaded_at" json:"uploaded_at"`
}
