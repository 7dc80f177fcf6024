package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusdesk/certificate-api/internal/models"
	"github.com/campusdesk/certificate-api/pkg/document"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
)

type fileMetadataStore interface {
	Create(ctx context.Context, file *models.CertificateFile) error
	FindByID(ctx context.Context, id string) (*models.CertificateFile, error)
	ListByCertificate(ctx context.Context, certificateID string) ([]models.CertificateFile, error)
	Delete(ctx context.Context, id string) error
}

type blobStorage interface {
	Save(filename string, data []byte) (string, error)
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (io.ReadCloser, error)
	Delete(filename string) error
}

type urlSigner interface {
	Generate(fileID, relPath string) (string, time.Time, error)
	Parse(token string) (fileID, relPath string, expiresAt time.Time, err error)
}

type certificateLifecycle interface {
	GetByID(ctx context.Context, certificateID string, actor *models.JWTClaims) (*models.Certificate, error)
	AdvanceToIssued(ctx context.Context, certificateID string, actor *models.JWTClaims) (*models.Certificate, error)
}

// FileUpload carries an incoming document from the transport layer.
type FileUpload struct {
	FileName string
	Size     int64
	MimeType string
	Content  io.Reader
}

// SignedDownload is a time-limited download grant for an attachment.
type SignedDownload struct {
	FileID    string    `json:"file_id"`
	FileName  string    `json:"file_name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CertificateFileService manages documents attached to certificates: uploads
// by staff, generated PDFs, and signed download links. Uploading a document
// completes the request, driving the certificate to issued.
type CertificateFileService struct {
	files        fileMetadataStore
	certificates certificateLifecycle
	students     identityResolver
	storage      blobStorage
	signer       urlSigner
	renderer     *document.Renderer
	audit        auditLogger
	maxSize      int64
	allowedMIMEs map[string]struct{}
	logger       *zap.Logger
}

// NewCertificateFileService constructs the service.
func NewCertificateFileService(files fileMetadataStore, certificates certificateLifecycle, students identityResolver, storage blobStorage, signer urlSigner, renderer *document.Renderer, audit auditLogger, maxSize int64, allowedMIMEs []string, logger *zap.Logger) *CertificateFileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	allowed := make(map[string]struct{}, len(allowedMIMEs))
	for _, m := range allowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &CertificateFileService{
		files:        files,
		certificates: certificates,
		students:     students,
		storage:      storage,
		signer:       signer,
		renderer:     renderer,
		audit:        audit,
		maxSize:      maxSize,
		allowedMIMEs: allowed,
		logger:       logger,
	}
}

// Upload stores a finished document for a certificate and moves the request
// to issued. When several documents exist the newest upload is the one served.
func (s *CertificateFileService) Upload(ctx context.Context, certificateID string, upload FileUpload, actor *models.JWTClaims) (*models.CertificateFile, error) {
	if err := Authorize(actor, OpUpdateStatus, ""); err != nil {
		return nil, err
	}
	if err := s.validateUpload(upload); err != nil {
		return nil, err
	}
	cert, err := s.certificates.GetByID(ctx, certificateID, actor)
	if err != nil {
		return nil, err
	}
	if err := attachableStatus(cert); err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	relPath := filepath.Join(cert.ID, fileID+sanitizeExt(upload.FileName))
	limited := io.LimitReader(upload.Content, s.maxSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	if int64(len(data)) > s.maxSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	if _, err := s.storage.Save(relPath, data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	file := &models.CertificateFile{
		ID:            fileID,
		CertificateID: cert.ID,
		FileName:      upload.FileName,
		FilePath:      relPath,
		FileSize:      int64(len(data)),
		MimeType:      strings.ToLower(upload.MimeType),
		UploadedBy:    actor.UserID,
	}
	if err := s.files.Create(ctx, file); err != nil {
		if delErr := s.storage.Delete(relPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("path", relPath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file metadata")
	}

	if cert.Status != models.StatusIssued {
		if _, err := s.certificates.AdvanceToIssued(ctx, cert.ID, actor); err != nil {
			return nil, err
		}
	}

	s.emitAudit(ctx, actor, models.AuditActionFileUpload, file.ID, fmt.Sprintf(`{"certificate_id":"%s","file_name":"%s"}`, cert.ID, file.FileName))
	return file, nil
}

// GeneratePDF renders a standard certificate document for the request and
// attaches it, issuing the certificate.
func (s *CertificateFileService) GeneratePDF(ctx context.Context, certificateID string, actor *models.JWTClaims) (*models.CertificateFile, error) {
	if err := Authorize(actor, OpUpdateStatus, ""); err != nil {
		return nil, err
	}
	cert, err := s.certificates.GetByID(ctx, certificateID, actor)
	if err != nil {
		return nil, err
	}
	if err := attachableStatus(cert); err != nil {
		return nil, err
	}
	student, err := s.students.FindStudentByID(ctx, cert.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	data := document.CertificateData{
		Number:        cert.ID,
		Type:          string(cert.Type),
		StudentName:   student.FullName(),
		StudentNumber: student.StudentNumber,
	}
	if student.GroupName != nil {
		data.GroupName = *student.GroupName
	}
	if student.Faculty != nil {
		data.Faculty = *student.Faculty
	}
	if len(cert.RequestData) > 0 {
		var fields map[string]string
		if err := json.Unmarshal(cert.RequestData, &fields); err == nil {
			data.Fields = fields
		}
	}
	rendered, err := s.renderer.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate pdf")
	}

	fileID := uuid.NewString()
	relPath := filepath.Join(cert.ID, fileID+".pdf")
	if _, err := s.storage.Save(relPath, rendered); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store generated pdf")
	}

	file := &models.CertificateFile{
		ID:            fileID,
		CertificateID: cert.ID,
		FileName:      fmt.Sprintf("certificate-%s.pdf", cert.Type),
		FilePath:      relPath,
		FileSize:      int64(len(rendered)),
		MimeType:      "application/pdf",
		UploadedBy:    actor.UserID,
	}
	if err := s.files.Create(ctx, file); err != nil {
		if delErr := s.storage.Delete(relPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned pdf", zap.String("path", relPath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file metadata")
	}

	if cert.Status != models.StatusIssued {
		if _, err := s.certificates.AdvanceToIssued(ctx, cert.ID, actor); err != nil {
			return nil, err
		}
	}

	s.emitAudit(ctx, actor, models.AuditActionFileUpload, file.ID, fmt.Sprintf(`{"certificate_id":"%s","generated":true}`, cert.ID))
	return file, nil
}

// List returns the attachments of a certificate, newest first. Visibility
// follows the certificate itself.
func (s *CertificateFileService) List(ctx context.Context, certificateID string, actor *models.JWTClaims) ([]models.CertificateFile, error) {
	if _, err := s.certificates.GetByID(ctx, certificateID, actor); err != nil {
		return nil, err
	}
	files, err := s.files.ListByCertificate(ctx, certificateID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	return files, nil
}

// DownloadURL issues a signed, short-lived link for the current document of a
// certificate. Students can only fetch links for their own certificates.
func (s *CertificateFileService) DownloadURL(ctx context.Context, certificateID string, actor *models.JWTClaims) (*SignedDownload, error) {
	if _, err := s.certificates.GetByID(ctx, certificateID, actor); err != nil {
		return nil, err
	}
	files, err := s.files.ListByCertificate(ctx, certificateID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate has no attached document")
	}
	current := files[0]
	token, expiresAt, err := s.signer.Generate(current.ID, current.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &SignedDownload{FileID: current.ID, FileName: current.FileName, Token: token, ExpiresAt: expiresAt}, nil
}

// OpenSigned validates a signed token and opens the referenced file. The token
// itself is the credential; no session is required.
func (s *CertificateFileService) OpenSigned(ctx context.Context, token string) (*models.CertificateFile, io.ReadCloser, error) {
	fileID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download link")
	}
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file metadata")
	}
	if file.FilePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link does not match the file")
	}
	reader, err := s.storage.Open(file.FilePath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return file, reader, nil
}

// Delete removes an attachment. Allowed for admins and the original uploader.
func (s *CertificateFileService) Delete(ctx context.Context, fileID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file metadata")
	}
	if actor.Role != models.RoleAdmin && actor.UserID != file.UploadedBy {
		return appErrors.Clone(appErrors.ErrForbidden, "only the uploader or an admin can delete a file")
	}
	if err := s.files.Delete(ctx, fileID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file metadata")
	}
	if err := s.storage.Delete(file.FilePath); err != nil {
		s.logger.Warn("failed to delete stored file", zap.String("path", file.FilePath), zap.Error(err))
	}
	s.emitAudit(ctx, actor, models.AuditActionFileDelete, fileID, fmt.Sprintf(`{"certificate_id":"%s"}`, file.CertificateID))
	return nil
}

// attachableStatus gates attachments before any blob or metadata is written:
// the document drives the certificate to issued, which a pending or rejected
// request cannot reach, so nothing must be stored for those.
func attachableStatus(cert *models.Certificate) error {
	switch cert.Status {
	case models.StatusInProgress, models.StatusReady, models.StatusIssued:
		return nil
	case models.StatusRejected:
		return appErrors.Clone(appErrors.ErrConflict, "cannot attach a document to a rejected certificate")
	default:
		return appErrors.Clone(appErrors.ErrConflict, "certificate has not been taken into processing")
	}
}

func (s *CertificateFileService) validateUpload(upload FileUpload) error {
	if upload.Content == nil {
		return appErrors.Clone(appErrors.ErrValidation, "file content is required")
	}
	if strings.TrimSpace(upload.FileName) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "file name is required")
	}
	if upload.Size > s.maxSize {
		return appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	if len(s.allowedMIMEs) > 0 {
		if _, ok := s.allowedMIMEs[strings.ToLower(upload.MimeType)]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, "file type is not allowed")
		}
	}
	return nil
}

func (s *CertificateFileService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, values string) {
	if s.audit == nil {
		return
	}
	userID := actor.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "certificate_file",
		ResourceID: &resourceID,
		NewValues:  []byte(values),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, r := range ext {
		if r != '.' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
