package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusdesk/certificate-api/internal/models"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
)

type certificateStore interface {
	Insert(ctx context.Context, cert *models.Certificate) error
	GetByID(ctx context.Context, id string) (*models.Certificate, error)
	ConditionalUpdate(ctx context.Context, id string, expected models.CertificateStatus, patch models.CertificatePatch) (*models.Certificate, error)
	ListByStudent(ctx context.Context, studentID string, filter models.CertificateFilter) ([]models.Certificate, error)
	ListByStatus(ctx context.Context, status models.CertificateStatus, filter models.CertificateFilter) ([]models.Certificate, error)
	ListAll(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error)
	AggregateCounts(ctx context.Context) (*models.CertificateStatistics, error)
}

type identityResolver interface {
	FindStudentByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindStaffByID(ctx context.Context, id string) (*models.StaffDetail, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const statsCacheKey = "certificates:stats"

// allowedTransitions encodes the lifecycle state machine. Statuses absent as
// keys are terminal.
var allowedTransitions = map[models.CertificateStatus][]models.CertificateStatus{
	models.StatusPending:    {models.StatusInProgress, models.StatusRejected},
	models.StatusInProgress: {models.StatusReady, models.StatusRejected},
	models.StatusReady:      {models.StatusIssued, models.StatusRejected},
}

func canTransition(from, to models.CertificateStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateCertificateRequest describes a student's certificate submission.
type CreateCertificateRequest struct {
	Type        string          `json:"type" validate:"required"`
	RequestData json.RawMessage `json:"request_data,omitempty"`
}

// UpdateStatusRequest describes a staff-driven status change.
type UpdateStatusRequest struct {
	Status          string `json:"status" validate:"required"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// CertificateService owns certificate creation, status transitions, staff
// assignment and the read-visibility rule.
type CertificateService struct {
	repo      certificateStore
	users     identityResolver
	audit     auditLogger
	cache     statsCache
	metrics   *MetricsService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCertificateService constructs CertificateService. The cache and metrics
// are optional.
func NewCertificateService(repo certificateStore, users identityResolver, audit auditLogger, cache statsCache, metrics *MetricsService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CertificateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CertificateService{repo: repo, users: users, audit: audit, cache: cache, metrics: metrics, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Create submits a new certificate request for the calling student.
func (s *CertificateService) Create(ctx context.Context, req CreateCertificateRequest, actor *models.JWTClaims) (*models.Certificate, error) {
	if err := Authorize(actor, OpCreate, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid certificate payload")
	}
	certType, ok := models.ParseCertificateType(req.Type)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown certificate type")
	}
	if _, err := s.users.FindStudentByID(ctx, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	requestData := req.RequestData
	if len(requestData) == 0 {
		requestData = json.RawMessage(`{}`)
	}
	cert := &models.Certificate{
		StudentID:   actor.UserID,
		Type:        certType,
		Status:      models.StatusPending,
		RequestData: requestData,
	}
	if err := s.repo.Insert(ctx, cert); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create certificate")
	}
	s.metrics.RecordCertificateCreated()
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionCertificateCreate, cert.ID, fmt.Sprintf(`{"type":"%s"}`, cert.Type))
	return cert, nil
}

// Assign takes a pending certificate into processing by the given staff
// member. The status guard on the conditional update guarantees that of two
// racing assignments exactly one succeeds; the loser observes a conflict.
func (s *CertificateService) Assign(ctx context.Context, certificateID, staffID string, actor *models.JWTClaims) (*models.Certificate, error) {
	if err := Authorize(actor, OpAssign, ""); err != nil {
		return nil, err
	}
	if staffID == "" {
		staffID = actor.UserID
	}
	if _, err := s.users.FindStaffByID(ctx, staffID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "staff member not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load staff member")
	}
	cert, err := s.getCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if cert.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "certificate is already assigned or processed")
	}
	updated, err := s.repo.ConditionalUpdate(ctx, certificateID, models.StatusPending, models.CertificatePatch{
		Status:  models.StatusInProgress,
		StaffID: &staffID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "certificate was assigned concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign certificate")
	}
	s.metrics.RecordTransition(string(models.StatusInProgress))
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionCertificateAssign, updated.ID, fmt.Sprintf(`{"staff_id":"%s"}`, staffID))
	return updated, nil
}

// UpdateStatus moves a certificate along the lifecycle. Only transitions in
// the table are accepted; the actor is recorded as the handling staff member.
func (s *CertificateService) UpdateStatus(ctx context.Context, certificateID string, req UpdateStatusRequest, actor *models.JWTClaims) (*models.Certificate, error) {
	if err := Authorize(actor, OpUpdateStatus, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	newStatus, ok := models.ParseCertificateStatus(req.Status)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown certificate status")
	}
	reason := strings.TrimSpace(req.RejectionReason)
	if newStatus == models.StatusRejected && reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	if _, err := s.users.FindStaffByID(ctx, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "staff member not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load staff member")
	}
	cert, err := s.getCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, cert, newStatus, reason, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionCertificateStatus, updated.ID, fmt.Sprintf(`{"status":"%s"}`, updated.Status))
	return updated, nil
}

// AdvanceToIssued drives a certificate to issued, stepping through ready when
// the document is attached while processing is still underway. Used by the
// file attachment flow.
func (s *CertificateService) AdvanceToIssued(ctx context.Context, certificateID string, actor *models.JWTClaims) (*models.Certificate, error) {
	if err := Authorize(actor, OpUpdateStatus, ""); err != nil {
		return nil, err
	}
	cert, err := s.getCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if cert.Status == models.StatusInProgress {
		cert, err = s.transition(ctx, cert, models.StatusReady, "", actor.UserID)
		if err != nil {
			return nil, err
		}
	}
	if cert.Status != models.StatusReady {
		return nil, appErrors.Clone(appErrors.ErrConflict, "certificate cannot be issued from its current status")
	}
	updated, err := s.transition(ctx, cert, models.StatusIssued, "", actor.UserID)
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionCertificateStatus, updated.ID, `{"status":"issued"}`)
	return updated, nil
}

// GetByID returns a certificate subject to the visibility rule: students see
// only their own certificates, staff and admin see any.
func (s *CertificateService) GetByID(ctx context.Context, certificateID string, actor *models.JWTClaims) (*models.Certificate, error) {
	cert, err := s.getCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpRead, cert.StudentID); err != nil {
		return nil, err
	}
	return cert, nil
}

// ListMine returns the calling student's certificates.
func (s *CertificateService) ListMine(ctx context.Context, filter models.CertificateFilter, actor *models.JWTClaims) ([]models.Certificate, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	certs, err := s.repo.ListByStudent(ctx, actor.UserID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return certs, paginationFor(filter), nil
}

// ListPending returns unassigned certificates for staff triage.
func (s *CertificateService) ListPending(ctx context.Context, filter models.CertificateFilter, actor *models.JWTClaims) ([]models.Certificate, *models.Pagination, error) {
	if err := Authorize(actor, OpListPending, ""); err != nil {
		return nil, nil, err
	}
	certs, err := s.repo.ListByStatus(ctx, models.StatusPending, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending certificates")
	}
	return certs, paginationFor(filter), nil
}

// ListAll returns every certificate for the staff/admin overview.
func (s *CertificateService) ListAll(ctx context.Context, filter models.CertificateFilter, actor *models.JWTClaims) ([]models.Certificate, *models.Pagination, error) {
	if err := Authorize(actor, OpListAll, ""); err != nil {
		return nil, nil, err
	}
	certs, err := s.repo.ListAll(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return certs, paginationFor(filter), nil
}

// Statistics returns per-status counts. Admin only; cached briefly.
func (s *CertificateService) Statistics(ctx context.Context, actor *models.JWTClaims) (*models.CertificateStatistics, error) {
	if err := Authorize(actor, OpStatistics, ""); err != nil {
		return nil, err
	}
	if s.cache != nil {
		var cached models.CertificateStatistics
		if err := s.cache.Get(ctx, statsCacheKey, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}
	start := time.Now()
	stats, err := s.repo.AggregateCounts(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate statistics")
	}
	s.metrics.ObserveDBQuery("certificate_stats", time.Since(start))
	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, stats, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache statistics", zap.Error(err))
		}
	}
	return stats, nil
}

func (s *CertificateService) transition(ctx context.Context, cert *models.Certificate, to models.CertificateStatus, reason, staffID string) (*models.Certificate, error) {
	if !canTransition(cert.Status, to) {
		if cert.Status.Terminal() {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("certificate is already %s", cert.Status))
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot move certificate from %s to %s", cert.Status, to))
	}
	patch := models.CertificatePatch{Status: to, StaffID: &staffID}
	if to == models.StatusRejected {
		patch.RejectionReason = &reason
	}
	if to == models.StatusIssued {
		now := time.Now().UTC()
		patch.IssuedAt = &now
	}
	updated, err := s.repo.ConditionalUpdate(ctx, cert.ID, cert.Status, patch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "certificate was updated concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update certificate status")
	}
	s.metrics.RecordTransition(string(to))
	return updated, nil
}

func (s *CertificateService) getCertificate(ctx context.Context, id string) (*models.Certificate, error) {
	cert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	return cert, nil
}

func (s *CertificateService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		s.logger.Warn("failed to invalidate statistics cache", zap.Error(err))
	}
}

func (s *CertificateService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, values string) {
	if s.audit == nil {
		return
	}
	userID := actor.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "certificate",
		ResourceID: &resourceID,
		NewValues:  []byte(values),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func paginationFor(filter models.CertificateFilter) *models.Pagination {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	return &models.Pagination{Limit: limit, Offset: offset}
}
