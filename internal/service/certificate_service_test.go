package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusdesk/certificate-api/internal/models"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
)

type mockCertificateStore struct {
	certs     map[string]models.Certificate
	stats     *models.CertificateStatistics
	casDenied bool
	err       error
}

func (m *mockCertificateStore) Insert(ctx context.Context, cert *models.Certificate) error {
	if m.err != nil {
		return m.err
	}
	if m.certs == nil {
		m.certs = make(map[string]models.Certificate)
	}
	if cert.ID == "" {
		cert.ID = "generated"
	}
	cert.CreatedAt = time.Now().UTC()
	cert.UpdatedAt = cert.CreatedAt
	m.certs[cert.ID] = *cert
	return nil
}

func (m *mockCertificateStore) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	if cert, ok := m.certs[id]; ok {
		return &cert, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateStore) ConditionalUpdate(ctx context.Context, id string, expected models.CertificateStatus, patch models.CertificatePatch) (*models.Certificate, error) {
	if m.casDenied {
		return nil, sql.ErrNoRows
	}
	cert, ok := m.certs[id]
	if !ok || cert.Status != expected {
		return nil, sql.ErrNoRows
	}
	cert.Status = patch.Status
	cert.StaffID = patch.StaffID
	cert.RejectionReason = patch.RejectionReason
	cert.IssuedAt = patch.IssuedAt
	cert.UpdatedAt = time.Now().UTC()
	m.certs[id] = cert
	return &cert, nil
}

func (m *mockCertificateStore) ListByStudent(ctx context.Context, studentID string, filter models.CertificateFilter) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, cert := range m.certs {
		if cert.StudentID == studentID {
			out = append(out, cert)
		}
	}
	return out, nil
}

func (m *mockCertificateStore) ListByStatus(ctx context.Context, status models.CertificateStatus, filter models.CertificateFilter) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, cert := range m.certs {
		if cert.Status == status {
			out = append(out, cert)
		}
	}
	return out, nil
}

func (m *mockCertificateStore) ListAll(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, cert := range m.certs {
		out = append(out, cert)
	}
	return out, nil
}

func (m *mockCertificateStore) AggregateCounts(ctx context.Context) (*models.CertificateStatistics, error) {
	if m.stats != nil {
		return m.stats, nil
	}
	stats := &models.CertificateStatistics{}
	for _, cert := range m.certs {
		stats.Total++
		switch cert.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusInProgress:
			stats.InProgress++
		case models.StatusReady:
			stats.Ready++
		case models.StatusIssued:
			stats.Issued++
		case models.StatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

type mockIdentityResolver struct {
	students map[string]models.StudentDetail
	staff    map[string]models.StaffDetail
}

func (m *mockIdentityResolver) FindStudentByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if detail, ok := m.students[id]; ok {
		return &detail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIdentityResolver) FindStaffByID(ctx context.Context, id string) (*models.StaffDetail, error) {
	if detail, ok := m.staff[id]; ok {
		return &detail, nil
	}
	return nil, sql.ErrNoRows
}

type mockAuditLogger struct {
	logs []models.AuditLog
}

func (m *mockAuditLogger) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

type mockStatsCache struct {
	values  map[string][]byte
	deletes int
}

func (m *mockStatsCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockStatsCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func (m *mockStatsCache) Delete(ctx context.Context, key string) error {
	m.deletes++
	delete(m.values, key)
	return nil
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, Email: id + "@example.edu"}
}

func staffClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStaff, Email: id + "@example.edu"}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin, Email: id + "@example.edu"}
}

func newTestCertificateService(store *mockCertificateStore, users *mockIdentityResolver, audit *mockAuditLogger, cache *mockStatsCache) *CertificateService {
	var auditPort auditLogger
	if audit != nil {
		auditPort = audit
	}
	var cachePort statsCache
	if cache != nil {
		cachePort = cache
	}
	return NewCertificateService(store, users, auditPort, cachePort, nil, time.Minute, validator.New(), zap.NewNop())
}

func defaultIdentities() *mockIdentityResolver {
	return &mockIdentityResolver{
		students: map[string]models.StudentDetail{
			"stu-1": {User: models.User{ID: "stu-1", Role: models.RoleStudent, FirstName: "Aidar", LastName: "Bekov"}, StudentProfile: models.StudentProfile{StudentNumber: "S-100"}},
		},
		staff: map[string]models.StaffDetail{
			"staff-1": {User: models.User{ID: "staff-1", Role: models.RoleStaff}, StaffProfile: models.StaffProfile{Position: "Registrar"}},
			"staff-2": {User: models.User{ID: "staff-2", Role: models.RoleStaff}, StaffProfile: models.StaffProfile{Position: "Clerk"}},
		},
	}
}

func TestCertificateServiceCreate(t *testing.T) {
	store := &mockCertificateStore{}
	audit := &mockAuditLogger{}
	svc := newTestCertificateService(store, defaultIdentities(), audit, nil)

	cert, err := svc.Create(context.Background(), CreateCertificateRequest{Type: "enrollment"}, studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, cert.Status)
	assert.Equal(t, "stu-1", cert.StudentID)
	assert.Nil(t, cert.StaffID)
	assert.JSONEq(t, `{}`, string(cert.RequestData))
	assert.Len(t, audit.logs, 1)
}

func TestCertificateServiceCreateRequiresStudentRole(t *testing.T) {
	svc := newTestCertificateService(&mockCertificateStore{}, defaultIdentities(), nil, nil)

	_, err := svc.Create(context.Background(), CreateCertificateRequest{Type: "enrollment"}, staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestCertificateServiceCreateUnknownType(t *testing.T) {
	svc := newTestCertificateService(&mockCertificateStore{}, defaultIdentities(), nil, nil)

	_, err := svc.Create(context.Background(), CreateCertificateRequest{Type: "diploma-supplement"}, studentClaims("stu-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestCertificateServiceAssignDefaultsToActor(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), &mockAuditLogger{}, nil)

	updated, err := svc.Assign(context.Background(), "c1", "", staffClaims("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	require.NotNil(t, updated.StaffID)
	assert.Equal(t, "staff-1", *updated.StaffID)
}

func TestCertificateServiceAssignExplicitStaff(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	updated, err := svc.Assign(context.Background(), "c1", "staff-2", staffClaims("staff-1"))
	require.NoError(t, err)
	require.NotNil(t, updated.StaffID)
	assert.Equal(t, "staff-2", *updated.StaffID)
}

func TestCertificateServiceAssignAlreadyTaken(t *testing.T) {
	staffID := "staff-2"
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusInProgress, StaffID: &staffID},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, err := svc.Assign(context.Background(), "c1", "", staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestCertificateServiceAssignLostRace(t *testing.T) {
	store := &mockCertificateStore{
		certs:     map[string]models.Certificate{"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending}},
		casDenied: true,
	}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, err := svc.Assign(context.Background(), "c1", "", staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestCertificateServiceAssignUnknownStaff(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, err := svc.Assign(context.Background(), "c1", "nobody", staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestCertificateServiceRejectRequiresReason(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "c1", UpdateStatusRequest{Status: "rejected", RejectionReason: "   "}, staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestCertificateServiceRejectStoresReason(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), &mockAuditLogger{}, nil)

	updated, err := svc.UpdateStatus(context.Background(), "c1", UpdateStatusRequest{Status: "rejected", RejectionReason: "missing enrollment record"}, staffClaims("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, updated.Status)
	require.NotNil(t, updated.RejectionReason)
	assert.Equal(t, "missing enrollment record", *updated.RejectionReason)
}

func TestCertificateServiceTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    models.CertificateStatus
		to      string
		allowed bool
	}{
		{"pending to in_progress", models.StatusPending, "in_progress", true},
		{"pending to ready skips processing", models.StatusPending, "ready", false},
		{"pending to issued skips processing", models.StatusPending, "issued", false},
		{"in_progress to ready", models.StatusInProgress, "ready", true},
		{"in_progress to issued skips ready", models.StatusInProgress, "issued", false},
		{"ready to issued", models.StatusReady, "issued", true},
		{"ready back to pending", models.StatusReady, "pending", false},
		{"issued is terminal", models.StatusIssued, "ready", false},
		{"rejected is terminal", models.StatusRejected, "in_progress", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockCertificateStore{certs: map[string]models.Certificate{
				"c1": {ID: "c1", StudentID: "stu-1", Status: tc.from},
			}}
			svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

			updated, err := svc.UpdateStatus(context.Background(), "c1", UpdateStatusRequest{Status: tc.to}, staffClaims("staff-1"))
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.to, string(updated.Status))
			} else {
				require.Error(t, err)
				appErr, ok := err.(*appErrors.Error)
				require.True(t, ok)
				assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
			}
		})
	}
}

func TestCertificateServiceStatusAliases(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusInProgress},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	updated, err := svc.UpdateStatus(context.Background(), "c1", UpdateStatusRequest{Status: "approved"}, staffClaims("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, updated.Status)

	updated, err = svc.UpdateStatus(context.Background(), "c1", UpdateStatusRequest{Status: "completed"}, staffClaims("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusIssued, updated.Status)
	assert.NotNil(t, updated.IssuedAt)
}

func TestCertificateServiceUpdateStatusByStudentForbidden(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "c1", UpdateStatusRequest{Status: "in_progress"}, studentClaims("stu-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestCertificateServiceAdvanceToIssuedFromInProgress(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusInProgress},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), &mockAuditLogger{}, nil)

	updated, err := svc.AdvanceToIssued(context.Background(), "c1", staffClaims("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusIssued, updated.Status)
	assert.NotNil(t, updated.IssuedAt)
}

func TestCertificateServiceAdvanceToIssuedFromPendingConflicts(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, err := svc.AdvanceToIssued(context.Background(), "c1", staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestCertificateServiceGetByIDVisibility(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	cert, err := svc.GetByID(context.Background(), "c1", studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, "c1", cert.ID)

	_, err = svc.GetByID(context.Background(), "c1", studentClaims("stu-2"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.GetByID(context.Background(), "c1", staffClaims("staff-1"))
	require.NoError(t, err)
}

func TestCertificateServiceGetByIDNotFound(t *testing.T) {
	svc := newTestCertificateService(&mockCertificateStore{}, defaultIdentities(), nil, nil)

	_, err := svc.GetByID(context.Background(), "missing", staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestCertificateServiceStatisticsAdminOnly(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
		"c2": {ID: "c2", StudentID: "stu-1", Status: models.StatusIssued},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, err := svc.Statistics(context.Background(), staffClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	stats, err := svc.Statistics(context.Background(), adminClaims("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Issued)
}

func TestCertificateServiceStatisticsUsesCache(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	cache := &mockStatsCache{}
	svc := newTestCertificateService(store, defaultIdentities(), nil, cache)

	first, err := svc.Statistics(context.Background(), adminClaims("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)

	// A second call is served from the cache and ignores new rows.
	store.certs["c2"] = models.Certificate{ID: "c2", StudentID: "stu-1", Status: models.StatusPending}
	second, err := svc.Statistics(context.Background(), adminClaims("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Total)
}

func TestCertificateServiceCreateInvalidatesStatsCache(t *testing.T) {
	store := &mockCertificateStore{}
	cache := &mockStatsCache{values: map[string][]byte{statsCacheKey: []byte(`{"total":9}`)}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, cache)

	_, err := svc.Create(context.Background(), CreateCertificateRequest{Type: "academic"}, studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, cache.deletes)
}

func TestCertificateServiceListMine(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
		"c2": {ID: "c2", StudentID: "stu-2", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	certs, page, err := svc.ListMine(context.Background(), models.CertificateFilter{}, studentClaims("stu-1"))
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "c1", certs[0].ID)
	assert.Equal(t, 50, page.Limit)
}

func TestCertificateServiceListPendingRequiresStaff(t *testing.T) {
	store := &mockCertificateStore{certs: map[string]models.Certificate{
		"c1": {ID: "c1", StudentID: "stu-1", Status: models.StatusPending},
	}}
	svc := newTestCertificateService(store, defaultIdentities(), nil, nil)

	_, _, err := svc.ListPending(context.Background(), models.CertificateFilter{}, studentClaims("stu-1"))
	require.Error(t, err)

	certs, _, err := svc.ListPending(context.Background(), models.CertificateFilter{}, staffClaims("staff-1"))
	require.NoError(t, err)
	assert.Len(t, certs, 1)
}

func TestCertificateServiceRecordsMetrics(t *testing.T) {
	store := &mockCertificateStore{}
	metrics := NewMetricsService()
	svc := NewCertificateService(store, defaultIdentities(), nil, &mockStatsCache{}, metrics, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateCertificateRequest{Type: "enrollment"}, studentClaims("stu-1"))
	require.NoError(t, err)
	_, err = svc.Assign(context.Background(), "generated", "", staffClaims("staff-1"))
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), "generated", UpdateStatusRequest{Status: "ready"}, staffClaims("staff-1"))
	require.NoError(t, err)
	_, err = svc.Statistics(context.Background(), adminClaims("adm-1"))
	require.NoError(t, err)
	_, err = svc.Statistics(context.Background(), adminClaims("adm-1"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "certificate_requests_total 1")
	assert.Contains(t, body, `certificate_status_transitions_total{status="in_progress"} 1`)
	assert.Contains(t, body, `certificate_status_transitions_total{status="ready"} 1`)
	assert.Contains(t, body, "cache_misses_total 1")
	assert.Contains(t, body, "cache_hits_total 1")
	assert.Contains(t, body, `db_query_duration_seconds_count{query="certificate_stats"} 1`)
}
