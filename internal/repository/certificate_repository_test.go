package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/certificate-api/internal/models"
)

func newCertificateMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func certificateRows(t *testing.T, certs ...models.Certificate) *sqlmock.Rows {
	t.Helper()
	rows := sqlmock.NewRows([]string{"id", "student_id", "staff_id", "type", "status", "request_data", "rejection_reason", "issued_at", "created_at", "updated_at"})
	for _, c := range certs {
		rows.AddRow(c.ID, c.StudentID, c.StaffID, c.Type, c.Status, []byte(c.RequestData), c.RejectionReason, c.IssuedAt, c.CreatedAt, c.UpdatedAt)
	}
	return rows
}

func TestCertificateRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newCertificateMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(sqlmock.AnyArg(), "stu-1", "enrollment", "pending", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	cert := &models.Certificate{StudentID: "stu-1", Type: models.TypeEnrollment, RequestData: []byte(`{}`)}
	err := repo.Insert(context.Background(), cert)
	require.NoError(t, err)
	assert.NotEmpty(t, cert.ID)
	assert.Equal(t, models.StatusPending, cert.Status)
	assert.False(t, cert.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newCertificateMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, student_id, staff_id, type, status, request_data, rejection_reason, issued_at, created_at, updated_at FROM certificates WHERE id").
		WithArgs("c1").
		WillReturnRows(certificateRows(t, models.Certificate{
			ID: "c1", StudentID: "stu-1", Type: models.TypeAcademic, Status: models.StatusPending,
			RequestData: []byte(`{}`), CreatedAt: now, UpdatedAt: now,
		}))

	cert, err := repo.GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", cert.ID)
	assert.Equal(t, models.StatusPending, cert.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryConditionalUpdate(t *testing.T) {
	db, mock, cleanup := newCertificateMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	staffID := "staff-1"
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE certificates").
		WithArgs("c1", "pending", "in_progress", "staff-1", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(certificateRows(t, models.Certificate{
			ID: "c1", StudentID: "stu-1", StaffID: &staffID, Type: models.TypeEnrollment,
			Status: models.StatusInProgress, RequestData: []byte(`{}`), CreatedAt: now, UpdatedAt: now,
		}))

	updated, err := repo.ConditionalUpdate(context.Background(), "c1", models.StatusPending, models.CertificatePatch{
		Status:  models.StatusInProgress,
		StaffID: &staffID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	require.NotNil(t, updated.StaffID)
	assert.Equal(t, "staff-1", *updated.StaffID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryConditionalUpdateGuardMiss(t *testing.T) {
	db, mock, cleanup := newCertificateMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	staffID := "staff-1"
	mock.ExpectQuery("UPDATE certificates").
		WithArgs("c1", "pending", "in_progress", "staff-1", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(certificateRows(t))

	_, err := repo.ConditionalUpdate(context.Background(), "c1", models.StatusPending, models.CertificatePatch{
		Status:  models.StatusInProgress,
		StaffID: &staffID,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newCertificateMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM certificates WHERE student_id").
		WithArgs("stu-1", 50, 0).
		WillReturnRows(certificateRows(t, models.Certificate{
			ID: "c1", StudentID: "stu-1", Type: models.TypeEnrollment, Status: models.StatusPending,
			RequestData: []byte(`{}`), CreatedAt: now, UpdatedAt: now,
		}))

	certs, err := repo.ListByStudent(context.Background(), "stu-1", models.CertificateFilter{})
	require.NoError(t, err)
	assert.Len(t, certs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryListByStatusBounds(t *testing.T) {
	db, mock, cleanup := newCertificateMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery("SELECT .+ FROM certificates WHERE status").
		WithArgs("pending", 100, 25).
		WillReturnRows(certificateRows(t))

	certs, err := repo.ListByStatus(context.Background(), models.StatusPending, models.CertificateFilter{Limit: 100, Offset: 25})
	require.NoError(t, err)
	assert.Empty(t, certs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryAggregateCounts(t *testing.T) {
	db, mock, cleanup := newCertificateMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "in_progress", "ready", "issued", "rejected"}).
			AddRow(10, 3, 2, 1, 3, 1))

	stats, err := repo.AggregateCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 2, stats.InProgress)
	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, 3, stats.Issued)
	assert.Equal(t, 1, stats.Rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
