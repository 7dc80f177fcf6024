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

func newUserMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func userColumns() []string {
	return []string{"id", "email", "password_hash", "role", "first_name", "last_name", "middle_name", "phone", "created_at", "updated_at"}
}

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newUserMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM users WHERE email").
		WithArgs("student@example.edu").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("u1", "student@example.edu", "hash", "student", "Aidar", "Bekov", nil, nil, now, now))

	user, err := repo.FindByEmail(context.Background(), "student@example.edu")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByEmailMissing(t *testing.T) {
	db, mock, cleanup := newUserMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT .+ FROM users WHERE email").
		WithArgs("nobody@example.edu").
		WillReturnRows(sqlmock.NewRows(userColumns()))

	_, err := repo.FindByEmail(context.Background(), "nobody@example.edu")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUserRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newUserMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "new@example.edu", "hash", "staff", "Dana", "Nur", nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Email: "new@example.edu", PasswordHash: "hash", Role: models.RoleStaff, FirstName: "Dana", LastName: "Nur"}
	err := repo.Create(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindStudentByID(t *testing.T) {
	db, mock, cleanup := newUserMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now().UTC()
	columns := append(userColumns(), "student_number", "group_name", "faculty", "specialty", "year_of_study")
	mock.ExpectQuery("SELECT .+ FROM users u\\s+JOIN students s").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "student@example.edu", "hash", "student", "Aidar", "Bekov", nil, nil, now, now, "S-100", "CS-21", "Engineering", nil, 3))

	detail, err := repo.FindStudentByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "S-100", detail.StudentNumber)
	require.NotNil(t, detail.GroupName)
	assert.Equal(t, "CS-21", *detail.GroupName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindStaffByIDRejectsStudents(t *testing.T) {
	db, mock, cleanup := newUserMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	columns := append(userColumns(), "position", "department")
	mock.ExpectQuery("SELECT .+ FROM users u\\s+JOIN staff s").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.FindStaffByID(context.Background(), "u1")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUserRepositoryList(t *testing.T) {
	db, mock, cleanup := newUserMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now().UTC()
	columns := append(userColumns(), "student_number", "group_name", "faculty", "specialty", "year_of_study", "position", "department")
	mock.ExpectQuery("SELECT .+ FROM users u\\s+LEFT JOIN students").
		WithArgs(100, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "a@example.edu", "hash", "student", "A", "B", nil, nil, now, now, "S-1", nil, nil, nil, nil, nil, nil).
			AddRow("u2", "b@example.edu", "hash", "admin", "C", "D", nil, nil, now, now, nil, nil, nil, nil, nil, "Registrar", nil))

	users, err := repo.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.NotNil(t, users[0].StudentNumber)
	assert.Equal(t, "S-1", *users[0].StudentNumber)
	require.NotNil(t, users[1].Position)
	assert.Equal(t, "Registrar", *users[1].Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newUserMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	userID := "u1"
	log := &models.AuditLog{UserID: &userID, Action: models.AuditActionLogin, Resource: "auth"}
	err := repo.CreateAuditLog(context.Background(), log)
	require.NoError(t, err)
	assert.NotEmpty(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
