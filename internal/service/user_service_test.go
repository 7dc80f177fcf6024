package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusdesk/certificate-api/internal/models"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
)

type mockUserDirectory struct {
	users    map[string]models.User
	students map[string]models.StudentDetail
	staff    map[string]models.StaffDetail
	deleted  []string
	logs     []models.AuditLog
}

func (m *mockUserDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserDirectory) List(ctx context.Context, limit, offset int) ([]models.UserDetail, error) {
	var out []models.UserDetail
	for _, u := range m.users {
		out = append(out, models.UserDetail{User: u})
	}
	return out, nil
}

func (m *mockUserDirectory) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.users, id)
	return nil
}

func (m *mockUserDirectory) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockUserDirectory) FindStudentByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if d, ok := m.students[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserDirectory) FindStaffByID(ctx context.Context, id string) (*models.StaffDetail, error) {
	if d, ok := m.staff[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func TestUserServiceListAdminOnly(t *testing.T) {
	repo := &mockUserDirectory{users: map[string]models.User{
		"u1": {ID: "u1", Role: models.RoleStudent},
		"u2": {ID: "u2", Role: models.RoleAdmin},
	}}
	svc := NewUserService(repo, zap.NewNop())

	_, err := svc.List(context.Background(), 0, 0, staffClaims("staff-1"))
	require.Error(t, err)

	users, err := svc.List(context.Background(), 0, 0, adminClaims("u2"))
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestUserServiceGetSelfOrAdmin(t *testing.T) {
	repo := &mockUserDirectory{users: map[string]models.User{
		"u1": {ID: "u1", Role: models.RoleStudent, Email: "a@example.edu"},
	}}
	svc := NewUserService(repo, zap.NewNop())

	user, err := svc.Get(context.Background(), "u1", studentClaims("u1"))
	require.NoError(t, err)
	assert.Equal(t, "a@example.edu", user.Email)

	_, err = svc.Get(context.Background(), "u1", studentClaims("u2"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.Get(context.Background(), "u1", adminClaims("admin-1"))
	require.NoError(t, err)
}

func TestUserServiceProfileByRole(t *testing.T) {
	repo := &mockUserDirectory{
		students: map[string]models.StudentDetail{
			"u1": {User: models.User{ID: "u1"}, StudentProfile: models.StudentProfile{StudentNumber: "S-1"}},
		},
		staff: map[string]models.StaffDetail{
			"u2": {User: models.User{ID: "u2"}, StaffProfile: models.StaffProfile{Position: "Registrar"}},
		},
	}
	svc := NewUserService(repo, zap.NewNop())

	profile, err := svc.Profile(context.Background(), studentClaims("u1"))
	require.NoError(t, err)
	student, ok := profile.(*models.StudentDetail)
	require.True(t, ok)
	assert.Equal(t, "S-1", student.StudentNumber)

	profile, err = svc.Profile(context.Background(), staffClaims("u2"))
	require.NoError(t, err)
	staff, ok := profile.(*models.StaffDetail)
	require.True(t, ok)
	assert.Equal(t, "Registrar", staff.Position)
}

func TestUserServiceDelete(t *testing.T) {
	repo := &mockUserDirectory{users: map[string]models.User{
		"u1":      {ID: "u1", Role: models.RoleStudent},
		"admin-1": {ID: "admin-1", Role: models.RoleAdmin},
	}}
	svc := NewUserService(repo, zap.NewNop())

	require.NoError(t, svc.Delete(context.Background(), "u1", adminClaims("admin-1")))
	assert.Equal(t, []string{"u1"}, repo.deleted)
	assert.Len(t, repo.logs, 1)

	err := svc.Delete(context.Background(), "admin-1", adminClaims("admin-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	err = svc.Delete(context.Background(), "missing", adminClaims("admin-1"))
	require.Error(t, err)
	appErr, ok = err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
