package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/campusdesk/certificate-api/internal/models"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
)

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.UserDetail, error)
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	FindStudentByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindStaffByID(ctx context.Context, id string) (*models.StaffDetail, error)
}

// UserService covers the admin user directory plus profile lookups.
type UserService struct {
	repo   userDirectory
	logger *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(repo userDirectory, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, logger: logger}
}

// List returns all users with their profiles. Admin only.
func (s *UserService) List(ctx context.Context, limit, offset int, actor *models.JWTClaims) ([]models.UserDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admin role required")
	}
	users, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, nil
}

// Get returns a user. Users may read themselves; admins may read anyone.
func (s *UserService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.User, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin && actor.UserID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot access another user")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Profile returns the caller's user record with the role profile attached.
func (s *UserService) Profile(ctx context.Context, actor *models.JWTClaims) (interface{}, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleStudent:
		detail, err := s.repo.FindStudentByID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
		}
		return detail, nil
	case models.RoleStaff, models.RoleAdmin:
		detail, err := s.repo.FindStaffByID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
		}
		return detail, nil
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "unknown role")
}

// Delete removes a user. Admin only; admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "admin role required")
	}
	if actor.UserID == id {
		return appErrors.Clone(appErrors.ErrValidation, "cannot delete your own account")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	adminID := actor.UserID
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionUserDelete,
		Resource:   "user",
		ResourceID: &id,
	}); err != nil {
		s.logger.Warn("failed to record user delete audit log", zap.Error(err))
	}
	return nil
}
