package service

import (
	"github.com/campusdesk/certificate-api/internal/models"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
)

// Operation identifies a lifecycle action for authorization purposes.
type Operation string

const (
	OpCreate       Operation = "create"
	OpRead         Operation = "read"
	OpAssign       Operation = "assign"
	OpUpdateStatus Operation = "update_status"
	OpListPending  Operation = "list_pending"
	OpListAll      Operation = "list_all"
	OpStatistics   Operation = "statistics"
)

// Authorize is the single capability check consulted by every lifecycle
// operation. ownerID is the owning student of the target resource, empty when
// the operation has no single resource.
func Authorize(actor *models.JWTClaims, op Operation, ownerID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch op {
	case OpCreate:
		if actor.Role != models.RoleStudent {
			return appErrors.Clone(appErrors.ErrForbidden, "only students may request certificates")
		}
		return nil
	case OpRead:
		if actor.Role == models.RoleStaff || actor.Role == models.RoleAdmin {
			return nil
		}
		if actor.Role == models.RoleStudent && ownerID == actor.UserID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "access denied")
	case OpAssign, OpUpdateStatus, OpListPending, OpListAll:
		if actor.Role == models.RoleStaff || actor.Role == models.RoleAdmin {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "staff role required")
	case OpStatistics:
		if actor.Role == models.RoleAdmin {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "admin role required")
	}
	return appErrors.ErrForbidden
}
