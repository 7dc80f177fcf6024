package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusdesk/certificate-api/internal/models"
)

// UserRepository handles persistence of users and their role profiles.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by its ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, email, password_hash, role, first_name, last_name, middle_name, phone, created_at, updated_at
        FROM users WHERE id = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail returns a user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT id, email, password_hash, role, first_name, last_name, middle_name, phone, created_at, updated_at
        FROM users WHERE email = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// Create persists a new user row.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt
	const query = `INSERT INTO users (id, email, password_hash, role, first_name, last_name, middle_name, phone, created_at, updated_at)
        VALUES (:id, :email, :password_hash, :role, :first_name, :last_name, :middle_name, :phone, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CreateStudentProfile attaches student profile columns to a user.
func (r *UserRepository) CreateStudentProfile(ctx context.Context, userID string, profile models.StudentProfile) error {
	const query = `INSERT INTO students (id, student_number, group_name, faculty, specialty, year_of_study)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, userID, profile.StudentNumber, profile.GroupName, profile.Faculty, profile.Specialty, profile.YearOfStudy); err != nil {
		return fmt.Errorf("create student profile: %w", err)
	}
	return nil
}

// CreateStaffProfile attaches staff profile columns to a user.
func (r *UserRepository) CreateStaffProfile(ctx context.Context, userID string, profile models.StaffProfile) error {
	const query = `INSERT INTO staff (id, position, department) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, userID, profile.Position, profile.Department); err != nil {
		return fmt.Errorf("create staff profile: %w", err)
	}
	return nil
}

// FindStudentByID returns a user joined with its student profile. Only rows
// with role student match.
func (r *UserRepository) FindStudentByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT u.id, u.email, u.password_hash, u.role, u.first_name, u.last_name, u.middle_name, u.phone, u.created_at, u.updated_at,
        s.student_number, s.group_name, s.faculty, s.specialty, s.year_of_study
        FROM users u
        JOIN students s ON s.id = u.id
        WHERE u.id = $1 AND u.role = 'student'`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindStaffByID returns a user joined with its staff profile. Staff and admin
// roles match.
func (r *UserRepository) FindStaffByID(ctx context.Context, id string) (*models.StaffDetail, error) {
	const query = `SELECT u.id, u.email, u.password_hash, u.role, u.first_name, u.last_name, u.middle_name, u.phone, u.created_at, u.updated_at,
        s.position, s.department
        FROM users u
        JOIN staff s ON s.id = u.id
        WHERE u.id = $1 AND u.role IN ('staff', 'admin')`
	var detail models.StaffDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns users with whichever profile applies, newest first.
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]models.UserDetail, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT u.id, u.email, u.password_hash, u.role, u.first_name, u.last_name, u.middle_name, u.phone, u.created_at, u.updated_at,
        s.student_number, s.group_name, s.faculty, s.specialty, s.year_of_study,
        st.position, st.department
        FROM users u
        LEFT JOIN students s ON s.id = u.id AND u.role = 'student'
        LEFT JOIN staff st ON st.id = u.id AND u.role IN ('staff', 'admin')
        ORDER BY u.created_at DESC
        LIMIT $1 OFFSET $2`
	var users []models.UserDetail
	if err := r.db.SelectContext(ctx, &users, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Delete removes a user row; profile rows cascade.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// CreateAuditLog persists an audit trail record.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, new_values, ip_address, user_agent, created_at)
        VALUES (:id, :user_id, :action, :resource, :resource_id, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
