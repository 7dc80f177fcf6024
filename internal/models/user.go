package models

import "time"

// UserRole represents the available roles for authorization decisions.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleStaff   UserRole = "staff"
	RoleAdmin   UserRole = "admin"
)

// ParseUserRole validates a raw role value.
func ParseUserRole(raw string) (UserRole, bool) {
	switch UserRole(raw) {
	case RoleStudent:
		return RoleStudent, true
	case RoleStaff:
		return RoleStaff, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	MiddleName   *string   `db:"middle_name" json:"middle_name,omitempty"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins the user's name parts for display.
func (u *User) FullName() string {
	name := u.LastName + " " + u.FirstName
	if u.MiddleName != nil && *u.MiddleName != "" {
		name += " " + *u.MiddleName
	}
	return name
}

// StudentProfile holds the student-specific profile columns.
type StudentProfile struct {
	StudentNumber string  `db:"student_number" json:"student_number"`
	GroupName     *string `db:"group_name" json:"group_name,omitempty"`
	Faculty       *string `db:"faculty" json:"faculty,omitempty"`
	Specialty     *string `db:"specialty" json:"specialty,omitempty"`
	YearOfStudy   *int    `db:"year_of_study" json:"year_of_study,omitempty"`
}

// StaffProfile holds the staff/admin profile columns.
type StaffProfile struct {
	Position   string  `db:"position" json:"position"`
	Department *string `db:"department" json:"department,omitempty"`
}

// StudentDetail combines a user row with its student profile.
type StudentDetail struct {
	User
	StudentProfile
}

// StaffDetail combines a user row with its staff profile.
type StaffDetail struct {
	User
	StaffProfile
}

// UserDetail is the admin listing shape: a user with whichever profile applies.
type UserDetail struct {
	User
	StudentNumber *string `db:"student_number" json:"student_number,omitempty"`
	GroupName     *string `db:"group_name" json:"group_name,omitempty"`
	Faculty       *string `db:"faculty" json:"faculty,omitempty"`
	Specialty     *string `db:"specialty" json:"specialty,omitempty"`
	YearOfStudy   *int    `db:"year_of_study" json:"year_of_study,omitempty"`
	Position      *string `db:"position" json:"position,omitempty"`
	Department    *string `db:"department" json:"department,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
	TotalCount int `json:"total_count,omitempty"`
}
