package models

import (
	"encoding/json"
	"strings"
	"time"
)

// CertificateStatus represents the lifecycle state of a certificate request.
type CertificateStatus string

const (
	StatusPending    CertificateStatus = "pending"
	StatusInProgress CertificateStatus = "in_progress"
	StatusReady      CertificateStatus = "ready"
	StatusIssued     CertificateStatus = "issued"
	StatusRejected   CertificateStatus = "rejected"
)

// ParseCertificateStatus normalises a raw status value, mapping the legacy
// aliases "approved" and "completed" onto the canonical five-state enum.
func ParseCertificateStatus(raw string) (CertificateStatus, bool) {
	switch CertificateStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusReady, "approved":
		return StatusReady, true
	case StatusIssued, "completed":
		return StatusIssued, true
	case StatusRejected:
		return StatusRejected, true
	}
	return "", false
}

// Terminal reports whether no further transitions are allowed from the status.
func (s CertificateStatus) Terminal() bool {
	return s == StatusIssued || s == StatusRejected
}

// CertificateType enumerates the kinds of certificates students may request.
type CertificateType string

const (
	TypeEnrollment CertificateType = "enrollment"
	TypeAcademic   CertificateType = "academic"
	TypeAttendance CertificateType = "attendance"
	TypeGraduation CertificateType = "graduation"
	TypeOther      CertificateType = "other"
)

// ParseCertificateType validates a raw certificate type value.
func ParseCertificateType(raw string) (CertificateType, bool) {
	switch CertificateType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeEnrollment:
		return TypeEnrollment, true
	case TypeAcademic:
		return TypeAcademic, true
	case TypeAttendance:
		return TypeAttendance, true
	case TypeGraduation:
		return TypeGraduation, true
	case TypeOther:
		return TypeOther, true
	}
	return "", false
}

// Certificate is a student's request for an administrative document tracked
// through its status lifecycle.
type Certificate struct {
	ID              string            `db:"id" json:"id"`
	StudentID       string            `db:"student_id" json:"student_id"`
	StaffID         *string           `db:"staff_id" json:"staff_id,omitempty"`
	Type            CertificateType   `db:"type" json:"type"`
	Status          CertificateStatus `db:"status" json:"status"`
	RequestData     json.RawMessage   `db:"request_data" json:"request_data,omitempty"`
	RejectionReason *string           `db:"rejection_reason" json:"rejection_reason,omitempty"`
	IssuedAt        *time.Time        `db:"issued_at" json:"issued_at,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// CertificatePatch carries the mutable fields applied by a conditional update.
type CertificatePatch struct {
	Status          CertificateStatus
	StaffID         *string
	RejectionReason *string
	IssuedAt        *time.Time
}

// CertificateFilter captures list pagination bounds.
type CertificateFilter struct {
	Limit  int
	Offset int
}

// CertificateStatistics aggregates counts per lifecycle status.
type CertificateStatistics struct {
	Total      int `db:"total" json:"total"`
	Pending    int `db:"pending" json:"pending"`
	InProgress int `db:"in_progress" json:"in_progress"`
	Ready      int `db:"ready" json:"ready"`
	Issued     int `db:"issued" json:"issued"`
	Rejected   int `db:"rejected" json:"rejected"`
}
