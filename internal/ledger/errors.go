package ledger

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced id is absent.
	ErrNotFound = errors.New("ledger: not found")
	// ErrUnknownStudent is returned when an attendance operation names a student the store does not hold.
	ErrUnknownStudent = errors.New("ledger: unknown student")
	// ErrStudentNotApproved is returned when attendance is recorded for a pending student.
	ErrStudentNotApproved = errors.New("ledger: student not approved")
	// ErrDuplicateAttendance is returned when the student already has an event for the date.
	ErrDuplicateAttendance = errors.New("ledger: attendance already recorded for date")
	// ErrAlreadyApproved is returned when approving a record twice.
	ErrAlreadyApproved = errors.New("ledger: already approved")
	// ErrRejected is returned when acting on a record that was rejected.
	ErrRejected = errors.New("ledger: record rejected")
	// ErrUnauthorizedApprover is returned when the approver may not activate the record.
	ErrUnauthorizedApprover = errors.New("ledger: approver not authorized")
	// ErrStaffNotApproved is returned when a pending staff member tries to act.
	ErrStaffNotApproved = errors.New("ledger: staff not approved")
	// ErrInvalidTransition is returned for a status change that is not forward.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrDuplicateEnrollment is returned when an enrollment id is already taken.
	ErrDuplicateEnrollment = errors.New("ledger: enrollment id already exists")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// Add records a field level validation error. The first message for a field wins.
func (v *ValidationError) Add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, ok := v.FieldErrors[field]; ok {
		return
	}
	v.FieldErrors[field] = message
}

// OrNil returns nil when nothing was recorded so callers can return it directly.
func (v *ValidationError) OrNil() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

// Invalid is shorthand for a single-field validation error.
func Invalid(field, message string) error {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

// ErrorKind maps sentinel and validation errors to a stable label used by
// logs, metrics and the HTTP boundary.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownStudent):
		return "unknown_student"
	case errors.Is(err, ErrStudentNotApproved):
		return "student_not_approved"
	case errors.Is(err, ErrDuplicateAttendance):
		return "duplicate_attendance"
	case errors.Is(err, ErrAlreadyApproved):
		return "already_approved"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrUnauthorizedApprover):
		return "unauthorized_approver"
	case errors.Is(err, ErrStaffNotApproved):
		return "staff_not_approved"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDuplicateEnrollment):
		return "duplicate_enrollment"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	return "unexpected"
}
