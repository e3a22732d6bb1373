// Package approval implements registration and the pending → approved /
// rejected workflow for students and staff.
package approval

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"schoolattend/internal/ledger"
	"schoolattend/internal/logging"
	"schoolattend/internal/validation"
)

// MinFacePhotos is the number of face photos a student needs before approval.
const MinFacePhotos = 3

// StudentInput is the registration form for a student.
type StudentInput struct {
	EnrollmentID        string   `json:"uniqueId"`
	Name                string   `json:"name" validate:"required"`
	Age                 int      `json:"age" validate:"omitempty,gte=3,lte=25"`
	Gender              string   `json:"gender"`
	DateOfBirth         string   `json:"dob" validate:"omitempty,isodate"`
	Address             string   `json:"address"`
	GuardianName        string   `json:"parentName" validate:"required"`
	GuardianMobile      string   `json:"mobile" validate:"required,mobile"`
	GovernmentID        string   `json:"aadhaar" validate:"omitempty,len=12,numeric"`
	Class               string   `json:"class" validate:"required"`
	Section             string   `json:"section"`
	SchoolID            string   `json:"schoolId" validate:"required"`
	Photo               string   `json:"photo"`
	FacePhotos          []string `json:"facePhotos" validate:"dive,required"`
	PreviousMarksheet   string   `json:"previousMarksheet"`
	TransferCertificate string   `json:"transferCertificate"`
}

// StaffInput is the self-registration form for teachers and principals.
type StaffInput struct {
	Role           ledger.Role `json:"role" validate:"required,oneof=teacher principal"`
	Name           string      `json:"name" validate:"required"`
	EmployeeID     string      `json:"employeeId" validate:"required"`
	SchoolID       string      `json:"schoolId" validate:"required"`
	Email          string      `json:"email" validate:"omitempty,email"`
	Mobile         string      `json:"mobile" validate:"omitempty,mobile"`
	Username       string      `json:"username"`
	CredentialsRef string      `json:"credentialsRef"`
	Subjects       []string    `json:"subjects"`
}

// Service runs the approval workflow on a ledger.
type Service struct {
	store  *ledger.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService wires the workflow. A nil clock defaults to time.Now.
func NewService(store *ledger.Store, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: now, logger: logger}
}

func (s *Service) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Operation(ctx, s.logger, "ApprovalService", operation, attrs...)
}

// RegisterStudent stores a pending student registered by an approved staff
// member of the same school. An enrollment id is generated when none is given.
func (s *Service) RegisterStudent(ctx context.Context, in StudentInput, registeredBy string) (student ledger.Student, err error) {
	logger := s.loggerWith(ctx, "RegisterStudent", "actor_id", registeredBy)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to register student", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.With("student_id", student.ID).InfoContext(ctx, "student registered")
	}()

	in.Name = strings.TrimSpace(in.Name)
	in.EnrollmentID = strings.TrimSpace(in.EnrollmentID)
	if err = validation.Struct(in); err != nil {
		return
	}

	now := s.now().UTC()
	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		registrar, err := activeStaff(tx, registeredBy)
		if err != nil {
			return err
		}
		if registrar.SchoolID != in.SchoolID {
			return ledger.Invalid("schoolId", "must match the registering staff member's school")
		}

		student, err = ledger.Create(tx, ledger.Student{
			EnrollmentID:        in.EnrollmentID,
			Name:                in.Name,
			Age:                 in.Age,
			Gender:              in.Gender,
			DateOfBirth:         in.DateOfBirth,
			Address:             in.Address,
			GuardianName:        in.GuardianName,
			GuardianMobile:      in.GuardianMobile,
			GovernmentID:        in.GovernmentID,
			Class:               in.Class,
			Section:             in.Section,
			SchoolID:            in.SchoolID,
			Photo:               in.Photo,
			FacePhotos:          in.FacePhotos,
			PreviousMarksheet:   in.PreviousMarksheet,
			TransferCertificate: in.TransferCertificate,
			RegisteredBy:        registeredBy,
			RegistrationDate:    now,
		})
		if err != nil {
			return err
		}
		if student.EnrollmentID != "" {
			return nil
		}
		student, err = ledger.Update(tx, student.ID, func(cur ledger.Student) (ledger.Student, error) {
			cur.EnrollmentID = fmt.Sprintf("ENR-%d-%s", now.Year(), cur.ID)
			return cur, nil
		})
		return err
	})
	return
}

// RegisterStaff stores a pending teacher or principal.
func (s *Service) RegisterStaff(ctx context.Context, in StaffInput) (member ledger.Staff, err error) {
	logger := s.loggerWith(ctx, "RegisterStaff", "role", in.Role)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to register staff", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.With("staff_id", member.ID).InfoContext(ctx, "staff registered")
	}()

	in.Name = strings.TrimSpace(in.Name)
	if err = validation.Struct(in); err != nil {
		return
	}

	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		taken := ledger.Count(tx, func(m ledger.Staff) bool {
			return m.SchoolID == in.SchoolID && m.EmployeeID == in.EmployeeID
		})
		if taken > 0 {
			return ledger.Invalid("employeeId", "already registered at this school")
		}
		var err error
		member, err = ledger.Create(tx, ledger.Staff{
			Role:           in.Role,
			Name:           in.Name,
			EmployeeID:     in.EmployeeID,
			SchoolID:       in.SchoolID,
			Email:          in.Email,
			Mobile:         in.Mobile,
			Username:       in.Username,
			CredentialsRef: in.CredentialsRef,
			Subjects:       in.Subjects,
			RegisteredAt:   s.now().UTC(),
		})
		return err
	})
	return
}

// AddFacePhotos appends reference photos to a student that is not rejected.
// The first photo becomes the primary one when the student has none.
func (s *Service) AddFacePhotos(ctx context.Context, studentID string, photos []string) (student ledger.Student, err error) {
	logger := s.loggerWith(ctx, "AddFacePhotos", "student_id", studentID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add face photos", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "face photos added", "face_photos", len(student.FacePhotos))
	}()

	if err = validation.Var("facePhotos", photos, "min=1,dive,required"); err != nil {
		return
	}

	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		student, err = ledger.Update(tx, studentID, func(cur ledger.Student) (ledger.Student, error) {
			if cur.Rejected {
				return cur, fmt.Errorf("student %s: %w", cur.ID, ledger.ErrRejected)
			}
			cur.FacePhotos = append(cur.FacePhotos, photos...)
			if cur.Photo == "" {
				cur.Photo = photos[0]
			}
			return cur, nil
		})
		return err
	})
	return
}

// VerifyGuardian records that the guardian confirmed the registration.
func (s *Service) VerifyGuardian(ctx context.Context, studentID string) (student ledger.Student, err error) {
	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		student, err = ledger.Update(tx, studentID, func(cur ledger.Student) (ledger.Student, error) {
			cur.GuardianVerified = true
			return cur, nil
		})
		return err
	})
	if err != nil {
		s.loggerWith(ctx, "VerifyGuardian", "student_id", studentID).
			WarnContext(ctx, "guardian verification failed", "error", err, "error_kind", ledger.ErrorKind(err))
	}
	return
}

// Approve activates a pending student or staff record. Approving an already
// approved record fails with ErrAlreadyApproved.
func (s *Service) Approve(ctx context.Context, kind ledger.Kind, id, approverID string) (ledger.Approval, error) {
	return s.approve(ctx, "Approve", kind, id, approverID, false)
}

// EnsureApproved is Approve that treats an already approved record as success.
func (s *Service) EnsureApproved(ctx context.Context, kind ledger.Kind, id, approverID string) (ledger.Approval, error) {
	return s.approve(ctx, "EnsureApproved", kind, id, approverID, true)
}

func (s *Service) approve(ctx context.Context, op string, kind ledger.Kind, id, approverID string, idempotent bool) (result ledger.Approval, err error) {
	logger := s.loggerWith(ctx, op, "kind", kind, "record_id", id, "approver_id", approverID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "approval failed", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "record approved")
	}()

	decide := func(r ledger.Reader, cur ledger.Approval, schoolID string, principal bool) (ledger.Approval, bool, error) {
		switch {
		case cur.Rejected:
			return cur, false, fmt.Errorf("%s %s: %w", kind, id, ledger.ErrRejected)
		case cur.IsApproved && idempotent:
			return cur, false, nil
		case cur.IsApproved:
			return cur, false, fmt.Errorf("%s %s: %w", kind, id, ledger.ErrAlreadyApproved)
		}
		if err := authorize(r, approverID, schoolID, principal); err != nil {
			return cur, false, err
		}
		at := s.now().UTC()
		cur.IsApproved = true
		cur.ApprovedBy = approverID
		cur.ApprovedAt = &at
		return cur, true, nil
	}

	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		switch kind {
		case ledger.KindStudent:
			st, err := ledger.MustGet[ledger.Student](tx, id)
			if err != nil {
				return err
			}
			next, changed, err := decide(tx, st.Approval, st.SchoolID, false)
			if err != nil || !changed {
				result = next
				return err
			}
			if len(st.FacePhotos) < MinFacePhotos {
				return ledger.Invalid("facePhotos", fmt.Sprintf("at least %d face photos required before approval", MinFacePhotos))
			}
			st.Approval = next
			_, err = ledger.Update(tx, id, func(ledger.Student) (ledger.Student, error) { return st, nil })
			result = next
			return err
		case ledger.KindStaff:
			member, err := ledger.MustGet[ledger.Staff](tx, id)
			if err != nil {
				return err
			}
			next, changed, err := decide(tx, member.Approval, member.SchoolID, member.Role == ledger.RolePrincipal)
			if err != nil || !changed {
				result = next
				return err
			}
			member.Approval = next
			_, err = ledger.Update(tx, id, func(ledger.Staff) (ledger.Staff, error) { return member, nil })
			result = next
			return err
		}
		return ledger.Invalid("kind", "must be one of: student staff")
	})
	return
}

// Reject takes a pending record out of the approval queue. A reason is required.
func (s *Service) Reject(ctx context.Context, kind ledger.Kind, id, actorID, reason string) (result ledger.Approval, err error) {
	logger := s.loggerWith(ctx, "Reject", "kind", kind, "record_id", id, "actor_id", actorID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "rejection failed", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "record rejected")
	}()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		err = ledger.Invalid("reason", "this field is required")
		return
	}

	decide := func(r ledger.Reader, cur ledger.Approval, schoolID string, principal bool) (ledger.Approval, error) {
		switch {
		case cur.Rejected:
			return cur, fmt.Errorf("%s %s: %w", kind, id, ledger.ErrRejected)
		case cur.IsApproved:
			return cur, fmt.Errorf("%s %s: %w", kind, id, ledger.ErrAlreadyApproved)
		}
		if err := authorize(r, actorID, schoolID, principal); err != nil {
			return cur, err
		}
		at := s.now().UTC()
		cur.Rejected = true
		cur.RejectedBy = actorID
		cur.RejectedAt = &at
		cur.RejectionReason = reason
		return cur, nil
	}

	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		switch kind {
		case ledger.KindStudent:
			st, err := ledger.MustGet[ledger.Student](tx, id)
			if err != nil {
				return err
			}
			if st.Approval, err = decide(tx, st.Approval, st.SchoolID, false); err != nil {
				return err
			}
			_, err = ledger.Update(tx, id, func(ledger.Student) (ledger.Student, error) { return st, nil })
			result = st.Approval
			return err
		case ledger.KindStaff:
			member, err := ledger.MustGet[ledger.Staff](tx, id)
			if err != nil {
				return err
			}
			if member.Approval, err = decide(tx, member.Approval, member.SchoolID, member.Role == ledger.RolePrincipal); err != nil {
				return err
			}
			_, err = ledger.Update(tx, id, func(ledger.Staff) (ledger.Staff, error) { return member, nil })
			result = member.Approval
			return err
		}
		return ledger.Invalid("kind", "must be one of: student staff")
	})
	return
}

// PendingStudents yields students awaiting a decision, optionally limited to
// one school. It is derived from the current state on every call.
func (s *Service) PendingStudents(schoolID string) iter.Seq[ledger.Student] {
	return ledger.Query(s.store, func(st ledger.Student) bool {
		return st.Pending() && (schoolID == "" || st.SchoolID == schoolID)
	})
}

// PendingStaff yields teachers and principals awaiting a decision.
func (s *Service) PendingStaff(schoolID string) iter.Seq[ledger.Staff] {
	return ledger.Query(s.store, func(m ledger.Staff) bool {
		return m.Pending() && (schoolID == "" || m.SchoolID == schoolID)
	})
}

// authorize checks that approverID may decide on a record of schoolID.
// Principals are decided by an external authority that has no staff record;
// everyone else by an approved principal of the same school.
func authorize(r ledger.Reader, approverID, schoolID string, principalTarget bool) error {
	if approverID == "" {
		return ledger.Invalid("approverId", "this field is required")
	}
	approver, known := ledger.Get[ledger.Staff](r, approverID)
	if principalTarget {
		if known {
			return fmt.Errorf("staff %s cannot decide on a principal: %w", approverID, ledger.ErrUnauthorizedApprover)
		}
		return nil
	}
	if !known || approver.Role != ledger.RolePrincipal {
		return fmt.Errorf("%s is not a principal: %w", approverID, ledger.ErrUnauthorizedApprover)
	}
	if !approver.Active() {
		return fmt.Errorf("principal %s: %w", approverID, ledger.ErrStaffNotApproved)
	}
	if approver.SchoolID != schoolID {
		return fmt.Errorf("principal %s belongs to another school: %w", approverID, ledger.ErrUnauthorizedApprover)
	}
	return nil
}

// activeStaff resolves an approved staff member able to act.
func activeStaff(r ledger.Reader, id string) (ledger.Staff, error) {
	member, err := ledger.MustGet[ledger.Staff](r, id)
	if err != nil {
		return member, err
	}
	if !member.Active() {
		return member, fmt.Errorf("staff %s: %w", id, ledger.ErrStaffNotApproved)
	}
	return member, nil
}
