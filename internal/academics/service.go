// Package academics stores marksheets, homework and other academic
// artifacts for students and classes.
package academics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"schoolattend/internal/ledger"
	"schoolattend/internal/logging"
	"schoolattend/internal/validation"
)

// MaterialInput is an upload request. Either StudentID or Class must be set.
type MaterialInput struct {
	StudentID   string              `json:"studentId" validate:"required_without=Class"`
	Class       string              `json:"class" validate:"required_without=StudentID"`
	Type        ledger.MaterialType `json:"type" validate:"required,oneof=marksheet homework assignment result"`
	Subject     string              `json:"subject"`
	Title       string              `json:"title" validate:"required"`
	File        string              `json:"file"`
	Description string              `json:"description"`
	DueDate     string              `json:"dueDate" validate:"omitempty,isodate"`
	Marks       *float64            `json:"marks" validate:"omitempty,gte=0"`
	TotalMarks  *float64            `json:"totalMarks" validate:"omitempty,gt=0"`
}

// Service manages academic materials.
type Service struct {
	store  *ledger.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates the service.
func NewService(store *ledger.Store, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: now, logger: logger}
}

// UploadAcademicMaterial validates and stores a material uploaded by an
// approved staff member, stamping today's date.
func (s *Service) UploadAcademicMaterial(ctx context.Context, in MaterialInput, uploadedBy string) (m ledger.AcademicMaterial, err error) {
	logger := logging.Operation(ctx, s.logger, "AcademicsService", "UploadAcademicMaterial", "actor_id", uploadedBy)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to upload material", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.With("material_id", m.ID).InfoContext(ctx, "material uploaded", "type", m.Type)
	}()

	in.Title = strings.TrimSpace(in.Title)
	if err = validation.Struct(in); err != nil {
		return
	}
	if in.Marks != nil && in.TotalMarks != nil && *in.Marks > *in.TotalMarks {
		err = ledger.Invalid("marks", "must not exceed totalMarks")
		return
	}

	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		uploader, err := ledger.MustGet[ledger.Staff](tx, uploadedBy)
		if err != nil {
			return err
		}
		if !uploader.Active() {
			return fmt.Errorf("staff %s: %w", uploadedBy, ledger.ErrStaffNotApproved)
		}
		if in.StudentID != "" {
			if _, ok := ledger.Get[ledger.Student](tx, in.StudentID); !ok {
				return fmt.Errorf("student %s: %w", in.StudentID, ledger.ErrUnknownStudent)
			}
		}
		m, err = ledger.Create(tx, ledger.AcademicMaterial{
			StudentID:   in.StudentID,
			Class:       in.Class,
			Type:        in.Type,
			Subject:     in.Subject,
			Title:       in.Title,
			File:        in.File,
			Description: in.Description,
			DueDate:     in.DueDate,
			UploadedBy:  uploadedBy,
			UploadDate:  ledger.DateOf(s.now()),
			Marks:       in.Marks,
			TotalMarks:  in.TotalMarks,
		})
		return err
	})
	return
}

// MaterialsForStudent returns the student's own materials and those posted
// to the student's class, in upload order.
func (s *Service) MaterialsForStudent(studentID string) ([]ledger.AcademicMaterial, error) {
	v := s.store.View()
	student, ok := ledger.Get[ledger.Student](v, studentID)
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, ledger.ErrUnknownStudent)
	}
	out := []ledger.AcademicMaterial{}
	for m := range ledger.Query(v, func(m ledger.AcademicMaterial) bool {
		if m.StudentID != "" {
			return m.StudentID == studentID
		}
		return m.Class == student.Class
	}) {
		out = append(out, m)
	}
	return out, nil
}
