package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"schoolattend/internal/ledger"
	"schoolattend/internal/logging"
	"schoolattend/internal/validation"
)

// DefaultThreshold is the match score at or above which a capture counts as present.
const DefaultThreshold = 0.85

// ErrNoScorer is returned by VerifyAndRecord when the service has no scorer.
var ErrNoScorer = errors.New("attendance: no verification scorer configured")

// Scorer compares a captured face with a registered reference and returns a
// confidence in [0,1].
type Scorer interface {
	Score(ctx context.Context, captured, reference string) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, captured, reference string) (float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, captured, reference string) (float64, error) {
	return f(ctx, captured, reference)
}

// Capture is one biometric attendance capture with its match score.
type Capture struct {
	StudentID     string    `json:"studentId" validate:"required"`
	CapturedPhoto string    `json:"capturedPhoto" validate:"required"`
	Score         float64   `json:"verificationScore"`
	Location      string    `json:"gpsLocation"`
	ActorID       string    `json:"markedBy" validate:"required"`
	At            time.Time `json:"at"`
}

// Service records attendance events on the ledger.
type Service struct {
	store     *ledger.Store
	scorer    Scorer
	threshold float64
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a recorder. A threshold outside (0,1] falls back to
// DefaultThreshold; scorer may be nil when only pre-scored captures are used.
func NewService(store *ledger.Store, scorer Scorer, threshold float64, now func() time.Time, logger *slog.Logger) *Service {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, scorer: scorer, threshold: threshold, now: now, logger: logger}
}

// Threshold returns the configured presence threshold.
func (s *Service) Threshold() float64 { return s.threshold }

func (s *Service) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Operation(ctx, s.logger, "AttendanceService", operation, attrs...)
}

// RecordAttendance stores the event for a scored capture together with its
// camera log. A score below the threshold is recorded as absent pending review.
func (s *Service) RecordAttendance(ctx context.Context, c Capture) (evt ledger.AttendanceEvent, err error) {
	logger := s.loggerWith(ctx, "RecordAttendance", "student_id", c.StudentID, "actor_id", c.ActorID)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "attendance not recorded", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "attendance recorded",
			"attendance_id", evt.ID, "status", evt.Status, "verification", evt.Verification)
	}()

	if err = validation.Struct(c); err != nil {
		return
	}
	if err = checkScore(c.Score); err != nil {
		return
	}
	at := c.At
	if at.IsZero() {
		at = s.now()
	}

	status, verification := ledger.StatusPresent, ledger.VerificationVerified
	if c.Score < s.threshold {
		status, verification = ledger.StatusAbsent, ledger.VerificationReview
	}

	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		student, err := activeStudent(tx, c.StudentID)
		if err != nil {
			return err
		}
		if err := checkActor(tx, c.ActorID); err != nil {
			return err
		}
		date := ledger.DateOf(at)
		if _, taken := ledger.AttendanceOn(tx, student.ID, date); taken {
			return fmt.Errorf("student %s on %s: %w", student.ID, date, ledger.ErrDuplicateAttendance)
		}

		score := c.Score
		evt, err = ledger.Create(tx, ledger.AttendanceEvent{
			StudentID:     student.ID,
			Date:          date,
			Time:          at.Format(ledger.TimeLayout),
			Status:        status,
			Method:        ledger.MethodCapture,
			Verification:  verification,
			MarkedBy:      c.ActorID,
			Location:      c.Location,
			CapturedPhoto: c.CapturedPhoto,
			Score:         &score,
			RecordedAt:    at,
		})
		if err != nil {
			return err
		}
		_, err = ledger.Create(tx, ledger.CameraLog{
			AttendanceID:   evt.ID,
			StudentID:      student.ID,
			Timestamp:      at,
			CapturedFace:   c.CapturedPhoto,
			RegisteredFace: student.ReferencePhoto(),
			MatchScore:     score,
			Location:       c.Location,
			MarkedBy:       c.ActorID,
		})
		return err
	})
	return
}

// VerifyAndRecord scores capturedPhoto against the student's reference photo
// and records the outcome. A scoring failure records nothing.
func (s *Service) VerifyAndRecord(ctx context.Context, studentID, capturedPhoto, location, actorID string) (ledger.AttendanceEvent, error) {
	if s.scorer == nil {
		return ledger.AttendanceEvent{}, ErrNoScorer
	}
	reference, err := s.ReferencePhoto(studentID)
	if err != nil {
		return ledger.AttendanceEvent{}, err
	}
	at := s.now()
	score, err := s.scorer.Score(ctx, capturedPhoto, reference)
	if err != nil {
		s.loggerWith(ctx, "VerifyAndRecord", "student_id", studentID).
			ErrorContext(ctx, "face verification failed", "error", err)
		return ledger.AttendanceEvent{}, fmt.Errorf("score capture for %s: %w", studentID, err)
	}
	return s.RecordAttendance(ctx, Capture{
		StudentID:     studentID,
		CapturedPhoto: capturedPhoto,
		Score:         score,
		Location:      location,
		ActorID:       actorID,
		At:            at,
	})
}

// ReferencePhoto resolves the photo captures of an approved student are
// compared against.
func (s *Service) ReferencePhoto(studentID string) (string, error) {
	student, err := activeStudent(s.store, studentID)
	if err != nil {
		return "", err
	}
	ref := student.ReferencePhoto()
	if ref == "" {
		return "", ledger.Invalid("photo", "student has no reference photo")
	}
	return ref, nil
}

// MarkAttendance records a manual outcome without biometric evidence. An
// empty date means today.
func (s *Service) MarkAttendance(ctx context.Context, studentID string, status ledger.AttendanceStatus, actorID, date string) (evt ledger.AttendanceEvent, err error) {
	logger := s.loggerWith(ctx, "MarkAttendance", "student_id", studentID, "actor_id", actorID)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "attendance not marked", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "attendance marked", "attendance_id", evt.ID, "status", evt.Status, "date", evt.Date)
	}()

	now := s.now()
	if date == "" {
		date = ledger.DateOf(now)
	}
	vErr := &ledger.ValidationError{}
	if !status.Valid() {
		vErr.Add("status", "must be one of: present absent")
	}
	if err := validation.Date("date", date); err != nil {
		vErr.Add("date", "must be a date in YYYY-MM-DD format")
	}
	if actorID == "" {
		vErr.Add("markedBy", "this field is required")
	}
	if err = vErr.OrNil(); err != nil {
		return
	}

	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		student, err := activeStudent(tx, studentID)
		if err != nil {
			return err
		}
		if _, err := activeStaff(tx, actorID); err != nil {
			return err
		}
		if _, taken := ledger.AttendanceOn(tx, student.ID, date); taken {
			return fmt.Errorf("student %s on %s: %w", student.ID, date, ledger.ErrDuplicateAttendance)
		}
		evt, err = ledger.Create(tx, ledger.AttendanceEvent{
			StudentID:    student.ID,
			Date:         date,
			Time:         now.Format(ledger.TimeLayout),
			Status:       status,
			Method:       ledger.MethodManual,
			Verification: ledger.VerificationNone,
			MarkedBy:     actorID,
			RecordedAt:   now,
		})
		return err
	})
	return
}

// AmendAttendance overwrites the status of an existing event. The previous
// status and the amending actor are kept on the event; its camera log is
// left untouched.
func (s *Service) AmendAttendance(ctx context.Context, eventID string, status ledger.AttendanceStatus, actorID, reason string) (evt ledger.AttendanceEvent, err error) {
	logger := s.loggerWith(ctx, "AmendAttendance", "attendance_id", eventID, "actor_id", actorID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to amend attendance", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "attendance amended", "previous_status", evt.PreviousStatus, "status", evt.Status)
	}()

	reason = strings.TrimSpace(reason)
	vErr := &ledger.ValidationError{}
	if !status.Valid() {
		vErr.Add("status", "must be one of: present absent")
	}
	if reason == "" {
		vErr.Add("reason", "this field is required")
	}
	if err = vErr.OrNil(); err != nil {
		return
	}

	at := s.now()
	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		if _, err := activeStaff(tx, actorID); err != nil {
			return err
		}
		var err error
		evt, err = ledger.Update(tx, eventID, func(cur ledger.AttendanceEvent) (ledger.AttendanceEvent, error) {
			cur.PreviousStatus = cur.Status
			cur.Status = status
			cur.AmendedBy = actorID
			cur.AmendedAt = &at
			cur.AmendReason = reason
			return cur, nil
		})
		return err
	})
	return
}

func checkScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return ledger.Invalid("verificationScore", "must be a number between 0 and 1")
	}
	return validation.Var("verificationScore", score, "gte=0,lte=1")
}

func activeStudent(r ledger.Reader, id string) (ledger.Student, error) {
	student, ok := ledger.Get[ledger.Student](r, id)
	if !ok {
		return student, fmt.Errorf("student %s: %w", id, ledger.ErrUnknownStudent)
	}
	if !student.Active() {
		return student, fmt.Errorf("student %s: %w", id, ledger.ErrStudentNotApproved)
	}
	return student, nil
}

// checkActor lets capture devices and other non-staff actors through, but a
// staff member must be approved to record.
func checkActor(r ledger.Reader, actorID string) error {
	member, ok := ledger.Get[ledger.Staff](r, actorID)
	if ok && !member.Active() {
		return fmt.Errorf("staff %s: %w", actorID, ledger.ErrStaffNotApproved)
	}
	return nil
}

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
