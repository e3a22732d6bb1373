// Package entitlement tracks student benefits such as midday meals, books,
// uniforms and scholarships through their delivery lifecycle.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"schoolattend/internal/ledger"
	"schoolattend/internal/logging"
	"schoolattend/internal/validation"
)

// next lists the statuses each status may move to.
var next = map[ledger.EntitlementStatus][]ledger.EntitlementStatus{
	ledger.EntitlementPending:   {ledger.EntitlementApproved},
	ledger.EntitlementApproved:  {ledger.EntitlementDisbursed, ledger.EntitlementReceived},
	ledger.EntitlementDisbursed: {ledger.EntitlementReceived},
}

// CanAdvance reports whether from → to is a permitted transition.
func CanAdvance(from, to ledger.EntitlementStatus) bool {
	return slices.Contains(next[from], to)
}

// GrantInput describes a new benefit.
type GrantInput struct {
	StudentID    string                 `json:"studentId" validate:"required"`
	Type         ledger.EntitlementType `json:"type" validate:"required,oneof=midday_meal books uniform scholarship"`
	StartDate    string                 `json:"startDate" validate:"omitempty,isodate"`
	Quantity     int                    `json:"quantity" validate:"gte=0"`
	Amount       float64                `json:"amount" validate:"gte=0"`
	ExpectedDate string                 `json:"expectedDate" validate:"omitempty,isodate"`
}

// Service manages entitlements.
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

// Grant creates a pending entitlement for an existing student.
func (s *Service) Grant(ctx context.Context, in GrantInput, actorID string) (e ledger.Entitlement, err error) {
	logger := logging.Operation(ctx, s.logger, "EntitlementService", "Grant", "student_id", in.StudentID, "actor_id", actorID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to grant entitlement", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.With("entitlement_id", e.ID).InfoContext(ctx, "entitlement granted", "type", e.Type)
	}()

	if err = validation.Struct(in); err != nil {
		return
	}
	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		if err := checkActor(tx, actorID); err != nil {
			return err
		}
		if _, ok := ledger.Get[ledger.Student](tx, in.StudentID); !ok {
			return fmt.Errorf("student %s: %w", in.StudentID, ledger.ErrUnknownStudent)
		}
		var err error
		e, err = ledger.Create(tx, ledger.Entitlement{
			StudentID:    in.StudentID,
			Type:         in.Type,
			Status:       ledger.EntitlementPending,
			StartDate:    in.StartDate,
			Quantity:     in.Quantity,
			Amount:       in.Amount,
			ExpectedDate: in.ExpectedDate,
			UpdatedBy:    actorID,
		})
		return err
	})
	return
}

// Advance moves an entitlement forward. Disbursed and received transitions
// stamp today's date.
func (s *Service) Advance(ctx context.Context, id string, status ledger.EntitlementStatus, actorID string) (e ledger.Entitlement, err error) {
	logger := logging.Operation(ctx, s.logger, "EntitlementService", "Advance", "entitlement_id", id, "actor_id", actorID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to advance entitlement", "error", err, "error_kind", ledger.ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "entitlement advanced", "status", e.Status)
	}()

	today := ledger.DateOf(s.now())
	err = s.store.Update(ctx, func(tx *ledger.Tx) error {
		if err := checkActor(tx, actorID); err != nil {
			return err
		}
		var err error
		e, err = ledger.Update(tx, id, func(cur ledger.Entitlement) (ledger.Entitlement, error) {
			if !CanAdvance(cur.Status, status) {
				return cur, fmt.Errorf("%s -> %s: %w", cur.Status, status, ledger.ErrInvalidTransition)
			}
			cur.Status = status
			cur.UpdatedBy = actorID
			switch status {
			case ledger.EntitlementDisbursed:
				cur.DisbursedDate = today
			case ledger.EntitlementReceived:
				cur.ReceivedDate = today
			}
			return cur, nil
		})
		return err
	})
	return
}

// ForStudent lists a student's entitlements in grant order.
func (s *Service) ForStudent(studentID string) []ledger.Entitlement {
	out := []ledger.Entitlement{}
	for e := range ledger.Query(s.store, func(e ledger.Entitlement) bool { return e.StudentID == studentID }) {
		out = append(out, e)
	}
	return out
}

// checkActor requires an actor id; staff members must be approved.
func checkActor(r ledger.Reader, actorID string) error {
	if actorID == "" {
		return ledger.Invalid("actorId", "this field is required")
	}
	if member, ok := ledger.Get[ledger.Staff](r, actorID); ok && !member.Active() {
		return fmt.Errorf("staff %s: %w", actorID, ledger.ErrStaffNotApproved)
	}
	return nil
}
