package entitlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/entitlement"
	"schoolattend/internal/ledger"
	"schoolattend/internal/testfixtures"
)

func newService(t *testing.T) (*entitlement.Service, *testfixtures.Clock) {
	t.Helper()
	snap := testfixtures.BaseSnapshot()
	snap.Students = []ledger.Student{testfixtures.ApprovedStudent("STU001", "a")}
	store, err := ledger.New(snap)
	require.NoError(t, err)
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	return entitlement.NewService(store, clock.Now, testfixtures.Logger()), clock
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to ledger.EntitlementStatus
		want     bool
	}{
		{ledger.EntitlementPending, ledger.EntitlementApproved, true},
		{ledger.EntitlementApproved, ledger.EntitlementDisbursed, true},
		{ledger.EntitlementApproved, ledger.EntitlementReceived, true},
		{ledger.EntitlementDisbursed, ledger.EntitlementReceived, true},
		{ledger.EntitlementPending, ledger.EntitlementDisbursed, false},
		{ledger.EntitlementDisbursed, ledger.EntitlementApproved, false},
		{ledger.EntitlementReceived, ledger.EntitlementPending, false},
		{ledger.EntitlementApproved, ledger.EntitlementApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, entitlement.CanAdvance(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestGrantAndAdvance(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	e, err := svc.Grant(ctx, entitlement.GrantInput{
		StudentID: "STU001",
		Type:      ledger.EntitlementScholarship,
		Amount:    1500,
		StartDate: "2024-06-01",
	}, testfixtures.PrincipalID)
	require.NoError(t, err)
	assert.Equal(t, "ENT001", e.ID)
	assert.Equal(t, ledger.EntitlementPending, e.Status)

	_, err = svc.Advance(ctx, e.ID, ledger.EntitlementDisbursed, testfixtures.PrincipalID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	e, err = svc.Advance(ctx, e.ID, ledger.EntitlementApproved, testfixtures.PrincipalID)
	require.NoError(t, err)
	clock.NextDay()
	e, err = svc.Advance(ctx, e.ID, ledger.EntitlementDisbursed, "GOV001")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-16", e.DisbursedDate)
	assert.Equal(t, "GOV001", e.UpdatedBy)

	clock.NextDay()
	e, err = svc.Advance(ctx, e.ID, ledger.EntitlementReceived, testfixtures.TeacherID)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-17", e.ReceivedDate)

	_, err = svc.Advance(ctx, e.ID, ledger.EntitlementApproved, testfixtures.TeacherID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	assert.Equal(t, []ledger.Entitlement{e}, svc.ForStudent("STU001"))
	assert.Empty(t, svc.ForStudent("STU999"))
}

func TestGrantValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Grant(ctx, entitlement.GrantInput{StudentID: "STU001", Type: "bicycle", Quantity: -1}, testfixtures.PrincipalID)
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "type")
	assert.Contains(t, vErr.FieldErrors, "quantity")

	_, err = svc.Grant(ctx, entitlement.GrantInput{StudentID: "STU404", Type: ledger.EntitlementBooks}, testfixtures.PrincipalID)
	assert.ErrorIs(t, err, ledger.ErrUnknownStudent)

	_, err = svc.Grant(ctx, entitlement.GrantInput{StudentID: "STU001", Type: ledger.EntitlementBooks}, testfixtures.PendingTeacherID)
	assert.ErrorIs(t, err, ledger.ErrStaffNotApproved)

	_, err = svc.Grant(ctx, entitlement.GrantInput{StudentID: "STU001", Type: ledger.EntitlementBooks}, "")
	assert.Equal(t, "validation", ledger.ErrorKind(err))

	_, err = svc.Advance(ctx, "ENT404", ledger.EntitlementApproved, testfixtures.PrincipalID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
