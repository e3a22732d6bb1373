package academics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/academics"
	"schoolattend/internal/ledger"
	"schoolattend/internal/testfixtures"
)

func ptr(f float64) *float64 { return &f }

func newService(t *testing.T) *academics.Service {
	t.Helper()
	snap := testfixtures.BaseSnapshot()
	other := testfixtures.ApprovedStudent("STU002", "b")
	other.Class = "6B"
	snap.Students = []ledger.Student{testfixtures.ApprovedStudent("STU001", "a"), other}
	store, err := ledger.New(snap)
	require.NoError(t, err)
	return academics.NewService(store, testfixtures.NewClock(testfixtures.ReferenceTime()).Now, testfixtures.Logger())
}

func TestUploadAcademicMaterial(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	m, err := svc.UploadAcademicMaterial(ctx, academics.MaterialInput{
		StudentID:  "STU001",
		Type:       ledger.MaterialMarksheet,
		Subject:    "Maths",
		Title:      " Term 1 ",
		Marks:      ptr(42),
		TotalMarks: ptr(50),
	}, testfixtures.TeacherID)
	require.NoError(t, err)
	assert.Equal(t, "MAT001", m.ID)
	assert.Equal(t, "Term 1", m.Title)
	assert.Equal(t, "2024-07-15", m.UploadDate)
	assert.Equal(t, testfixtures.TeacherID, m.UploadedBy)

	tests := []struct {
		name  string
		in    academics.MaterialInput
		actor string
		kind  string
		field string
	}{
		{"needs a target", academics.MaterialInput{Type: ledger.MaterialHomework, Title: "x"}, testfixtures.TeacherID, "validation", "studentId"},
		{"unknown type", academics.MaterialInput{Class: "5A", Type: "poster", Title: "x"}, testfixtures.TeacherID, "validation", "type"},
		{"bad due date", academics.MaterialInput{Class: "5A", Type: ledger.MaterialHomework, Title: "x", DueDate: "tomorrow"}, testfixtures.TeacherID, "validation", "dueDate"},
		{"marks above total", academics.MaterialInput{StudentID: "STU001", Type: ledger.MaterialResult, Title: "x", Marks: ptr(60), TotalMarks: ptr(50)}, testfixtures.TeacherID, "validation", "marks"},
		{"unknown student", academics.MaterialInput{StudentID: "STU404", Type: ledger.MaterialResult, Title: "x"}, testfixtures.TeacherID, "unknown_student", ""},
		{"pending uploader", academics.MaterialInput{Class: "5A", Type: ledger.MaterialHomework, Title: "x"}, testfixtures.PendingTeacherID, "staff_not_approved", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UploadAcademicMaterial(ctx, tt.in, tt.actor)
			assert.Equal(t, tt.kind, ledger.ErrorKind(err), "%v", err)
			if tt.field != "" {
				var vErr *ledger.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Contains(t, vErr.FieldErrors, tt.field)
			}
		})
	}
}

func TestMaterialsForStudent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	upload := func(in academics.MaterialInput) string {
		m, err := svc.UploadAcademicMaterial(ctx, in, testfixtures.TeacherID)
		require.NoError(t, err)
		return m.ID
	}

	own := upload(academics.MaterialInput{StudentID: "STU001", Type: ledger.MaterialResult, Title: "report"})
	classWork := upload(academics.MaterialInput{Class: testfixtures.ClassName, Type: ledger.MaterialHomework, Title: "fractions", DueDate: "2024-07-20"})
	upload(academics.MaterialInput{Class: "6B", Type: ledger.MaterialHomework, Title: "other class"})
	upload(academics.MaterialInput{StudentID: "STU002", Type: ledger.MaterialResult, Title: "someone else"})

	got, err := svc.MaterialsForStudent("STU001")
	require.NoError(t, err)
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{own, classWork}, ids)

	_, err = svc.MaterialsForStudent("STU404")
	assert.ErrorIs(t, err, ledger.ErrUnknownStudent)
}
