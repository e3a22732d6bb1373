package testfixtures

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"schoolattend/internal/ledger"
)

const (
	// SchoolID is the school every fixture record belongs to.
	SchoolID = "SCH001"
	// PrincipalID is an approved principal present in BaseSnapshot.
	PrincipalID = "PRN001"
	// TeacherID is an approved teacher present in BaseSnapshot.
	TeacherID = "TEA001"
	// PendingTeacherID is a teacher awaiting approval in BaseSnapshot.
	PendingTeacherID = "TEA002"
	// ClassName is the class used by Student.
	ClassName = "5A"
)

// BaseSnapshot returns staff for one school: an approved principal, an
// approved teacher and a pending teacher.
func BaseSnapshot() ledger.Snapshot {
	approvedAt := ReferenceTime().AddDate(0, -1, 0)
	return ledger.Snapshot{
		Principals: []ledger.Staff{{
			ID:           PrincipalID,
			Name:         "Asha Rao",
			EmployeeID:   "EMP100",
			SchoolID:     SchoolID,
			Approval:     ledger.Approval{IsApproved: true, ApprovedBy: "GOV001", ApprovedAt: &approvedAt},
			RegisteredAt: approvedAt,
		}},
		Teachers: []ledger.Staff{
			{
				ID:           TeacherID,
				Name:         "Vikram Iyer",
				EmployeeID:   "EMP200",
				SchoolID:     SchoolID,
				Subjects:     []string{"Maths"},
				Approval:     ledger.Approval{IsApproved: true, ApprovedBy: PrincipalID, ApprovedAt: &approvedAt},
				RegisteredAt: approvedAt,
			},
			{
				ID:           PendingTeacherID,
				Name:         "Meena Pillai",
				EmployeeID:   "EMP201",
				SchoolID:     SchoolID,
				RegisteredAt: approvedAt,
			},
		},
	}
}

// NewStore builds a ledger from BaseSnapshot, failing the test on error.
func NewStore(t testing.TB, opts ...ledger.Option) *ledger.Store {
	t.Helper()
	store, err := ledger.New(BaseSnapshot(), opts...)
	if err != nil {
		t.Fatalf("testfixtures.NewStore: %v", err)
	}
	return store
}

// Student returns a complete, pending student in ClassName.
func Student(name string) ledger.Student {
	return ledger.Student{
		Name:           name,
		Age:            10,
		Gender:         "F",
		GuardianName:   "Guardian of " + name,
		GuardianMobile: "9876543210",
		Class:          ClassName,
		SchoolID:       SchoolID,
		Photo:          fmt.Sprintf("photos/%s/primary.jpg", name),
		FacePhotos: []string{
			fmt.Sprintf("photos/%s/1.jpg", name),
			fmt.Sprintf("photos/%s/2.jpg", name),
			fmt.Sprintf("photos/%s/3.jpg", name),
		},
		RegisteredBy:     TeacherID,
		RegistrationDate: ReferenceTime(),
	}
}

// ApprovedStudent returns Student(name) already approved by PrincipalID, for
// seeding a snapshot directly.
func ApprovedStudent(id, name string) ledger.Student {
	s := Student(name)
	s.ID = id
	s.IsApproved = true
	s.ApprovedBy = PrincipalID
	return s
}

// Logger discards output; services under test still exercise their logging.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
