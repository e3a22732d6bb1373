package attendance_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/approval"
	"schoolattend/internal/attendance"
	"schoolattend/internal/ledger"
	"schoolattend/internal/stats"
	"schoolattend/internal/testfixtures"
)

type env struct {
	store *ledger.Store
	clock *testfixtures.Clock
	svc   *attendance.Service
	repo  *attendance.Repository
}

// newEnv seeds approved students STU001..STUnnn in the fixture school.
func newEnv(t *testing.T, students int, scorer attendance.Scorer) env {
	t.Helper()
	snap := testfixtures.BaseSnapshot()
	for i := 1; i <= students; i++ {
		id := "STU00" + string(rune('0'+i))
		snap.Students = append(snap.Students, testfixtures.ApprovedStudent(id, "student-"+id))
	}
	store, err := ledger.New(snap)
	require.NoError(t, err)
	clock := testfixtures.NewClock(time.Time{})
	return env{
		store: store,
		clock: clock,
		svc:   attendance.NewService(store, scorer, 0, clock.Now, testfixtures.Logger()),
		repo:  attendance.NewRepository(store),
	}
}

func capture(studentID string, score float64) attendance.Capture {
	return attendance.Capture{
		StudentID:     studentID,
		CapturedPhoto: "captures/" + studentID + ".jpg",
		Score:         score,
		Location:      "12.9716,77.5946",
		ActorID:       testfixtures.TeacherID,
	}
}

func TestRecordAttendance_VerifiedCapture(t *testing.T) {
	e := newEnv(t, 1, nil)
	ctx := context.Background()

	evt, err := e.svc.RecordAttendance(ctx, capture("STU001", 0.93))
	require.NoError(t, err)
	assert.Equal(t, "ATT001", evt.ID)
	assert.Equal(t, ledger.StatusPresent, evt.Status)
	assert.Equal(t, ledger.MethodCapture, evt.Method)
	assert.Equal(t, ledger.VerificationVerified, evt.Verification)
	assert.Equal(t, "2024-07-15", evt.Date)
	assert.Equal(t, "09:30:00", evt.Time)
	require.NotNil(t, evt.Score)
	assert.InDelta(t, 0.93, *evt.Score, 1e-9)

	// exactly one camera log, pointing back at the event
	assert.Equal(t, 1, ledger.Count[ledger.CameraLog](e.store, nil))
	log, err := e.repo.CameraLogFor(evt.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, log.AttendanceID)
	assert.Equal(t, "STU001", log.StudentID)
	assert.Equal(t, "captures/STU001.jpg", log.CapturedFace)
	assert.Equal(t, "photos/student-STU001/primary.jpg", log.RegisteredFace)
	assert.InDelta(t, 0.93, log.MatchScore, 1e-9)

	back, err := e.repo.GetEvent(log.AttendanceID)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
}

func TestRecordAttendance_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name         string
		score        float64
		status       ledger.AttendanceStatus
		verification ledger.Verification
	}{
		{"at threshold", attendance.DefaultThreshold, ledger.StatusPresent, ledger.VerificationVerified},
		{"perfect", 1, ledger.StatusPresent, ledger.VerificationVerified},
		{"just below", 0.8499, ledger.StatusAbsent, ledger.VerificationReview},
		{"zero", 0, ledger.StatusAbsent, ledger.VerificationReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 1, nil)
			evt, err := e.svc.RecordAttendance(context.Background(), capture("STU001", tt.score))
			require.NoError(t, err)
			assert.Equal(t, tt.status, evt.Status)
			assert.Equal(t, tt.verification, evt.Verification)
			// below-threshold captures keep their audit record too
			assert.Equal(t, 1, ledger.Count[ledger.CameraLog](e.store, nil))
		})
	}
}

func TestRecordAttendance_RejectsUntrustedScores(t *testing.T) {
	for _, score := range []float64{-0.1, 1.01, math.NaN(), math.Inf(1)} {
		e := newEnv(t, 1, nil)
		_, err := e.svc.RecordAttendance(context.Background(), capture("STU001", score))
		var vErr *ledger.ValidationError
		require.True(t, errors.As(err, &vErr), "score %v: %v", score, err)
		assert.Contains(t, vErr.FieldErrors, "verificationScore")
		assert.Zero(t, ledger.Count[ledger.AttendanceEvent](e.store, nil))
	}
}

func TestRecordAttendance_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown student", func(t *testing.T) {
		e := newEnv(t, 1, nil)
		_, err := e.svc.RecordAttendance(ctx, capture("STU404", 0.9))
		assert.ErrorIs(t, err, ledger.ErrUnknownStudent)
	})

	t.Run("pending student", func(t *testing.T) {
		e := newEnv(t, 0, nil)
		require.NoError(t, e.store.Update(ctx, func(tx *ledger.Tx) error {
			_, err := ledger.Create(tx, testfixtures.Student("pending"))
			return err
		}))
		_, err := e.svc.RecordAttendance(ctx, capture("STU001", 0.9))
		assert.ErrorIs(t, err, ledger.ErrStudentNotApproved)
		assert.Zero(t, ledger.Count[ledger.CameraLog](e.store, nil))
	})

	t.Run("pending staff cannot record", func(t *testing.T) {
		e := newEnv(t, 1, nil)
		c := capture("STU001", 0.9)
		c.ActorID = testfixtures.PendingTeacherID
		_, err := e.svc.RecordAttendance(ctx, c)
		assert.ErrorIs(t, err, ledger.ErrStaffNotApproved)
	})

	t.Run("capture devices may record", func(t *testing.T) {
		e := newEnv(t, 1, nil)
		c := capture("STU001", 0.9)
		c.ActorID = "kiosk-gate-1"
		evt, err := e.svc.RecordAttendance(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, "kiosk-gate-1", evt.MarkedBy)
	})

	t.Run("missing fields", func(t *testing.T) {
		e := newEnv(t, 1, nil)
		_, err := e.svc.RecordAttendance(ctx, attendance.Capture{Score: 0.9})
		var vErr *ledger.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Contains(t, vErr.FieldErrors, "studentId")
		assert.Contains(t, vErr.FieldErrors, "capturedPhoto")
		assert.Contains(t, vErr.FieldErrors, "markedBy")
	})
}

func TestRecordAttendance_RejectsSecondEventSameDay(t *testing.T) {
	e := newEnv(t, 1, nil)
	ctx := context.Background()

	_, err := e.svc.RecordAttendance(ctx, capture("STU001", 0.9))
	require.NoError(t, err)

	e.clock.Advance(2 * time.Hour)
	_, err = e.svc.RecordAttendance(ctx, capture("STU001", 0.95))
	assert.ErrorIs(t, err, ledger.ErrDuplicateAttendance)
	_, err = e.svc.MarkAttendance(ctx, "STU001", ledger.StatusAbsent, testfixtures.TeacherID, "")
	assert.ErrorIs(t, err, ledger.ErrDuplicateAttendance)

	assert.Equal(t, 1, ledger.Count[ledger.AttendanceEvent](e.store, nil))
	assert.Equal(t, 1, ledger.Count[ledger.CameraLog](e.store, nil))

	e.clock.NextDay()
	_, err = e.svc.RecordAttendance(ctx, capture("STU001", 0.95))
	assert.NoError(t, err)
}

func TestRecordAttendance_ConcurrentCapturesKeepOneEventPerDay(t *testing.T) {
	e := newEnv(t, 1, nil)
	const callers = 64

	var (
		wg         sync.WaitGroup
		recorded   atomic.Int32
		duplicates atomic.Int32
		start      = make(chan struct{})
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.svc.RecordAttendance(context.Background(), capture("STU001", 0.9))
			switch {
			case err == nil:
				recorded.Add(1)
			case errors.Is(err, ledger.ErrDuplicateAttendance):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), recorded.Load())
	assert.Equal(t, int32(callers-1), duplicates.Load())
	assert.Equal(t, 1, ledger.Count[ledger.AttendanceEvent](e.store, nil))
	assert.Equal(t, 1, ledger.Count[ledger.CameraLog](e.store, nil))
}

func TestRecordAttendance_ExplicitTimestamp(t *testing.T) {
	e := newEnv(t, 1, nil)
	c := capture("STU001", 0.9)
	c.At = time.Date(2024, time.July, 1, 8, 5, 9, 0, time.UTC)

	evt, err := e.svc.RecordAttendance(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", evt.Date)
	assert.Equal(t, "08:05:09", evt.Time)
	assert.Equal(t, c.At, evt.RecordedAt)
}

func TestVerifyAndRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("scores against the reference photo", func(t *testing.T) {
		var gotCaptured, gotReference string
		scorer := attendance.ScorerFunc(func(_ context.Context, captured, reference string) (float64, error) {
			gotCaptured, gotReference = captured, reference
			return 0.91, nil
		})
		e := newEnv(t, 1, scorer)

		evt, err := e.svc.VerifyAndRecord(ctx, "STU001", "cap.jpg", "gate", testfixtures.TeacherID)
		require.NoError(t, err)
		assert.Equal(t, "cap.jpg", gotCaptured)
		assert.Equal(t, "photos/student-STU001/primary.jpg", gotReference)
		assert.Equal(t, ledger.StatusPresent, evt.Status)
	})

	t.Run("scorer failure records nothing", func(t *testing.T) {
		boom := errors.New("face service down")
		e := newEnv(t, 1, attendance.ScorerFunc(func(context.Context, string, string) (float64, error) {
			return 0, boom
		}))
		_, err := e.svc.VerifyAndRecord(ctx, "STU001", "cap.jpg", "", testfixtures.TeacherID)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, ledger.Count[ledger.AttendanceEvent](e.store, nil))
	})

	t.Run("out of range score from scorer", func(t *testing.T) {
		e := newEnv(t, 1, attendance.ScorerFunc(func(context.Context, string, string) (float64, error) {
			return 7, nil
		}))
		_, err := e.svc.VerifyAndRecord(ctx, "STU001", "cap.jpg", "", testfixtures.TeacherID)
		assert.Equal(t, "validation", ledger.ErrorKind(err))
	})

	t.Run("no scorer", func(t *testing.T) {
		e := newEnv(t, 1, nil)
		_, err := e.svc.VerifyAndRecord(ctx, "STU001", "cap.jpg", "", testfixtures.TeacherID)
		assert.ErrorIs(t, err, attendance.ErrNoScorer)
	})

	t.Run("unknown student is not scored", func(t *testing.T) {
		called := false
		e := newEnv(t, 1, attendance.ScorerFunc(func(context.Context, string, string) (float64, error) {
			called = true
			return 1, nil
		}))
		_, err := e.svc.VerifyAndRecord(ctx, "STU404", "cap.jpg", "", testfixtures.TeacherID)
		assert.ErrorIs(t, err, ledger.ErrUnknownStudent)
		assert.False(t, called)
	})
}

func TestMarkAttendance(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 2, nil)

	evt, err := e.svc.MarkAttendance(ctx, "STU001", ledger.StatusAbsent, testfixtures.TeacherID, "")
	require.NoError(t, err)
	assert.Equal(t, e.clock.Today(), evt.Date)
	assert.Equal(t, ledger.MethodManual, evt.Method)
	assert.Equal(t, ledger.VerificationNone, evt.Verification)
	assert.Nil(t, evt.Score)
	assert.Empty(t, evt.CapturedPhoto)
	assert.Zero(t, ledger.Count[ledger.CameraLog](e.store, nil))

	evt, err = e.svc.MarkAttendance(ctx, "STU002", ledger.StatusPresent, testfixtures.TeacherID, "2024-07-12")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-12", evt.Date)

	_, err = e.svc.MarkAttendance(ctx, "STU002", "late", testfixtures.TeacherID, "12/07/2024")
	var vErr *ledger.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.FieldErrors, "status")
	assert.Contains(t, vErr.FieldErrors, "date")

	_, err = e.svc.MarkAttendance(ctx, "STU002", ledger.StatusPresent, testfixtures.PendingTeacherID, "")
	assert.ErrorIs(t, err, ledger.ErrStaffNotApproved)
	_, err = e.svc.MarkAttendance(ctx, "STU002", ledger.StatusPresent, "kiosk-gate-1", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAmendAttendance(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 1, nil)

	evt, err := e.svc.RecordAttendance(ctx, capture("STU001", 0.6))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusAbsent, evt.Status)
	assert.Len(t, e.repo.PendingReview(""), 1)
	before, err := e.repo.CameraLogFor(evt.ID)
	require.NoError(t, err)

	_, err = e.svc.AmendAttendance(ctx, evt.ID, ledger.StatusPresent, testfixtures.PrincipalID, "")
	assert.Equal(t, "validation", ledger.ErrorKind(err))

	e.clock.Advance(time.Minute)
	amended, err := e.svc.AmendAttendance(ctx, evt.ID, ledger.StatusPresent, testfixtures.PrincipalID, "confirmed in class")
	require.NoError(t, err)
	assert.Equal(t, evt.ID, amended.ID)
	assert.Equal(t, ledger.StatusPresent, amended.Status)
	assert.Equal(t, ledger.StatusAbsent, amended.PreviousStatus)
	assert.Equal(t, testfixtures.PrincipalID, amended.AmendedBy)
	require.NotNil(t, amended.AmendedAt)
	assert.Equal(t, e.clock.Now(), *amended.AmendedAt)
	assert.Equal(t, "confirmed in class", amended.AmendReason)
	assert.Empty(t, e.repo.PendingReview(""))

	after, err := e.repo.CameraLogFor(evt.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, ledger.Count[ledger.AttendanceEvent](e.store, nil))

	_, err = e.svc.AmendAttendance(ctx, "ATT404", ledger.StatusPresent, testfixtures.PrincipalID, "x")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = e.svc.AmendAttendance(ctx, evt.ID, ledger.StatusPresent, testfixtures.PendingTeacherID, "x")
	assert.ErrorIs(t, err, ledger.ErrStaffNotApproved)
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 3, nil)
	for _, id := range []string{"STU001", "STU002", "STU003"} {
		_, err := e.svc.RecordAttendance(ctx, capture(id, 0.9))
		require.NoError(t, err)
	}
	_, err := e.svc.MarkAttendance(ctx, "STU001", ledger.StatusAbsent, testfixtures.TeacherID, "2024-07-12")
	require.NoError(t, err)

	all := e.repo.ListEvents(attendance.Filter{})
	assert.Len(t, all, 4)

	page := e.repo.ListEvents(attendance.Filter{Date: "2024-07-15", Limit: 1, Offset: 1})
	require.Len(t, page, 1)
	assert.Equal(t, "STU002", page[0].StudentID)

	mine := e.repo.ListEvents(attendance.Filter{StudentID: "STU001"})
	assert.Len(t, mine, 2)
	absent := e.repo.ListEvents(attendance.Filter{Status: ledger.StatusAbsent})
	assert.Len(t, absent, 1)

	_, err = e.repo.CameraLogFor(absent[0].ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// The end-to-end scenarios below run registration, approval, recording and
// statistics against one store.

func TestScenario_RegistrationApprovalAttendance(t *testing.T) {
	ctx := context.Background()
	store := testfixtures.NewStore(t)
	clock := testfixtures.NewClock(time.Time{})
	approvals := approval.NewService(store, clock.Now, testfixtures.Logger())
	recorder := attendance.NewService(store, nil, 0, clock.Now, testfixtures.Logger())
	agg := stats.New(store)

	st, err := approvals.RegisterStudent(ctx, approval.StudentInput{
		Name:           "Ravi",
		GuardianName:   "Lakshmi",
		GuardianMobile: "9876543210",
		Class:          testfixtures.ClassName,
		SchoolID:       testfixtures.SchoolID,
		Photo:          "ravi/primary.jpg",
		FacePhotos:     []string{"ravi/1.jpg", "ravi/2.jpg", "ravi/3.jpg"},
	}, testfixtures.TeacherID)
	require.NoError(t, err)

	// pending students are invisible to rosters and totals
	assert.Empty(t, agg.RosterForClass(testfixtures.ClassName))
	assert.Equal(t, stats.Attendance{}, agg.AttendanceStats(clock.Now()))
	_, err = recorder.RecordAttendance(ctx, capture(st.ID, 0.9))
	assert.ErrorIs(t, err, ledger.ErrStudentNotApproved)

	_, err = approvals.Approve(ctx, ledger.KindStudent, st.ID, testfixtures.PrincipalID)
	require.NoError(t, err)
	_, err = recorder.RecordAttendance(ctx, capture(st.ID, 0.9))
	require.NoError(t, err)

	assert.Equal(t, stats.Attendance{TotalStudents: 1, PresentToday: 1, AbsentToday: 0, AttendanceRate: 100},
		agg.AttendanceStats(clock.Now()))
	roster := agg.RosterForClass(testfixtures.ClassName)
	require.Len(t, roster, 1)
	assert.Equal(t, st.ID, roster[0].ID)
}

func TestScenario_AbsenceByOmission(t *testing.T) {
	e := newEnv(t, 2, nil)
	_, err := e.svc.RecordAttendance(context.Background(), capture("STU001", 0.9))
	require.NoError(t, err)

	agg := stats.New(e.store)
	got := agg.AttendanceStats(e.clock.Now())
	assert.Equal(t, stats.Attendance{TotalStudents: 2, PresentToday: 1, AbsentToday: 1, AttendanceRate: 50}, got)
	// no mutation in between: identical results
	assert.Equal(t, got, agg.AttendanceStats(e.clock.Now()))

	// tomorrow nobody has been seen yet
	assert.Equal(t, stats.Attendance{TotalStudents: 2, AbsentToday: 2}, agg.AttendanceStats(e.clock.NextDay()))
}

func TestScenario_ZeroStudents(t *testing.T) {
	e := newEnv(t, 0, nil)
	got := stats.New(e.store).AttendanceStats(e.clock.Now())
	assert.Equal(t, 0, got.TotalStudents)
	assert.Equal(t, 0, got.AttendanceRate)
}
