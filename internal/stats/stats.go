// Package stats derives dashboard figures from the ledger. Every function is
// read-only and evaluates against one pinned state.
package stats

import (
	"fmt"
	"math"
	"time"

	"schoolattend/internal/ledger"
	"schoolattend/internal/validation"
)

// Attendance is the daily headline for a dashboard.
type Attendance struct {
	TotalStudents  int `json:"totalStudents"`
	PresentToday   int `json:"presentToday"`
	AbsentToday    int `json:"absentToday"`
	AttendanceRate int `json:"attendanceRate"`
}

// Scope narrows statistics to a school and optionally one class.
type Scope struct {
	SchoolID string `json:"schoolId,omitempty"`
	Class    string `json:"class,omitempty"`
}

func (sc Scope) contains(st ledger.Student) bool {
	return (sc.SchoolID == "" || st.SchoolID == sc.SchoolID) &&
		(sc.Class == "" || st.Class == sc.Class)
}

// DateRange is an inclusive range of YYYY-MM-DD dates. Empty bounds are open.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Validate checks both bounds and their order.
func (d DateRange) Validate() error {
	vErr := &ledger.ValidationError{}
	if d.From != "" {
		if err := validation.Date("from", d.From); err != nil {
			vErr.Add("from", "must be a date in YYYY-MM-DD format")
		}
	}
	if d.To != "" {
		if err := validation.Date("to", d.To); err != nil {
			vErr.Add("to", "must be a date in YYYY-MM-DD format")
		}
	}
	if !vErr.HasErrors() && d.From != "" && d.To != "" && d.From > d.To {
		vErr.Add("to", "must not be before from")
	}
	return vErr.OrNil()
}

// Contains reports whether date lies in the range.
func (d DateRange) Contains(date string) bool {
	return (d.From == "" || date >= d.From) && (d.To == "" || date <= d.To)
}

// Aggregator computes statistics from a ledger reader.
type Aggregator struct {
	r ledger.Reader
}

// New creates an aggregator. Pass the store for live figures or a view for a
// fixed point in time.
func New(r ledger.Reader) *Aggregator {
	return &Aggregator{r: r}
}

// AttendanceStats counts approved students and their presence on asOf's date.
func (a *Aggregator) AttendanceStats(asOf time.Time) Attendance {
	return a.ScopedStats(asOf, Scope{})
}

// ScopedStats is AttendanceStats limited to a school or class.
func (a *Aggregator) ScopedStats(asOf time.Time, scope Scope) Attendance {
	v := ledger.Pin(a.r)
	date := ledger.DateOf(asOf)

	enrolled := map[string]bool{}
	for st := range ledger.Query(v, func(st ledger.Student) bool { return st.Active() && scope.contains(st) }) {
		enrolled[st.ID] = true
	}
	present := ledger.Count(v, func(e ledger.AttendanceEvent) bool {
		return e.Date == date && e.Status == ledger.StatusPresent && enrolled[e.StudentID]
	})

	total := len(enrolled)
	return Attendance{
		TotalStudents:  total,
		PresentToday:   present,
		AbsentToday:    total - present,
		AttendanceRate: rate(present, total),
	}
}

// RosterForClass lists approved students of a class in registration order.
func (a *Aggregator) RosterForClass(class string) []ledger.Student {
	roster := []ledger.Student{}
	for st := range ledger.Query(a.r, func(st ledger.Student) bool { return st.Active() && st.Class == class }) {
		roster = append(roster, st)
	}
	return roster
}

// HistoryForStudent returns a student's events, optionally within a range.
func (a *Aggregator) HistoryForStudent(studentID string, within *DateRange) ([]ledger.AttendanceEvent, error) {
	if within != nil {
		if err := within.Validate(); err != nil {
			return nil, err
		}
	}
	v := ledger.Pin(a.r)
	if _, ok := ledger.Get[ledger.Student](v, studentID); !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, ledger.ErrUnknownStudent)
	}
	history := []ledger.AttendanceEvent{}
	for evt := range ledger.Query(v, func(e ledger.AttendanceEvent) bool {
		return e.StudentID == studentID && (within == nil || within.Contains(e.Date))
	}) {
		history = append(history, evt)
	}
	return history, nil
}

// Summary is a student's own attendance over a range.
type Summary struct {
	StudentID      string `json:"studentId"`
	PresentDays    int    `json:"presentDays"`
	RecordedDays   int    `json:"recordedDays"`
	AttendanceRate int    `json:"attendanceRate"`
}

// StudentSummary aggregates HistoryForStudent over within.
func (a *Aggregator) StudentSummary(studentID string, within DateRange) (Summary, error) {
	history, err := a.HistoryForStudent(studentID, &within)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{StudentID: studentID, RecordedDays: len(history)}
	for _, evt := range history {
		if evt.Status == ledger.StatusPresent {
			sum.PresentDays++
		}
	}
	sum.AttendanceRate = rate(sum.PresentDays, sum.RecordedDays)
	return sum, nil
}

// Staffing counts active and pending staff of a school.
type Staffing struct {
	Teachers          int `json:"teachers"`
	Principals        int `json:"principals"`
	PendingTeachers   int `json:"pendingTeachers"`
	PendingPrincipals int `json:"pendingPrincipals"`
	PendingStudents   int `json:"pendingStudents"`
}

// StaffOverview feeds the principal dashboard. An empty schoolID covers all schools.
func (a *Aggregator) StaffOverview(schoolID string) Staffing {
	v := ledger.Pin(a.r)
	var out Staffing
	for m := range ledger.Query(v, func(m ledger.Staff) bool { return schoolID == "" || m.SchoolID == schoolID }) {
		switch {
		case m.Active() && m.Role == ledger.RolePrincipal:
			out.Principals++
		case m.Active():
			out.Teachers++
		case m.Pending() && m.Role == ledger.RolePrincipal:
			out.PendingPrincipals++
		case m.Pending():
			out.PendingTeachers++
		}
	}
	out.PendingStudents = ledger.Count(v, func(st ledger.Student) bool {
		return st.Pending() && (schoolID == "" || st.SchoolID == schoolID)
	})
	return out
}

// Entitlements counts benefit records per type and status.
type Entitlements map[ledger.EntitlementType]map[ledger.EntitlementStatus]int

// EntitlementSummary covers the students of schoolID, or every student when empty.
func (a *Aggregator) EntitlementSummary(schoolID string) Entitlements {
	v := ledger.Pin(a.r)
	out := Entitlements{}
	for e := range ledger.Query[ledger.Entitlement](v, nil) {
		if schoolID != "" {
			st, ok := ledger.Get[ledger.Student](v, e.StudentID)
			if !ok || st.SchoolID != schoolID {
				continue
			}
		}
		if out[e.Type] == nil {
			out[e.Type] = map[ledger.EntitlementStatus]int{}
		}
		out[e.Type][e.Status]++
	}
	return out
}

func rate(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
