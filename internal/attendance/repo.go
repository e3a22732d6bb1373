package attendance

import (
	"fmt"

	"schoolattend/internal/ledger"
)

// Filter narrows ListEvents. Empty fields match everything.
type Filter struct {
	StudentID string
	Date      string
	MarkedBy  string
	Status    ledger.AttendanceStatus
	Limit     int
	Offset    int
}

// Repository answers attendance lookups against a ledger reader.
type Repository struct {
	r ledger.Reader
}

// NewRepository creates a repo over a store or a pinned view.
func NewRepository(r ledger.Reader) *Repository {
	return &Repository{r: r}
}

// GetEvent returns a single event by id.
func (r *Repository) GetEvent(id string) (ledger.AttendanceEvent, error) {
	return ledger.MustGet[ledger.AttendanceEvent](r.r, id)
}

// CameraLogFor returns the audit record of a capture-path event. Manual
// events have none.
func (r *Repository) CameraLogFor(eventID string) (ledger.CameraLog, error) {
	for log := range ledger.Query(r.r, func(l ledger.CameraLog) bool { return l.AttendanceID == eventID }) {
		return log, nil
	}
	return ledger.CameraLog{}, fmt.Errorf("camera log for %s: %w", eventID, ledger.ErrNotFound)
}

// ListEvents returns events in recording order with basic filters.
func (r *Repository) ListEvents(f Filter) []ledger.AttendanceEvent {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	res := []ledger.AttendanceEvent{}
	skipped := 0
	for evt := range ledger.Query(r.r, f.match) {
		if skipped < f.Offset {
			skipped++
			continue
		}
		res = append(res, evt)
		if len(res) == f.Limit {
			break
		}
	}
	return res
}

func (f Filter) match(evt ledger.AttendanceEvent) bool {
	return (f.StudentID == "" || evt.StudentID == f.StudentID) &&
		(f.Date == "" || evt.Date == f.Date) &&
		(f.MarkedBy == "" || evt.MarkedBy == f.MarkedBy) &&
		(f.Status == "" || evt.Status == f.Status)
}

// PendingReview yields capture events that scored below threshold and have
// not been amended yet.
func (r *Repository) PendingReview(date string) []ledger.AttendanceEvent {
	var res []ledger.AttendanceEvent
	for evt := range ledger.Query(r.r, func(e ledger.AttendanceEvent) bool {
		return e.Verification == ledger.VerificationReview && e.AmendedAt == nil && (date == "" || e.Date == date)
	}) {
		res = append(res, evt)
	}
	return res
}
