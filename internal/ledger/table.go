package ledger

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Entity is the set of record types held by the store.
type Entity interface {
	Student | Staff | AttendanceEvent | CameraLog | AcademicMaterial | Entitlement
}

// Kind names an entity collection.
type Kind string

const (
	KindStudent     Kind = "student"
	KindStaff       Kind = "staff"
	KindAttendance  Kind = "attendance"
	KindCameraLog   Kind = "camera_log"
	KindMaterial    Kind = "academic_material"
	KindEntitlement Kind = "entitlement"
)

// table is a copy-on-write collection. Committed tables are never modified;
// a transaction clones a table before its first write.
type table[T Entity] struct {
	rows  []T
	index map[string]int

	// unique is an optional secondary key, e.g. (student, date) for attendance.
	unique   map[string]string
	keyOf    func(T) string
	conflict error
}

func newTable[T Entity](keyOf func(T) string, conflict error) *table[T] {
	t := &table[T]{index: make(map[string]int), keyOf: keyOf, conflict: conflict}
	if keyOf != nil {
		t.unique = make(map[string]string)
	}
	return t
}

func (t *table[T]) clone() *table[T] {
	c := &table[T]{
		rows:     slices.Clone(t.rows),
		index:    maps.Clone(t.index),
		keyOf:    t.keyOf,
		conflict: t.conflict,
	}
	if t.unique != nil {
		c.unique = maps.Clone(t.unique)
	}
	return c
}

func (t *table[T]) get(id string) (T, bool) {
	i, ok := t.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return t.rows[i], true
}

func (t *table[T]) insert(rec T) error {
	id := idOf(rec)
	if _, ok := t.index[id]; ok {
		return fmt.Errorf("ledger: duplicate id %q", id)
	}
	if t.keyOf != nil {
		if key := t.keyOf(rec); key != "" {
			if _, taken := t.unique[key]; taken {
				return t.conflict
			}
			t.unique[key] = id
		}
	}
	t.index[id] = len(t.rows)
	t.rows = append(t.rows, rec)
	return nil
}

func (t *table[T]) replace(rec T) error {
	id := idOf(rec)
	i, ok := t.index[id]
	if !ok {
		return ErrNotFound
	}
	if t.keyOf != nil {
		oldKey, newKey := t.keyOf(t.rows[i]), t.keyOf(rec)
		if oldKey != newKey {
			if owner, taken := t.unique[newKey]; taken && newKey != "" && owner != id {
				return t.conflict
			}
			delete(t.unique, oldKey)
			if newKey != "" {
				t.unique[newKey] = id
			}
		}
	}
	t.rows[i] = rec
	return nil
}

// idOf, withID and prefixOf dispatch on the concrete entity type.

func idOf[T Entity](rec T) string {
	switch r := any(rec).(type) {
	case Student:
		return r.ID
	case Staff:
		return r.ID
	case AttendanceEvent:
		return r.ID
	case CameraLog:
		return r.ID
	case AcademicMaterial:
		return r.ID
	case Entitlement:
		return r.ID
	}
	return ""
}

func withID[T Entity](rec T, id string) T {
	var out any
	switch r := any(rec).(type) {
	case Student:
		r.ID = id
		out = r
	case Staff:
		r.ID = id
		out = r
	case AttendanceEvent:
		r.ID = id
		out = r
	case CameraLog:
		r.ID = id
		out = r
	case AcademicMaterial:
		r.ID = id
		out = r
	case Entitlement:
		r.ID = id
		out = r
	}
	return out.(T)
}

func prefixOf[T Entity](rec T) string {
	switch r := any(rec).(type) {
	case Student:
		return "STU"
	case Staff:
		if r.Role == RolePrincipal {
			return "PRN"
		}
		return "TEA"
	case AttendanceEvent:
		return "ATT"
	case CameraLog:
		return "CAM"
	case AcademicMaterial:
		return "MAT"
	case Entitlement:
		return "ENT"
	}
	return "ID"
}

// KindOf returns the collection kind for T.
func KindOf[T Entity]() Kind {
	var zero T
	switch any(zero).(type) {
	case Student:
		return KindStudent
	case Staff:
		return KindStaff
	case AttendanceEvent:
		return KindAttendance
	case CameraLog:
		return KindCameraLog
	case AcademicMaterial:
		return KindMaterial
	}
	return KindEntitlement
}

// copyOf returns rec with its slices and pointers detached from store memory.
func copyOf[T Entity](rec T) T {
	var out any
	switch r := any(rec).(type) {
	case Student:
		r.FacePhotos = slices.Clone(r.FacePhotos)
		r.Approval = r.Approval.clone()
		out = r
	case Staff:
		r.Subjects = slices.Clone(r.Subjects)
		r.Approval = r.Approval.clone()
		out = r
	case AttendanceEvent:
		r.Score = clonePtr(r.Score)
		r.AmendedAt = clonePtr(r.AmendedAt)
		out = r
	case AcademicMaterial:
		r.Marks = clonePtr(r.Marks)
		r.TotalMarks = clonePtr(r.TotalMarks)
		out = r
	default:
		out = r
	}
	return out.(T)
}

func (a Approval) clone() Approval {
	a.ApprovedAt = clonePtr(a.ApprovedAt)
	a.RejectedAt = clonePtr(a.RejectedAt)
	return a
}

func clonePtr[V any](p *V) *V {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// sequenceOf extracts the numeric suffix of a store-issued id such as STU004.
func sequenceOf(prefix, id string) (uint64, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func formatID(prefix string, n uint64) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

func attendanceDayKey(e AttendanceEvent) string {
	return e.StudentID + "|" + e.Date
}

func enrollmentKey(s Student) string {
	return s.EnrollmentID
}
