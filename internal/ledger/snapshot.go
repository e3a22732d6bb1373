package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

// ErrNoSnapshot is returned by a Persister that has nothing stored yet.
var ErrNoSnapshot = errors.New("ledger: no snapshot stored")

// Snapshot is the full persisted state, one collection per entity type.
// The pending approval queue is derived and therefore not part of it.
type Snapshot struct {
	Students          []Student          `json:"students"`
	Teachers          []Staff            `json:"teachers"`
	Principals        []Staff            `json:"principals"`
	Attendance        []AttendanceEvent  `json:"attendance"`
	AcademicMaterials []AcademicMaterial `json:"academicMaterials"`
	Entitlements      []Entitlement      `json:"entitlements"`
	CameraLogs        []CameraLog        `json:"cameraLogs"`
}

// Persister loads and saves full snapshots. Implementations live outside the
// core; the store itself never performs I/O.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Snapshot returns a detached copy of the latest committed state.
func (s *Store) Snapshot() Snapshot {
	st := s.cur.Load()
	snap := Snapshot{
		Students:          collect(st.students),
		Attendance:        collect(st.attendance),
		AcademicMaterials: collect(st.materials),
		Entitlements:      collect(st.entitlements),
		CameraLogs:        collect(st.cameraLogs),
		Teachers:          []Staff{},
		Principals:        []Staff{},
	}
	for _, member := range st.staff.rows {
		if member.Role == RolePrincipal {
			snap.Principals = append(snap.Principals, copyOf(member))
		} else {
			snap.Teachers = append(snap.Teachers, copyOf(member))
		}
	}
	return snap
}

func collect[T Entity](t *table[T]) []T {
	out := make([]T, 0, len(t.rows))
	for _, rec := range t.rows {
		out = append(out, copyOf(rec))
	}
	return out
}

func (snap Snapshot) load(tx *Tx) error {
	for _, st := range snap.Students {
		if _, err := Create(tx, st); err != nil {
			return fmt.Errorf("student %s: %w", st.ID, err)
		}
	}
	for _, member := range slices.Concat(withRole(snap.Teachers, RoleTeacher), withRole(snap.Principals, RolePrincipal)) {
		if _, err := Create(tx, member); err != nil {
			return fmt.Errorf("staff %s: %w", member.ID, err)
		}
	}
	for _, evt := range snap.Attendance {
		if _, err := Create(tx, evt); err != nil {
			return fmt.Errorf("attendance %s: %w", evt.ID, err)
		}
	}
	for _, log := range snap.CameraLogs {
		if _, err := Create(tx, log); err != nil {
			return fmt.Errorf("camera log %s: %w", log.ID, err)
		}
	}
	for _, m := range snap.AcademicMaterials {
		if _, err := Create(tx, m); err != nil {
			return fmt.Errorf("material %s: %w", m.ID, err)
		}
	}
	for _, e := range snap.Entitlements {
		if _, err := Create(tx, e); err != nil {
			return fmt.Errorf("entitlement %s: %w", e.ID, err)
		}
	}
	return nil
}

func withRole(staff []Staff, role Role) []Staff {
	out := make([]Staff, len(staff))
	for i, member := range staff {
		if member.Role == "" {
			member.Role = role
		}
		out[i] = member
	}
	return out
}

// DecodeSnapshot reads a JSON snapshot, e.g. a seed file.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
