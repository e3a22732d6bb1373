package ledger

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
)

// state is one committed version of every collection.
type state struct {
	students     *table[Student]
	staff        *table[Staff]
	attendance   *table[AttendanceEvent]
	cameraLogs   *table[CameraLog]
	materials    *table[AcademicMaterial]
	entitlements *table[Entitlement]
	seq          map[string]uint64
}

func emptyState() *state {
	return &state{
		students:     newTable(enrollmentKey, ErrDuplicateEnrollment),
		staff:        newTable[Staff](nil, nil),
		attendance:   newTable(attendanceDayKey, ErrDuplicateAttendance),
		cameraLogs:   newTable[CameraLog](nil, nil),
		materials:    newTable[AcademicMaterial](nil, nil),
		entitlements: newTable[Entitlement](nil, nil),
		seq:          make(map[string]uint64),
	}
}

func slot[T Entity](st *state) **table[T] {
	var p any
	var zero T
	switch any(zero).(type) {
	case Student:
		p = &st.students
	case Staff:
		p = &st.staff
	case AttendanceEvent:
		p = &st.attendance
	case CameraLog:
		p = &st.cameraLogs
	case AcademicMaterial:
		p = &st.materials
	case Entitlement:
		p = &st.entitlements
	}
	return p.(**table[T])
}

// Reader is anything queries can run against: the Store itself (latest
// committed state), a View, or an open Tx (its own uncommitted writes).
type Reader interface {
	current() *state
}

// View is a consistent read-only snapshot of the store.
type View struct {
	st *state
}

func (v View) current() *state { return v.st }

// Pin fixes r at its current state, so several queries agree with each other.
func Pin(r Reader) View { return View{st: r.current()} }

// IDGenerator issues an identifier for a record with the given type prefix.
type IDGenerator func(prefix string) string

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the prefix + sequence scheme, e.g. with uuids when
// identifiers must stay unique across store reloads.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger used for transaction failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store owns every entity collection. Writes are serialized through Update;
// reads never block and always observe a fully committed state.
type Store struct {
	mu     sync.Mutex
	cur    atomic.Pointer[state]
	newID  IDGenerator
	logger *slog.Logger
}

// New builds a store initialised from seed. Seed records keep their ids;
// records without one are assigned a fresh id.
func New(seed Snapshot, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.cur.Store(emptyState())

	err := s.Update(context.Background(), func(tx *Tx) error {
		return seed.load(tx)
	})
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	return s, nil
}

func (s *Store) current() *state { return s.cur.Load() }

// View returns the latest committed state.
func (s *Store) View() View { return View{st: s.cur.Load()} }

// Update runs fn as a single transaction. Either every write fn made is
// committed or, when fn returns an error, none are.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.cur.Load()
	next := *base
	tx := &Tx{store: s, next: &next, dirty: make(map[Kind]bool)}
	if err := fn(tx); err != nil {
		s.logger.Debug("ledger transaction rolled back", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	tx.done = true
	s.cur.Store(tx.next)
	return nil
}

// Tx is an open write transaction. It must not be used after the function
// passed to Store.Update returns.
type Tx struct {
	store    *Store
	next     *state
	dirty    map[Kind]bool
	seqDirty bool
	done     bool
}

func (tx *Tx) current() *state { return tx.next }

func writable[T Entity](tx *Tx) *table[T] {
	if tx.done {
		panic("ledger: transaction used after commit")
	}
	p := slot[T](tx.next)
	kind := KindOf[T]()
	if !tx.dirty[kind] {
		*p = (*p).clone()
		tx.dirty[kind] = true
	}
	return *p
}

func (tx *Tx) issueID(prefix string) string {
	if tx.store.newID != nil {
		return tx.store.newID(prefix)
	}
	tx.bumpSeq(prefix, tx.next.seq[prefix]+1)
	return formatID(prefix, tx.next.seq[prefix])
}

func (tx *Tx) bumpSeq(prefix string, n uint64) {
	if n <= tx.next.seq[prefix] {
		return
	}
	if !tx.seqDirty {
		tx.next.seq = maps.Clone(tx.next.seq)
		tx.seqDirty = true
	}
	tx.next.seq[prefix] = n
}

// Create inserts rec, assigning an id when it has none, and returns the
// stored value.
func Create[T Entity](tx *Tx, rec T) (T, error) {
	t := writable[T](tx)
	prefix := prefixOf(rec)
	id := idOf(rec)
	if id == "" {
		id = tx.issueID(prefix)
		rec = withID(rec, id)
	} else if n, ok := sequenceOf(prefix, id); ok {
		tx.bumpSeq(prefix, n)
	}
	rec = copyOf(rec)
	if err := t.insert(rec); err != nil {
		var zero T
		return zero, err
	}
	return copyOf(rec), nil
}

// Update replaces the record with the given id by the value patch returns.
// The id cannot be changed by patch.
func Update[T Entity](tx *Tx, id string, patch func(T) (T, error)) (T, error) {
	var zero T
	t := writable[T](tx)
	existing, ok := t.get(id)
	if !ok {
		return zero, fmt.Errorf("%s %s: %w", KindOf[T](), id, ErrNotFound)
	}
	updated, err := patch(copyOf(existing))
	if err != nil {
		return zero, err
	}
	updated = copyOf(withID(updated, id))
	if err := t.replace(updated); err != nil {
		return zero, err
	}
	return copyOf(updated), nil
}

// Get resolves a record by id.
func Get[T Entity](r Reader, id string) (T, bool) {
	rec, ok := (*slot[T](r.current())).get(id)
	if !ok {
		return rec, false
	}
	return copyOf(rec), true
}

// MustGet resolves a record by id or returns an ErrNotFound wrapped error.
func MustGet[T Entity](r Reader, id string) (T, error) {
	rec, ok := Get[T](r, id)
	if !ok {
		return rec, fmt.Errorf("%s %s: %w", KindOf[T](), id, ErrNotFound)
	}
	return rec, nil
}

// Query yields records matching pred in insertion order. The sequence is
// bound to the state at call time, so it is finite and can be ranged over
// again with identical results. A nil pred matches everything.
func Query[T Entity](r Reader, pred func(T) bool) iter.Seq[T] {
	rows := (*slot[T](r.current())).rows
	return func(yield func(T) bool) {
		for _, rec := range rows {
			if pred != nil && !pred(rec) {
				continue
			}
			if !yield(copyOf(rec)) {
				return
			}
		}
	}
}

// Count returns how many records match pred.
func Count[T Entity](r Reader, pred func(T) bool) int {
	n := 0
	for _, rec := range (*slot[T](r.current())).rows {
		if pred == nil || pred(rec) {
			n++
		}
	}
	return n
}

// AttendanceOn returns the event of a student on a date, if any.
func AttendanceOn(r Reader, studentID, date string) (AttendanceEvent, bool) {
	t := r.current().attendance
	id, ok := t.unique[attendanceDayKey(AttendanceEvent{StudentID: studentID, Date: date})]
	if !ok {
		return AttendanceEvent{}, false
	}
	return Get[AttendanceEvent](r, id)
}

// StudentByEnrollment resolves a student by the externally visible enrollment id.
func StudentByEnrollment(r Reader, enrollmentID string) (Student, bool) {
	id, ok := r.current().students.unique[enrollmentID]
	if !ok || enrollmentID == "" {
		return Student{}, false
	}
	return Get[Student](r, id)
}
