// Package memory is an in-process storage adapter. Rows are kept as codec
// snapshots. Every visited action is journaled, and failures can be injected
// per action kind or on commit, which makes the adapter the backend of
// choice for tests and scenario runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/backend"
	"github.com/zhanjx1314/oos/internal/codec"
	"github.com/zhanjx1314/oos/internal/object"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected backend failure")

// ErrNoTable is returned when a prototype's table was never created.
var ErrNoTable = errors.New("table does not exist")

type table map[uint64][]byte

// Backend is the in-memory adapter.
type Backend struct {
	open bool

	tables  map[string]table
	pending map[string]table // copy-on-first-visit view of tables
	journal []action.Action

	commits   int
	rollbacks int

	failOn     map[action.Kind]error
	failCommit error
}

var _ backend.Backend = (*Backend)(nil)

// New returns a closed adapter with no tables.
func New() *Backend {
	return &Backend{
		tables: make(map[string]table),
		failOn: make(map[action.Kind]error),
	}
}

// FailOn makes every visit of kind fail with err (ErrInjected when nil).
func (b *Backend) FailOn(kind action.Kind, err error) {
	if err == nil {
		err = ErrInjected
	}
	b.failOn[kind] = err
}

// FailCommit makes Commit fail with err (ErrInjected when nil).
func (b *Backend) FailCommit(err error) {
	if err == nil {
		err = ErrInjected
	}
	b.failCommit = err
}

// Heal removes every injected failure.
func (b *Backend) Heal() {
	clear(b.failOn)
	b.failCommit = nil
}

func (b *Backend) Open(context.Context) error {
	b.open = true
	return nil
}

func (b *Backend) Close() error {
	b.pending = nil
	b.open = false
	return nil
}

func (b *Backend) Visit(_ context.Context, a action.Action, obj object.Object) error {
	if !b.open {
		return backend.ErrClosed
	}
	if err := b.failOn[a.Kind]; err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	b.begin()
	b.journal = append(b.journal, a)

	switch a.Kind {
	case action.Create:
		if _, ok := b.pending[a.Type]; !ok {
			b.pending[a.Type] = make(table)
		}
	case action.Drop:
		delete(b.pending, a.Type)
	case action.Insert, action.Update:
		t, ok := b.pending[a.Type]
		if !ok {
			return fmt.Errorf("%s: %w: %q", a, ErrNoTable, a.Type)
		}
		data, err := codec.Serialize(obj)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		t[a.ID] = data
	case action.Delete:
		t, ok := b.pending[a.Type]
		if !ok {
			return fmt.Errorf("%s: %w: %q", a, ErrNoTable, a.Type)
		}
		delete(t, a.ID)
	default:
		return fmt.Errorf("visit: unknown action kind %s", a.Kind)
	}
	return nil
}

// begin copies the committed tables into the pending view.
func (b *Backend) begin() {
	if b.pending != nil {
		return
	}
	b.pending = make(map[string]table, len(b.tables))
	for name, t := range b.tables {
		b.pending[name] = maps.Clone(t)
	}
}

func (b *Backend) Commit(context.Context) error {
	if b.failCommit != nil {
		return b.failCommit
	}
	if b.pending == nil {
		return nil
	}
	b.tables = b.pending
	b.pending = nil
	b.commits++
	return nil
}

func (b *Backend) Rollback(context.Context) error {
	if b.pending == nil {
		return nil
	}
	b.pending = nil
	b.rollbacks++
	return nil
}

func (b *Backend) Load(_ context.Context, proto *object.Prototype, fn func(object.Object) error) error {
	if !b.open {
		return backend.ErrClosed
	}
	t, ok := b.tables[proto.Name()]
	if !ok {
		return fmt.Errorf("load %s: %w", proto.Name(), ErrNoTable)
	}
	for _, id := range slices.Sorted(maps.Keys(t)) {
		obj := proto.New()
		if err := codec.Deserialize(t[id], obj); err != nil {
			return fmt.Errorf("load %s:%d: %w", proto.Name(), id, err)
		}
		obj.SetID(id)
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

// Journal returns every visited action in visit order.
func (b *Backend) Journal() []action.Action {
	return slices.Clone(b.journal)
}

// ResetJournal forgets the visited actions.
func (b *Backend) ResetJournal() { b.journal = nil }

// Pending reports whether visited actions await Commit or Rollback.
func (b *Backend) Pending() bool { return b.pending != nil }

// Commits returns the number of commits that made work durable.
func (b *Backend) Commits() int { return b.commits }

// Rollbacks returns the number of rollbacks that discarded work.
func (b *Backend) Rollbacks() int { return b.rollbacks }

// HasTable reports whether the prototype's table exists in committed state.
func (b *Backend) HasTable(name string) bool {
	_, ok := b.tables[name]
	return ok
}

// IDs returns the committed ids of a table in ascending order.
func (b *Backend) IDs(name string) []uint64 {
	return slices.Sorted(maps.Keys(b.tables[name]))
}

// Row decodes the committed row id of a table into obj.
func (b *Backend) Row(name string, id uint64, obj object.Object) (bool, error) {
	data, ok := b.tables[name][id]
	if !ok {
		return false, nil
	}
	if err := codec.Deserialize(data, obj); err != nil {
		return true, err
	}
	obj.SetID(id)
	return true, nil
}
