package tx

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/codec"
	"github.com/zhanjx1314/oos/internal/object"
)

// Transaction states.
const (
	StateCreated    = "created"
	StateActive     = "active"
	StateCommitted  = "committed"
	StateRolledBack = "rolled_back"

	// StateFailed is entered when the backend fails during commit. The log
	// is kept; the only way out is Rollback.
	StateFailed = "failed"
)

const (
	eventBegin    = "begin"
	eventCommit   = "commit"
	eventFail     = "fail"
	eventRollback = "rollback"
)

// Transaction records the mutations made to a session's store between Begin
// and Commit or Rollback.
//
// The first mutation of an object within the transaction logs one action and,
// for updates and deletes, a snapshot of the object taken before the
// mutation. Later mutations of the same object ride on that action, so the
// snapshot always holds the state the object had when the transaction first
// touched it. An insert followed by a delete cancels out.
type Transaction struct {
	id      int64
	session *Session
	log     *action.Log
	machine *fsm.FSM
}

// New creates a transaction on s. It receives mutations once begun.
func New(s *Session) *Transaction {
	t := &Transaction{
		session: s,
		log:     action.NewLog(),
	}
	t.machine = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventBegin, Src: []string{StateCreated}, Dst: StateActive},
			{Name: eventCommit, Src: []string{StateActive}, Dst: StateCommitted},
			{Name: eventFail, Src: []string{StateActive}, Dst: StateFailed},
			{Name: eventRollback, Src: []string{StateActive, StateFailed}, Dst: StateRolledBack},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("transaction state", "tx", t.id, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return t
}

// ID returns the id assigned by Begin, zero before.
func (t *Transaction) ID() int64 { return t.id }

// State returns the current state.
func (t *Transaction) State() string { return t.machine.Current() }

// Session returns the owning session.
func (t *Transaction) Session() *Session { return t.session }

// Actions returns the logged actions in log order.
func (t *Transaction) Actions() []action.Action { return t.log.Actions() }

// Len returns the number of logged actions.
func (t *Transaction) Len() int { return t.log.Len() }

// Backups returns the number of snapshots held.
func (t *Transaction) Backups() int { return t.log.Backup().Len() }

// Begin assigns a fresh id and makes t the session's current transaction.
// A transaction begins at most once.
func (t *Transaction) Begin(ctx context.Context) error {
	if t.State() != StateCreated {
		return newOrderingError(t.id, "begin: transaction is %s", t.State())
	}
	t.id = t.session.counter.Next()
	if err := t.machine.Event(ctx, eventBegin); err != nil {
		return newOrderingError(t.id, "begin: %v", err)
	}
	t.session.push(t)
	t.session.logger.Debug("transaction begun", "tx", t.id, "depth", t.session.Depth())
	return nil
}

// Commit hands every logged action to the backend in log order and makes
// the work durable. On success the log and backups are discarded and t is
// popped off the session stack.
//
// A backend failure keeps the log and moves t to StateFailed; the caller
// must then Rollback.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.session.requireCurrent(t, "commit"); err != nil {
		return err
	}
	if t.State() != StateActive {
		return newOrderingError(t.id, "commit: transaction is %s", t.State())
	}

	be := t.session.backend
	for _, a := range t.log.Actions() {
		var obj object.Object
		if a.Kind == action.Insert || a.Kind == action.Update {
			live, ok := t.session.store.Lookup(a.ID)
			if !ok {
				return t.fail(ctx, newBackendError(t.id, a.ID, fmt.Sprintf("visit %s", a), object.ErrNotFound))
			}
			obj = live
		}
		if err := be.Visit(ctx, a, obj); err != nil {
			return t.fail(ctx, newBackendError(t.id, a.ID, fmt.Sprintf("visit %s", a), err))
		}
		t.session.metrics.visited(a.Kind)
	}
	if err := be.Commit(ctx); err != nil {
		return t.fail(ctx, newBackendError(t.id, 0, "commit", err))
	}

	n := t.log.Len()
	t.finish(ctx, eventCommit)
	t.session.metrics.outcome(OutcomeCommitted)
	t.session.logger.Debug("transaction committed", "tx", t.id, "actions", n)
	return nil
}

func (t *Transaction) fail(ctx context.Context, err *Error) error {
	_ = t.machine.Event(ctx, eventFail)
	t.session.metrics.outcome(OutcomeFailed)
	t.session.logger.Warn("commit failed", "tx", t.id, "error", err)
	return err
}

// Rollback undoes every logged mutation in the session's store, in log
// order: inserted objects are removed, updated objects get their snapshot
// back and deleted objects are rebuilt from theirs. The backend then
// discards its pending work.
//
// Restoration always runs to the end; snapshot and backend errors are
// collected and returned together after t has been popped.
func (t *Transaction) Rollback(ctx context.Context) error {
	if err := t.session.requireCurrent(t, "rollback"); err != nil {
		return err
	}
	if st := t.State(); st != StateActive && st != StateFailed {
		return newOrderingError(t.id, "rollback: transaction is %s", st)
	}

	var errs []error
	n := t.log.Len()
	for {
		a, ok := t.log.PopFront()
		if !ok {
			break
		}
		if err := t.restore(a); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.session.backend.Rollback(ctx); err != nil {
		errs = append(errs, newBackendError(t.id, 0, "rollback", err))
	}

	t.finish(ctx, eventRollback)
	t.session.metrics.outcome(OutcomeRolledBack)
	t.session.logger.Debug("transaction rolled back", "tx", t.id, "actions", n, "errors", len(errs))
	return errors.Join(errs...)
}

func (t *Transaction) restore(a action.Action) error {
	store := t.session.store
	switch a.Kind {
	case action.Insert:
		if err := store.Detach(a.ID); err != nil && !errors.Is(err, object.ErrNotFound) {
			return err
		}
	case action.Update:
		data, ok := t.log.Backup().Get(a.ID)
		if !ok {
			return newSerializationError(t.id, a.ID, "no snapshot for update", nil)
		}
		err := store.Overwrite(a.ID, func(obj object.Object) error {
			return codec.Deserialize(data, obj)
		})
		if err != nil {
			return newSerializationError(t.id, a.ID, "restore update", err)
		}
	case action.Delete:
		data, ok := t.log.Backup().Get(a.ID)
		if !ok {
			return newSerializationError(t.id, a.ID, "no snapshot for delete", nil)
		}
		if _, err := codec.Resurrect(store, a.Type, a.ID, a.Rank, data); err != nil {
			return newSerializationError(t.id, a.ID, "restore delete", err)
		}
	case action.Create, action.Drop:
		// schema actions have no in-memory state
	}
	return nil
}

func (t *Transaction) finish(ctx context.Context, event string) {
	t.log.Clear()
	t.session.pop(t)
	if err := t.machine.Event(ctx, event); err != nil {
		t.session.logger.Error("transaction state", "tx", t.id, "event", event, "error", err)
	}
}

func (t *Transaction) accepting(hook string, id uint64) error {
	if t.State() != StateActive {
		return &Error{
			Code:     ErrCodeOrderingViolation,
			Message:  fmt.Sprintf("%s: transaction is %s", hook, t.State()),
			TxID:     t.id,
			ObjectID: id,
		}
	}
	return nil
}

// OnInsert logs the insertion of p's object. An id that is already logged
// is an identity conflict and leaves the log unchanged.
func (t *Transaction) OnInsert(p *object.Proxy) error {
	id := p.ID()
	if err := t.accepting("insert", id); err != nil {
		return err
	}
	if _, ok := t.log.Lookup(id); ok {
		return newIdentityError(t.id, id)
	}
	if err := t.log.Append(action.Action{Kind: action.Insert, ID: id, Type: typeName(p), Rank: p.Rank()}); err != nil {
		return newIdentityError(t.id, id)
	}
	return nil
}

// OnUpdate snapshots p's object before its first mutation in t.
func (t *Transaction) OnUpdate(p *object.Proxy) error {
	id := p.ID()
	if err := t.accepting("update", id); err != nil {
		return err
	}
	if _, ok := t.log.Lookup(id); ok {
		return nil
	}
	return t.backup(action.Update, p)
}

// OnDelete snapshots p's object unless t already covers it. A delete of an
// object inserted in t cancels the insert; a delete of an object updated in
// t turns the update into a delete and keeps its snapshot.
func (t *Transaction) OnDelete(p *object.Proxy) error {
	id := p.ID()
	if err := t.accepting("delete", id); err != nil {
		return err
	}
	prev, ok := t.log.Lookup(id)
	if !ok {
		return t.backup(action.Delete, p)
	}
	switch prev.Kind {
	case action.Insert:
		t.log.Remove(id)
	case action.Update:
		t.log.Replace(id, action.Delete)
	}
	return nil
}

func (t *Transaction) backup(kind action.Kind, p *object.Proxy) error {
	id := p.ID()
	data, err := codec.Serialize(p.Object())
	if err != nil {
		return newSerializationError(t.id, id, "snapshot", err)
	}
	t.log.Backup().Put(id, data)
	if err := t.log.Append(action.Action{Kind: kind, ID: id, Type: typeName(p), Rank: p.Rank()}); err != nil {
		t.log.Backup().Drop(id)
		return newIdentityError(t.id, id)
	}
	t.session.metrics.snapshot(len(data))
	return nil
}

func typeName(p *object.Proxy) string {
	if node := p.Prototype(); node != nil {
		return node.Name()
	}
	return ""
}
