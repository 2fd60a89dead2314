package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/backend/memory"
	"github.com/zhanjx1314/oos/internal/compiler"
	"github.com/zhanjx1314/oos/internal/object"
	"github.com/zhanjx1314/oos/internal/schema"
	"github.com/zhanjx1314/oos/internal/trace"
	"github.com/zhanjx1314/oos/internal/tx"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every assertion held.
	Pass   bool
	Errors []string

	Trace *trace.Trace
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Option configures a run.
type Option func(*Harness)

// WithLogger passes a logger to the session. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Harness holds the state of one scenario run.
type Harness struct {
	schema  *schema.Schema
	store   *object.Store
	backend *memory.Backend
	session *tx.Session
	logger  *slog.Logger

	txs   map[string]*tx.Transaction
	names map[*tx.Transaction]string
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Compile the schema and register its prototypes in a fresh store
//  2. Open a session on an in-memory backend and create every table
//  3. Insert and commit the seed objects
//  4. Execute the steps, checking expected errors
//  5. Evaluate the assertions
//
// An error is returned only when the scenario cannot be run at all, for
// example when it names an unknown transaction or prototype.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	s, err := compiler.Load(sc.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	h := &Harness{
		schema:  s,
		store:   object.NewStore(),
		backend: memory.New(),
		txs:     make(map[string]*tx.Transaction),
		names:   make(map[*tx.Transaction]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := s.Register(h.store); err != nil {
		return nil, fmt.Errorf("failed to register prototypes: %w", err)
	}

	var sessionOpts []tx.Option
	if h.logger != nil {
		sessionOpts = append(sessionOpts, tx.WithLogger(h.logger))
	}
	h.session = tx.NewSession(h.store, h.backend, sessionOpts...)
	if err := h.session.Open(ctx); err != nil {
		return nil, err
	}
	defer h.session.Close()
	if err := h.session.Create(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := h.seed(ctx, sc.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}
	h.backend.ResetJournal()

	result := &Result{Pass: true, Trace: &trace.Trace{Scenario: sc.Name}}
	for i, step := range sc.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(h, sc.Assertions) {
		result.addError("%s", msg)
	}
	result.Trace.Final = h.snapshot()

	// unwind whatever the scenario left open so Close succeeds
	for cur := h.session.Current(); cur != nil; cur = h.session.Current() {
		_ = cur.Rollback(ctx)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, seed []Mutation) error {
	if len(seed) == 0 {
		return nil
	}
	txn, err := h.session.Begin(ctx)
	if err != nil {
		return err
	}
	for _, m := range seed {
		if _, err := h.insert(m); err != nil {
			_ = txn.Rollback(ctx)
			return err
		}
	}
	return txn.Commit(ctx)
}

func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	op, err := step.Op()
	if err != nil {
		return err
	}

	ev := trace.Event{Op: op}
	var stepErr error
	switch op {
	case OpBegin:
		txn, ok := h.txs[step.Begin]
		if ok {
			stepErr = txn.Begin(ctx)
		} else {
			txn = tx.New(h.session)
			h.txs[step.Begin] = txn
			h.names[txn] = step.Begin
			stepErr = txn.Begin(ctx)
		}
		ev.Tx, ev.TxID, ev.State = step.Begin, txn.ID(), txn.State()

	case OpCommit, OpRollback:
		name := step.Commit
		if op == OpRollback {
			name = step.Rollback
		}
		txn, ok := h.txs[name]
		if !ok {
			return fmt.Errorf("%s: unknown transaction %q", op, name)
		}
		if op == OpCommit {
			stepErr = txn.Commit(ctx)
		} else {
			stepErr = txn.Rollback(ctx)
		}
		ev.Tx, ev.TxID, ev.State = name, txn.ID(), txn.State()

	case OpInsert:
		ev.Tx = h.currentName()
		ev.Type, ev.Fields = step.Insert.Type, step.Insert.Fields
		var id uint64
		id, stepErr = h.insert(*step.Insert)
		if errors.Is(stepErr, errScenario) {
			return stepErr
		}
		ev.ID = id

	case OpUpdate:
		ev.Tx = h.currentName()
		ev.ID, ev.Fields = step.Update.ID, step.Update.Fields
		ev.Type = h.typeOf(step.Update.ID, step.Update.Type)
		stepErr = h.store.Modify(step.Update.ID, func(obj object.Object) error {
			return setFields(obj, step.Update.Fields)
		})

	case OpDelete:
		ev.Tx = h.currentName()
		ev.ID = step.Delete.ID
		ev.Type = h.typeOf(step.Delete.ID, step.Delete.Type)
		stepErr = h.store.Remove(step.Delete.ID)

	case OpFail:
		ev.Type = step.Fail
		if step.Fail == OpCommit {
			h.backend.FailCommit(nil)
		} else {
			kind, err := action.ParseKind(step.Fail)
			if err != nil {
				return err
			}
			h.backend.FailOn(kind, nil)
		}

	case OpHeal:
		h.backend.Heal()
	}

	if stepErr != nil {
		ev.Error = ErrorCode(stepErr)
	}
	result.Trace.Record(ev)

	switch {
	case step.ExpectError == "" && stepErr != nil:
		result.addError("step %d (%s): unexpected error: %v", i, op, stepErr)
	case step.ExpectError != "" && stepErr == nil:
		result.addError("step %d (%s): expected error %s, got success", i, op, step.ExpectError)
	case step.ExpectError != "" && ev.Error != step.ExpectError:
		result.addError("step %d (%s): expected error %s, got %s: %v", i, op, step.ExpectError, ev.Error, stepErr)
	}
	return nil
}

var errScenario = errors.New("malformed scenario")

func (h *Harness) insert(m Mutation) (uint64, error) {
	proto, ok := h.schema.Lookup(m.Type)
	if !ok {
		return 0, fmt.Errorf("%w: unknown prototype %q", errScenario, m.Type)
	}
	rec := schema.NewRecord(proto)
	rec.SetID(m.ID)
	if err := setFields(rec, m.Fields); err != nil {
		return 0, err
	}
	p, err := h.store.Insert(rec)
	if err != nil {
		return m.ID, err
	}
	return p.ID(), nil
}

func setFields(obj object.Object, fields map[string]any) error {
	rec, ok := obj.(*schema.Record)
	if !ok {
		return fmt.Errorf("%w: %T is not a schema record", errScenario, obj)
	}
	for _, name := range sortedKeys(fields) {
		if err := rec.Set(name, fields[name]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) currentName() string {
	if cur := h.session.Current(); cur != nil {
		return h.names[cur]
	}
	return ""
}

// typeOf names the prototype of a live object, falling back to the type the
// scenario gave.
func (h *Harness) typeOf(id uint64, fallback string) string {
	if p, ok := h.store.Proxy(id); ok && p.Prototype() != nil {
		return p.Prototype().Name()
	}
	return fallback
}

// snapshot returns every live object by prototype, in sequence order.
func (h *Harness) snapshot() map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, proto := range h.schema.Prototypes {
		rows := []map[string]any{}
		for _, obj := range h.store.Objects(proto.Name) {
			rows = append(rows, plain(obj))
		}
		out[proto.Name] = rows
	}
	return out
}

func plain(obj object.Object) map[string]any {
	m := map[string]any{}
	if rec, ok := obj.(*schema.Record); ok {
		m = rec.Plain()
	}
	m["id"] = obj.ID()
	return m
}

// ErrorCode names an error for traces and expectations: the transaction
// error code when there is one, otherwise a code for the store or schema
// error, otherwise "ERROR".
func ErrorCode(err error) string {
	if code, ok := tx.Code(err); ok {
		return string(code)
	}
	switch {
	case errors.Is(err, object.ErrDuplicateID):
		return "DUPLICATE_ID"
	case errors.Is(err, object.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, object.ErrReferenced):
		return "REFERENCED"
	case errors.Is(err, schema.ErrUnknownField):
		return "UNKNOWN_FIELD"
	case errors.Is(err, schema.ErrFieldType):
		return "FIELD_TYPE"
	}
	return "ERROR"
}
