package tx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/backend"
	"github.com/zhanjx1314/oos/internal/object"
)

// Session binds an object store to a backend and holds the stack of active
// transactions. The innermost transaction is the current one; it alone
// receives mutations and may commit or roll back.
//
// A session is driven by one goroutine at a time.
type Session struct {
	id      string
	store   *object.Store
	backend backend.Backend
	counter *Counter
	stack   []*Transaction

	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Session.
type Option func(*Session)

// WithCounter injects the transaction id counter shared by the process.
func WithCounter(c *Counter) Option {
	return func(s *Session) { s.counter = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records transaction metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession creates a session over store and be and installs itself as the
// store's observer.
func NewSession(store *object.Store, be backend.Backend, opts ...Option) *Session {
	s := &Session{
		id:      newSessionID(),
		store:   store,
		backend: be,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = NewCounter()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("session", s.id)
	store.SetObserver(s)
	return s
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Store returns the object store.
func (s *Session) Store() *object.Store { return s.store }

// Backend returns the storage adapter.
func (s *Session) Backend() backend.Backend { return s.backend }

// Current returns the innermost active transaction, or nil.
func (s *Session) Current() *Transaction {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// Depth returns the number of active transactions.
func (s *Session) Depth() int { return len(s.stack) }

// Begin creates a transaction and begins it.
func (s *Session) Begin(ctx context.Context) (*Transaction, error) {
	t := New(s)
	if err := t.Begin(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Session) push(t *Transaction) {
	s.stack = append(s.stack, t)
}

func (s *Session) pop(t *Transaction) {
	if s.Current() == t {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

func (s *Session) requireCurrent(t *Transaction, op string) error {
	if s.Current() != t {
		return newOrderingError(t.id, "%s: transaction isn't the current transaction", op)
	}
	return nil
}

func (s *Session) requireIdle(op string) error {
	if cur := s.Current(); cur != nil {
		return newOrderingError(cur.id, "%s: %d transaction(s) still active", op, s.Depth())
	}
	return nil
}

// OnInsert forwards to the current transaction.
func (s *Session) OnInsert(p *object.Proxy) error {
	if cur := s.Current(); cur != nil {
		return cur.OnInsert(p)
	}
	return nil
}

// OnUpdate forwards to the current transaction.
func (s *Session) OnUpdate(p *object.Proxy) error {
	if cur := s.Current(); cur != nil {
		return cur.OnUpdate(p)
	}
	return nil
}

// OnDelete forwards to the current transaction.
func (s *Session) OnDelete(p *object.Proxy) error {
	if cur := s.Current(); cur != nil {
		return cur.OnDelete(p)
	}
	return nil
}

// Open opens the backend.
func (s *Session) Open(ctx context.Context) error {
	if err := s.backend.Open(ctx); err != nil {
		return newBackendError(0, 0, "open", err)
	}
	s.logger.Debug("session opened")
	return nil
}

// Close closes the backend. Every transaction must have ended.
func (s *Session) Close() error {
	if err := s.requireIdle("close"); err != nil {
		return err
	}
	if err := s.backend.Close(); err != nil {
		return newBackendError(0, 0, "close", err)
	}
	s.logger.Debug("session closed")
	return nil
}

// Create creates the storage of every registered prototype, in
// registration order.
func (s *Session) Create(ctx context.Context) error {
	return s.schema(ctx, action.Create, s.store.Prototypes())
}

// Drop removes the storage of every registered prototype, in reverse
// registration order.
func (s *Session) Drop(ctx context.Context) error {
	protos := s.store.Prototypes()
	for i, j := 0, len(protos)-1; i < j; i, j = i+1, j-1 {
		protos[i], protos[j] = protos[j], protos[i]
	}
	return s.schema(ctx, action.Drop, protos)
}

func (s *Session) schema(ctx context.Context, kind action.Kind, protos []*object.Prototype) error {
	if err := s.requireIdle(kind.String()); err != nil {
		return err
	}
	for _, p := range protos {
		a := action.Action{Kind: kind, Type: p.Name()}
		if err := s.backend.Visit(ctx, a, p.New()); err != nil {
			_ = s.backend.Rollback(ctx)
			return newBackendError(0, 0, fmt.Sprintf("visit %s", a), err)
		}
		s.metrics.visited(kind)
	}
	if err := s.backend.Commit(ctx); err != nil {
		_ = s.backend.Rollback(ctx)
		return newBackendError(0, 0, kind.String(), err)
	}
	s.logger.Debug("schema applied", "action", kind.String(), "prototypes", len(protos))
	return nil
}

// Load reads every stored object of every registered prototype into the
// store. Loading is not logged. Objects are appended in the order the
// backend yields them (ascending id); references between loaded objects are
// counted whichever side arrives first.
func (s *Session) Load(ctx context.Context) error {
	if err := s.requireIdle("load"); err != nil {
		return err
	}
	n := 0
	for _, p := range s.store.Prototypes() {
		err := s.backend.Load(ctx, p, func(obj object.Object) error {
			if _, err := s.store.Reattach(p.Name(), obj); err != nil {
				return err
			}
			n++
			return nil
		})
		if err != nil {
			return newBackendError(0, 0, fmt.Sprintf("load %s", p.Name()), err)
		}
	}
	s.logger.Debug("store loaded", "objects", n)
	return nil
}
