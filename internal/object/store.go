package object

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrUnknownPrototype is returned for objects whose type was never registered.
	ErrUnknownPrototype = errors.New("unknown prototype")

	// ErrDuplicatePrototype is returned when a name or Go type is registered twice.
	ErrDuplicatePrototype = errors.New("prototype already registered")

	// ErrDuplicateID is returned when an id is already present in the table.
	ErrDuplicateID = errors.New("duplicate object id")

	// ErrNotFound is returned for ids that are not in the table.
	ErrNotFound = errors.New("object not found")

	// ErrReferenced is returned by Remove while other objects hold a strong ref.
	ErrReferenced = errors.New("object is still referenced")

	// ErrNilObject is returned for nil objects.
	ErrNilObject = errors.New("nil object")
)

// Observer is notified at the point of every graph mutation.
// A non-nil error aborts the mutation.
type Observer interface {
	OnInsert(p *Proxy) error
	OnUpdate(p *Proxy) error
	OnDelete(p *Proxy) error
}

// Factory creates an empty object of one prototype.
type Factory func() Object

// Prototype is the registry node of one object type. It heads the
// doubly-linked sequence of all live proxies of that type.
type Prototype struct {
	name    string
	factory Factory

	head uint64
	tail uint64
	size int

	// last rank handed out; ranks ascend along the sequence
	rank uint64
}

// Name returns the registered name.
func (n *Prototype) Name() string { return n.name }

// New creates an empty object of this prototype.
func (n *Prototype) New() Object { return n.factory() }

// Len returns the number of live objects of this prototype.
func (n *Prototype) Len() int { return n.size }

func (n *Prototype) append(p *Proxy) {
	n.rank++
	p.rank = n.rank
	p.node = n
	p.prev = n.tail
	p.next = 0
	if last := p.neighbour(n.tail); last != nil {
		last.next = p.ID()
	} else {
		n.head = p.ID()
	}
	n.tail = p.ID()
	n.size++
}

// Store is the arena of proxies addressed by object id.
type Store struct {
	prototypes map[string]*Prototype
	order      []*Prototype
	byType     map[reflect.Type]*Prototype

	table  map[uint64]*Proxy
	lastID uint64
	gen    uint64

	observer Observer
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		prototypes: make(map[string]*Prototype),
		byType:     make(map[reflect.Type]*Prototype),
		table:      make(map[uint64]*Proxy),
	}
}

// SetObserver installs the mutation observer (nil removes it).
func (s *Store) SetObserver(o Observer) {
	s.observer = o
}

// Register adds a prototype. Objects implementing Typed are matched by
// name; all others by their Go type, which must be unique per prototype.
func (s *Store) Register(name string, factory Factory) (*Prototype, error) {
	if _, ok := s.prototypes[name]; ok {
		return nil, fmt.Errorf("register %q: %w", name, ErrDuplicatePrototype)
	}
	sample := factory()
	if sample == nil {
		return nil, fmt.Errorf("register %q: %w", name, ErrNilObject)
	}
	node := &Prototype{name: name, factory: factory}
	if _, typed := sample.(Typed); !typed {
		t := reflect.TypeOf(sample)
		if other, ok := s.byType[t]; ok {
			return nil, fmt.Errorf("register %q: %w: %s is registered as %q", name, ErrDuplicatePrototype, t, other.name)
		}
		s.byType[t] = node
	}
	s.prototypes[name] = node
	s.order = append(s.order, node)
	return node, nil
}

// Prototype returns the prototype registered under name.
func (s *Store) Prototype(name string) (*Prototype, bool) {
	n, ok := s.prototypes[name]
	return n, ok
}

// Prototypes returns all prototypes in registration order.
func (s *Store) Prototypes() []*Prototype {
	out := make([]*Prototype, len(s.order))
	copy(out, s.order)
	return out
}

// PrototypeOf returns the prototype an object belongs to.
func (s *Store) PrototypeOf(obj Object) (*Prototype, error) {
	if t, ok := obj.(Typed); ok {
		if n, ok := s.prototypes[t.PrototypeName()]; ok {
			return n, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrototype, t.PrototypeName())
	}
	if n, ok := s.byType[reflect.TypeOf(obj)]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownPrototype, obj)
}

// Insert adds obj to the store and takes ownership of it.
// An id of zero is replaced by a freshly allocated one; a preset id must be unused.
// If the observer rejects the insertion it is undone.
func (s *Store) Insert(obj Object) (*Proxy, error) {
	if obj == nil {
		return nil, ErrNilObject
	}
	node, err := s.PrototypeOf(obj)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	id := obj.ID()
	switch {
	case id == 0:
		s.lastID++
		obj.SetID(s.lastID)
	case s.table[id] != nil:
		return nil, fmt.Errorf("insert %s: %w: %d", node.name, ErrDuplicateID, id)
	case id > s.lastID:
		s.lastID = id
	}

	p := s.newProxy(obj)
	s.table[p.ID()] = p
	node.append(p)
	s.linkRefs(p)

	if s.observer != nil {
		if err := s.observer.OnInsert(p); err != nil {
			s.destroy(p)
			return nil, err
		}
	}
	return p, nil
}

// Modify runs fn on the object with the given id. The observer is notified
// before fn runs so that it can capture the pre-mutation state.
func (s *Store) Modify(id uint64, fn func(Object) error) error {
	p := s.table[id]
	if p == nil {
		return fmt.Errorf("modify %d: %w", id, ErrNotFound)
	}
	if s.observer != nil {
		if err := s.observer.OnUpdate(p); err != nil {
			return err
		}
	}
	err := fn(p.obj)
	s.relinkRefs(p)
	return err
}

// IsRemovable reports whether the object exists and no other object holds
// a strong reference to it.
func (s *Store) IsRemovable(id uint64) bool {
	p := s.table[id]
	return p != nil && p.refCount == 0
}

// Remove destroys the object with the given id. The observer is notified
// before the proxy is destroyed.
func (s *Store) Remove(id uint64) error {
	p := s.table[id]
	if p == nil {
		return fmt.Errorf("remove %d: %w", id, ErrNotFound)
	}
	if p.refCount > 0 {
		return fmt.Errorf("remove %d: %w (%d refs)", id, ErrReferenced, p.refCount)
	}
	if s.observer != nil {
		if err := s.observer.OnDelete(p); err != nil {
			return err
		}
	}
	s.destroy(p)
	return nil
}

// Detach destroys the object without notifying the observer and without
// checking references. Used to undo an insertion.
func (s *Store) Detach(id uint64) error {
	p := s.table[id]
	if p == nil {
		return fmt.Errorf("detach %d: %w", id, ErrNotFound)
	}
	s.destroy(p)
	return nil
}

// Overwrite runs fn on the object without notifying the observer.
// Used to put back a captured pre-image.
func (s *Store) Overwrite(id uint64, fn func(Object) error) error {
	p := s.table[id]
	if p == nil {
		return fmt.Errorf("overwrite %d: %w", id, ErrNotFound)
	}
	err := fn(p.obj)
	s.relinkRefs(p)
	return err
}

// Reattach puts obj back under its own id without notifying the observer
// and appends it to the end of its prototype's sequence.
func (s *Store) Reattach(name string, obj Object) (*Proxy, error) {
	return s.ReattachAt(name, obj, 0)
}

// ReattachAt is Reattach for an object that held the given rank before it
// was removed: the proxy is linked back at that position in the sequence.
// A rank of zero appends.
func (s *Store) ReattachAt(name string, obj Object, rank uint64) (*Proxy, error) {
	node, ok := s.prototypes[name]
	if !ok {
		return nil, fmt.Errorf("reattach: %w: %q", ErrUnknownPrototype, name)
	}
	id := obj.ID()
	if id == 0 {
		return nil, fmt.Errorf("reattach %s: object has no id", name)
	}
	if s.table[id] != nil {
		return nil, fmt.Errorf("reattach %s: %w: %d", name, ErrDuplicateID, id)
	}
	if id > s.lastID {
		s.lastID = id
	}

	p := s.newProxy(obj)
	s.table[id] = p

	var successor *Proxy
	if rank != 0 {
		for cur := s.table[node.tail]; cur != nil && cur.rank > rank; cur = cur.Prev() {
			successor = cur
		}
	}
	switch {
	case rank == 0:
		node.append(p)
	case successor != nil:
		p.Link(successor)
		p.rank = rank
	default:
		node.append(p)
		p.rank = rank
	}
	if p.rank > node.rank {
		node.rank = p.rank
	}

	s.linkRefs(p)
	for _, q := range s.table {
		if q == p {
			continue
		}
		for _, target := range q.links {
			if target == id {
				p.LinkRef()
			}
		}
	}
	return p, nil
}

// Lookup returns the live object with the given id.
func (s *Store) Lookup(id uint64) (Object, bool) {
	p := s.table[id]
	if p == nil {
		return nil, false
	}
	return p.obj, true
}

// Proxy returns the live proxy with the given id.
func (s *Store) Proxy(id uint64) (*Proxy, bool) {
	p := s.table[id]
	return p, p != nil
}

// Resolve returns the object a Ref points at.
func (s *Store) Resolve(r Ref) (Object, bool) {
	if r.Nil() {
		return nil, false
	}
	return s.Lookup(r.ID)
}

// Each calls fn for every live proxy of the prototype in sequence order
// until fn returns false.
func (s *Store) Each(name string, fn func(*Proxy) bool) {
	node, ok := s.prototypes[name]
	if !ok {
		return
	}
	for p := s.table[node.head]; p != nil; p = p.Next() {
		if !fn(p) {
			return
		}
	}
}

// Objects returns the live objects of the prototype in sequence order.
func (s *Store) Objects(name string) []Object {
	var out []Object
	s.Each(name, func(p *Proxy) bool {
		out = append(out, p.obj)
		return true
	})
	return out
}

// Len returns the number of live objects.
func (s *Store) Len() int { return len(s.table) }

// Clear destroys every object without notifying the observer.
// Prototypes stay registered.
func (s *Store) Clear() {
	for _, p := range s.table {
		p.links = nil
		s.destroy(p)
	}
	for _, n := range s.order {
		n.head, n.tail, n.size = 0, 0, 0
	}
}

func (s *Store) newProxy(obj Object) *Proxy {
	s.gen++
	p := &Proxy{store: s, gen: s.gen}
	p.Acquire(obj)
	return p
}

// destroy unregisters the proxy, unlinks it, drops its object and releases
// the strong refs it held. Handles to it resolve to absent afterwards.
func (s *Store) destroy(p *Proxy) {
	s.unlinkRefs(p)
	p.Unlink()
	delete(s.table, p.ID())
	p.id = p.ID()
	p.obj = nil
	p.store = nil
}

func (s *Store) linkRefs(p *Proxy) {
	p.links = collectRefs(p.obj)
	for _, id := range p.links {
		if id == p.ID() {
			continue
		}
		if t := s.table[id]; t != nil {
			t.LinkRef()
		}
	}
}

func (s *Store) unlinkRefs(p *Proxy) {
	for _, id := range p.links {
		if id == p.ID() {
			continue
		}
		if t := s.table[id]; t != nil {
			t.UnlinkRef()
		}
	}
	p.links = nil
}

func (s *Store) relinkRefs(p *Proxy) {
	s.unlinkRefs(p)
	s.linkRefs(p)
}
