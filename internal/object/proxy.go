package object

import "fmt"

// Proxy is the identity and ownership node of one managed object.
//
// The proxy owns its object exclusively. Its position in the prototype
// sequence is held as neighbour ids; the sequence, not the object, owns the
// linkage. Strong (ref) and weak (ptr) counters track holders but never
// destroy anything on their own.
type Proxy struct {
	id       uint64
	obj      Object
	refCount int
	ptrCount int

	prev uint64
	next uint64
	rank uint64
	node *Prototype

	store *Store
	gen   uint64

	// ids of the objects this proxy's object currently holds strong refs to
	links []uint64
}

// ID returns the object's id, or the proxy's own id when it holds no object.
func (p *Proxy) ID() uint64 {
	if p.obj != nil {
		return p.obj.ID()
	}
	return p.id
}

// SetID assigns the id to the proxy and its object.
func (p *Proxy) SetID(id uint64) {
	p.id = id
	if p.obj != nil {
		p.obj.SetID(id)
	}
}

// Object returns the owned object (nil once destroyed).
func (p *Proxy) Object() Object { return p.obj }

// Acquire takes ownership of obj.
func (p *Proxy) Acquire(obj Object) {
	p.obj = obj
	if obj != nil {
		p.id = obj.ID()
	}
}

// Reset replaces the owned object and clears the counters and the
// prototype reference. The caller unlinks the proxy first.
func (p *Proxy) Reset(obj Object) {
	p.refCount = 0
	p.ptrCount = 0
	p.obj = obj
	p.id = 0
	if obj != nil {
		p.id = obj.ID()
	}
	p.node = nil
}

// Rank returns the proxy's position key in its prototype sequence. Ranks
// grow in insertion order and survive a rollback of the proxy's removal.
func (p *Proxy) Rank() uint64 { return p.rank }

// Prototype returns the prototype node the proxy is linked into.
func (p *Proxy) Prototype() *Prototype { return p.node }

// Store returns the owning store (nil once destroyed).
func (p *Proxy) Store() *Store { return p.store }

// Link splices p into successor's sequence directly before successor.
func (p *Proxy) Link(successor *Proxy) {
	if p.store == nil {
		p.store = successor.store
	}
	node := successor.node
	p.node = node
	p.next = successor.ID()
	p.prev = successor.prev
	if pred := p.neighbour(successor.prev); pred != nil {
		pred.next = p.ID()
	} else if node != nil {
		node.head = p.ID()
	}
	successor.prev = p.ID()
	if node != nil {
		node.size++
	}
}

// Unlink removes p from its sequence.
func (p *Proxy) Unlink() {
	node := p.node
	if node == nil {
		return
	}
	if pred := p.neighbour(p.prev); pred != nil {
		pred.next = p.next
	} else {
		node.head = p.next
	}
	if succ := p.neighbour(p.next); succ != nil {
		succ.prev = p.prev
	} else {
		node.tail = p.prev
	}
	node.size--
	p.prev = 0
	p.next = 0
	p.node = nil
}

// Next returns the following proxy in the sequence.
func (p *Proxy) Next() *Proxy { return p.neighbour(p.next) }

// Prev returns the preceding proxy in the sequence.
func (p *Proxy) Prev() *Proxy { return p.neighbour(p.prev) }

func (p *Proxy) neighbour(id uint64) *Proxy {
	if id == 0 || p.store == nil {
		return nil
	}
	return p.store.table[id]
}

// LinkRef counts one more strong holder.
func (p *Proxy) LinkRef() {
	if p.obj != nil {
		p.refCount++
	}
}

// UnlinkRef counts one strong holder less.
func (p *Proxy) UnlinkRef() {
	if p.obj != nil && p.refCount > 0 {
		p.refCount--
	}
}

// LinkPtr counts one more weak holder.
func (p *Proxy) LinkPtr() {
	if p.obj != nil {
		p.ptrCount++
	}
}

// UnlinkPtr counts one weak holder less.
func (p *Proxy) UnlinkPtr() {
	if p.obj != nil && p.ptrCount > 0 {
		p.ptrCount--
	}
}

// RefCount returns the number of strong holders.
func (p *Proxy) RefCount() int { return p.refCount }

// PtrCount returns the number of weak holders.
func (p *Proxy) PtrCount() int { return p.ptrCount }

// Linked reports whether the proxy is part of a prototype sequence.
func (p *Proxy) Linked() bool { return p.node != nil }

// Valid reports whether the proxy is linked and owned by a store.
func (p *Proxy) Valid() bool { return p.store != nil && p.node != nil }

func (p *Proxy) String() string {
	name := ""
	if p.node != nil {
		name = p.node.name
	}
	return fmt.Sprintf("proxy [%d] type [%s] prev [%d] next [%d] refs [%d] ptrs [%d]",
		p.ID(), name, p.prev, p.next, p.refCount, p.ptrCount)
}
