package object

// refCollector gathers the ids an object holds strong references to.
type refCollector struct {
	ids []uint64
}

func collectRefs(obj Object) []uint64 {
	if obj == nil {
		return nil
	}
	c := &refCollector{}
	obj.WriteFields(c)
	return c.ids
}

func (c *refCollector) WriteInt(string, int64)       {}
func (c *refCollector) WriteUint(string, uint64)     {}
func (c *refCollector) WriteFloat(string, float64)   {}
func (c *refCollector) WriteBool(string, bool)       {}
func (c *refCollector) WriteString(string, string)   {}
func (c *refCollector) WriteVarChar(string, VarChar) {}

func (c *refCollector) WriteRef(_ string, r Ref) {
	if !r.Nil() {
		c.ids = append(c.ids, r.ID)
	}
}

func (c *refCollector) WriteRefList(_ string, l RefList) {
	for _, r := range l {
		c.WriteRef("", r)
	}
}

func (c *refCollector) WriteRefSet(_ string, s RefSet) {
	for _, id := range s.IDs() {
		c.ids = append(c.ids, id)
	}
}

// Handle is an external weak reference to a managed object. It is a
// (store, id, generation) lookup: once the proxy it was taken from is
// destroyed the handle resolves to absent, even if the id is later reused
// by a restored object.
type Handle struct {
	store    *Store
	id       uint64
	gen      uint64
	released bool
}

// Handle returns a weak reference to the object with the given id and
// counts it on the proxy.
func (s *Store) Handle(id uint64) (*Handle, error) {
	p := s.table[id]
	if p == nil {
		return nil, ErrNotFound
	}
	p.LinkPtr()
	return &Handle{store: s, id: id, gen: p.gen}, nil
}

// ID returns the id the handle was taken for.
func (h *Handle) ID() uint64 { return h.id }

func (h *Handle) proxy() *Proxy {
	if h.released {
		return nil
	}
	p := h.store.table[h.id]
	if p == nil || p.gen != h.gen {
		return nil
	}
	return p
}

// Get resolves the handle.
func (h *Handle) Get() (Object, bool) {
	p := h.proxy()
	if p == nil {
		return nil, false
	}
	return p.obj, true
}

// Valid reports whether the handle still resolves.
func (h *Handle) Valid() bool { return h.proxy() != nil }

// Release drops the weak reference. Further lookups resolve to absent.
func (h *Handle) Release() {
	if p := h.proxy(); p != nil {
		p.UnlinkPtr()
	}
	h.released = true
}
