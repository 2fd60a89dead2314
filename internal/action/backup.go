package action

// span is a byte range inside the backup buffer.
type span struct {
	off, n int
}

// Backup is an append-only buffer of serialized pre-images indexed by
// object id. Replacing an id's pre-image appends new bytes and moves the
// index; the old bytes stay until Clear.
type Backup struct {
	buf   []byte
	index map[uint64]span
}

// NewBackup returns an empty backup store.
func NewBackup() *Backup {
	return &Backup{index: make(map[uint64]span)}
}

// Put appends data as the pre-image of id.
func (b *Backup) Put(id uint64, data []byte) {
	b.index[id] = span{off: len(b.buf), n: len(data)}
	b.buf = append(b.buf, data...)
}

// Get returns the pre-image of id. The slice aliases the buffer and is
// valid until Clear.
func (b *Backup) Get(id uint64) ([]byte, bool) {
	s, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return b.buf[s.off : s.off+s.n : s.off+s.n], true
}

// Has reports whether a pre-image of id is held.
func (b *Backup) Has(id uint64) bool {
	_, ok := b.index[id]
	return ok
}

// Drop forgets the pre-image of id.
func (b *Backup) Drop(id uint64) {
	delete(b.index, id)
}

// Len returns the number of pre-images held.
func (b *Backup) Len() int { return len(b.index) }

// Size returns the number of bytes in the buffer.
func (b *Backup) Size() int { return len(b.buf) }

// Clear discards every pre-image.
func (b *Backup) Clear() {
	b.buf = b.buf[:0]
	clear(b.index)
}
