package object

import (
	"slices"
	"unicode/utf8"
)

// Object is an application object managed by a Store.
//
// WriteFields and ReadFields must visit the same fields in the same order.
// The id is not a field; it belongs to the proxy and is written by the store.
type Object interface {
	ID() uint64
	SetID(id uint64)
	WriteFields(w FieldWriter)
	ReadFields(r FieldReader)
}

// Typed is implemented by objects whose prototype is decided per instance
// (for example schema records) rather than by their Go type.
type Typed interface {
	PrototypeName() string
}

// FieldWriter receives an object's fields in declaration order.
// Implementations keep the first error and report it when they finish.
type FieldWriter interface {
	WriteInt(name string, v int64)
	WriteUint(name string, v uint64)
	WriteFloat(name string, v float64)
	WriteBool(name string, v bool)
	WriteString(name string, v string)
	WriteVarChar(name string, v VarChar)
	WriteRef(name string, r Ref)
	WriteRefList(name string, l RefList)
	WriteRefSet(name string, s RefSet)
}

// FieldReader fills an object's fields in declaration order.
type FieldReader interface {
	ReadInt(name string, v *int64)
	ReadUint(name string, v *uint64)
	ReadFloat(name string, v *float64)
	ReadBool(name string, v *bool)
	ReadString(name string, v *string)
	ReadVarChar(name string, v *VarChar)
	ReadRef(name string, r *Ref)
	ReadRefList(name string, l *RefList)
	ReadRefSet(name string, s *RefSet)
}

// VarChar is a string with a fixed capacity counted in runes.
// Assignments and appends beyond the capacity are truncated.
type VarChar struct {
	capacity int
	value    string
}

// NewVarChar returns a VarChar of the given capacity holding s (truncated).
func NewVarChar(capacity int, s string) VarChar {
	v := VarChar{capacity: capacity}
	v.Set(s)
	return v
}

// Capacity returns the maximum number of runes.
func (v VarChar) Capacity() int { return v.capacity }

// Len returns the number of runes held.
func (v VarChar) Len() int { return utf8.RuneCountInString(v.value) }

func (v VarChar) String() string { return v.value }

// Set replaces the content.
func (v *VarChar) Set(s string) {
	v.value = truncate(s, v.capacity)
}

// Append adds s to the end, keeping at most Capacity runes.
func (v *VarChar) Append(s string) {
	v.value = truncate(v.value+s, v.capacity)
}

func truncate(s string, capacity int) string {
	if capacity <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= capacity {
		return s
	}
	n := 0
	for i := range s {
		if n == capacity {
			return s[:i]
		}
		n++
	}
	return s
}

// Ref points at another managed object by id. The zero Ref is nil.
// Refs are resolved against a Store, so a Ref to a destroyed object
// resolves to absent and resolves again if the object is restored.
type Ref struct {
	ID uint64
}

// RefTo returns a Ref to the object with the given id.
func RefTo(id uint64) Ref { return Ref{ID: id} }

// Nil reports whether the Ref points nowhere.
func (r Ref) Nil() bool { return r.ID == 0 }

// RefList is an ordered container of references.
type RefList []Ref

// Append adds a reference at the end.
func (l *RefList) Append(r Ref) { *l = append(*l, r) }

// Remove deletes the first reference to id.
func (l *RefList) Remove(id uint64) bool {
	i := slices.IndexFunc(*l, func(r Ref) bool { return r.ID == id })
	if i < 0 {
		return false
	}
	*l = slices.Delete(*l, i, i+1)
	return true
}

// Contains reports whether the list references id.
func (l RefList) Contains(id uint64) bool {
	return slices.ContainsFunc(l, func(r Ref) bool { return r.ID == id })
}

// IDs returns the referenced ids in list order.
func (l RefList) IDs() []uint64 {
	ids := make([]uint64, len(l))
	for i, r := range l {
		ids[i] = r.ID
	}
	return ids
}

// RefSet is an unordered container of references.
type RefSet map[uint64]struct{}

// NewRefSet returns a set holding the given ids.
func NewRefSet(ids ...uint64) RefSet {
	s := make(RefSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts a reference.
func (s RefSet) Add(r Ref) { s[r.ID] = struct{}{} }

// Remove deletes a reference.
func (s RefSet) Remove(id uint64) { delete(s, id) }

// Has reports whether the set references id.
func (s RefSet) Has(id uint64) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the referenced ids in ascending order.
func (s RefSet) IDs() []uint64 {
	ids := make([]uint64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
