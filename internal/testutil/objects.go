// Package testutil provides small object types and store fixtures shared by
// the tests of the object, codec, backend and tx packages.
package testutil

import (
	"testing"

	"github.com/zhanjx1314/oos/internal/object"
)

// Item is a flat object with one field of every scalar kind.
type Item struct {
	id     uint64
	Name   object.VarChar
	Count  int64
	Serial uint64
	Price  float64
	Active bool
	Note   string
}

// NewItem returns an item with a 64-rune name.
func NewItem(name string, count int64) *Item {
	return &Item{Name: object.NewVarChar(64, name), Count: count}
}

func (i *Item) ID() uint64      { return i.id }
func (i *Item) SetID(id uint64) { i.id = id }

func (i *Item) WriteFields(w object.FieldWriter) {
	w.WriteVarChar("name", i.Name)
	w.WriteInt("count", i.Count)
	w.WriteUint("serial", i.Serial)
	w.WriteFloat("price", i.Price)
	w.WriteBool("active", i.Active)
	w.WriteString("note", i.Note)
}

func (i *Item) ReadFields(r object.FieldReader) {
	r.ReadVarChar("name", &i.Name)
	r.ReadInt("count", &i.Count)
	r.ReadUint("serial", &i.Serial)
	r.ReadFloat("price", &i.Price)
	r.ReadBool("active", &i.Active)
	r.ReadString("note", &i.Note)
}

// Artist is referenced by albums.
type Artist struct {
	id   uint64
	Name string
}

func (a *Artist) ID() uint64      { return a.id }
func (a *Artist) SetID(id uint64) { a.id = id }

func (a *Artist) WriteFields(w object.FieldWriter) { w.WriteString("name", a.Name) }
func (a *Artist) ReadFields(r object.FieldReader)  { r.ReadString("name", &a.Name) }

// Track belongs to an album's track list.
type Track struct {
	id    uint64
	Title string
	Index int64
}

func (t *Track) ID() uint64      { return t.id }
func (t *Track) SetID(id uint64) { t.id = id }

func (t *Track) WriteFields(w object.FieldWriter) {
	w.WriteString("title", t.Title)
	w.WriteInt("index", t.Index)
}

func (t *Track) ReadFields(r object.FieldReader) {
	r.ReadString("title", &t.Title)
	r.ReadInt("index", &t.Index)
}

// Album holds a reference, an ordered container and an unordered container.
type Album struct {
	id     uint64
	Name   string
	Artist object.Ref
	Tracks object.RefList
	Tags   object.RefSet
}

// NewAlbum returns an album with an empty tag set.
func NewAlbum(name string) *Album {
	return &Album{Name: name, Tags: object.RefSet{}}
}

func (a *Album) ID() uint64      { return a.id }
func (a *Album) SetID(id uint64) { a.id = id }

func (a *Album) WriteFields(w object.FieldWriter) {
	w.WriteString("name", a.Name)
	w.WriteRef("artist", a.Artist)
	w.WriteRefList("tracks", a.Tracks)
	w.WriteRefSet("tags", a.Tags)
}

func (a *Album) ReadFields(r object.FieldReader) {
	r.ReadString("name", &a.Name)
	r.ReadRef("artist", &a.Artist)
	r.ReadRefList("tracks", &a.Tracks)
	r.ReadRefSet("tags", &a.Tags)
}

// NewStore returns a store with item, artist, track and album registered.
func NewStore(t testing.TB) *object.Store {
	t.Helper()
	s := object.NewStore()
	factories := []struct {
		name    string
		factory object.Factory
	}{
		{"item", func() object.Object { return NewItem("", 0) }},
		{"artist", func() object.Object { return &Artist{} }},
		{"track", func() object.Object { return &Track{} }},
		{"album", func() object.Object { return NewAlbum("") }},
	}
	for _, f := range factories {
		if _, err := s.Register(f.name, f.factory); err != nil {
			t.Fatalf("Register(%q) failed: %v", f.name, err)
		}
	}
	return s
}

// MustInsert inserts obj and fails the test on error.
func MustInsert(t testing.TB, s *object.Store, obj object.Object) *object.Proxy {
	t.Helper()
	p, err := s.Insert(obj)
	if err != nil {
		t.Fatalf("Insert(%T) failed: %v", obj, err)
	}
	return p
}
