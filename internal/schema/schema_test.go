package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanjx1314/oos/internal/codec"
	"github.com/zhanjx1314/oos/internal/object"
)

func mustField(t *testing.T, name, decl string) Field {
	t.Helper()
	f, err := ParseField(name, decl)
	require.NoError(t, err)
	return f
}

func library(t *testing.T) *Schema {
	t.Helper()
	return &Schema{Prototypes: []*Prototype{
		{Name: "artist", Fields: []Field{mustField(t, "name", "varchar(8)")}},
		{Name: "album", Fields: []Field{
			mustField(t, "title", "string"),
			mustField(t, "year", "int"),
			mustField(t, "serial", "uint"),
			mustField(t, "rating", "float"),
			mustField(t, "live", "bool"),
			mustField(t, "artist", "ref(artist)"),
			mustField(t, "tracks", "list(artist)"),
			mustField(t, "tags", "set(artist)"),
		}},
	}}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		decl    string
		want    Field
		wantErr bool
	}{
		{decl: "int", want: Field{Name: "f", Kind: Int}},
		{decl: " uint ", want: Field{Name: "f", Kind: Uint}},
		{decl: "varchar(32)", want: Field{Name: "f", Kind: VarChar, Size: 32}},
		{decl: "ref(track)", want: Field{Name: "f", Kind: Ref, Target: "track"}},
		{decl: "set( tag )", want: Field{Name: "f", Kind: Set, Target: "tag"}},
		{decl: "varchar", wantErr: true},
		{decl: "varchar(0)", wantErr: true},
		{decl: "varchar(x)", wantErr: true},
		{decl: "list", wantErr: true},
		{decl: "list()", wantErr: true},
		{decl: "int(3)", wantErr: true},
		{decl: "ref(track", wantErr: true},
		{decl: "decimal", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.decl, func(t *testing.T) {
			got, err := ParseField("f", tt.decl)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldType(t *testing.T) {
	for _, decl := range []string{"int", "bool", "varchar(5)", "ref(a)", "list(b)", "set(c)"} {
		assert.Equal(t, decl, mustField(t, "x", decl).Type())
	}
}

func TestValidate(t *testing.T) {
	assert.Empty(t, library(t).Validate())

	bad := &Schema{Prototypes: []*Prototype{
		{Name: "a", Fields: []Field{mustField(t, "x", "int"), mustField(t, "x", "bool")}},
		{Name: "a"},
		{Name: "b", Fields: []Field{mustField(t, "owner", "ref(nobody)")}},
	}}
	errs := bad.Validate()
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Error(), `prototype "a" declared twice`)
	assert.Contains(t, errs[1].Error(), "a.x: field declared twice")
	assert.Contains(t, errs[2].Error(), `unknown target prototype "nobody"`)
}

func TestRecord_SetConverts(t *testing.T) {
	s := library(t)
	album, _ := s.Lookup("album")
	r := NewRecord(album)

	require.NoError(t, r.Set("title", "Pastel Blues"))
	require.NoError(t, r.Set("year", 1965))
	require.NoError(t, r.Set("serial", uint64(1<<63)))
	require.NoError(t, r.Set("rating", 4))
	require.NoError(t, r.Set("live", true))
	require.NoError(t, r.Set("artist", 3))
	require.NoError(t, r.Set("tracks", []any{5, 4, 5}))
	require.NoError(t, r.Set("tags", []any{9, 2}))

	assert.Equal(t, map[string]any{
		"title":  "Pastel Blues",
		"year":   int64(1965),
		"serial": uint64(1 << 63),
		"rating": float64(4),
		"live":   true,
		"artist": uint64(3),
		"tracks": []uint64{5, 4, 5},
		"tags":   []uint64{2, 9},
	}, r.Plain())

	require.NoError(t, r.Set("artist", nil))
	v, ok := r.Get("artist")
	require.True(t, ok)
	assert.True(t, v.(object.Ref).Nil())
}

func TestRecord_SetRejects(t *testing.T) {
	s := library(t)
	album, _ := s.Lookup("album")
	r := NewRecord(album)

	tests := []struct {
		field string
		value any
	}{
		{"year", "1965"},
		{"year", 1.5},
		{"serial", -1},
		{"rating", "high"},
		{"live", 1},
		{"title", 7},
		{"artist", "three"},
		{"tracks", []any{"a"}},
		{"tags", []any{0}},
		{"tags", 4},
	}
	for _, tt := range tests {
		err := r.Set(tt.field, tt.value)
		assert.ErrorIs(t, err, ErrFieldType, "%s <- %v", tt.field, tt.value)
	}
	assert.ErrorIs(t, r.Set("nope", 1), ErrUnknownField)
}

func TestRecord_VarCharTruncates(t *testing.T) {
	s := library(t)
	artist, _ := s.Lookup("artist")
	r := NewRecord(artist)
	require.NoError(t, r.Set("name", "Nina Simone"))
	assert.Equal(t, "Nina Sim", r.Plain()["name"])
}

func TestRecord_CodecRoundTrip(t *testing.T) {
	s := library(t)
	album, _ := s.Lookup("album")
	r := NewRecord(album)
	require.NoError(t, r.Set("title", "Wild Is the Wind"))
	require.NoError(t, r.Set("year", -3))
	require.NoError(t, r.Set("artist", 1))
	require.NoError(t, r.Set("tracks", []any{2, 3}))
	require.NoError(t, r.Set("tags", []any{4}))

	data, err := codec.Serialize(r)
	require.NoError(t, err)

	got := NewRecord(album)
	require.NoError(t, codec.Deserialize(data, got))
	assert.Equal(t, r.Plain(), got.Plain())
}

func TestRegister(t *testing.T) {
	s := library(t)
	st := object.NewStore()
	require.NoError(t, s.Register(st))

	album, _ := s.Lookup("album")
	r := NewRecord(album)
	require.NoError(t, r.Set("title", "x"))
	p, err := st.Insert(r)
	require.NoError(t, err)
	assert.Equal(t, "album", p.Prototype().Name())

	assert.Error(t, s.Register(st), "already registered")
}
