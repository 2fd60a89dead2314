package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zhanjx1314/oos/internal/codec"
	"github.com/zhanjx1314/oos/internal/object"
	"github.com/zhanjx1314/oos/internal/testutil"
)

func TestRoundTrip_Scalars(t *testing.T) {
	in := testutil.NewItem("Schraube", -12)
	in.Serial = 1<<63 + 5
	in.Price = 3.25
	in.Active = true
	in.Note = "größe M"

	data, err := codec.Serialize(in)
	require.NoError(t, err)

	out := testutil.NewItem("", 0)
	require.NoError(t, codec.Deserialize(data, out))

	assert.Equal(t, "Schraube", out.Name.String())
	assert.Equal(t, 64, out.Name.Capacity())
	assert.Equal(t, int64(-12), out.Count)
	assert.Equal(t, uint64(1<<63+5), out.Serial)
	assert.Equal(t, 3.25, out.Price)
	assert.True(t, out.Active)
	assert.Equal(t, "größe M", out.Note)
}

func TestRoundTrip_ReferenceByID(t *testing.T) {
	in := testutil.NewAlbum("x")
	in.Artist = object.RefTo(7)
	in.Tracks = object.RefList{object.RefTo(9), object.RefTo(3), object.RefTo(5)}
	in.Tags = object.NewRefSet(4, 2)

	data, err := codec.Serialize(in)
	require.NoError(t, err)

	out := testutil.NewAlbum("")
	require.NoError(t, codec.Deserialize(data, out))

	assert.Equal(t, "x", out.Name)
	assert.Equal(t, uint64(7), out.Artist.ID)
	assert.Equal(t, []uint64{9, 3, 5}, out.Tracks.IDs(), "list keeps element order")
	assert.Equal(t, []uint64{2, 4}, out.Tags.IDs())
}

func TestRoundTrip_EmptyContainers(t *testing.T) {
	data, err := codec.Serialize(testutil.NewAlbum("empty"))
	require.NoError(t, err)

	out := testutil.NewAlbum("")
	out.Tracks = object.RefList{object.RefTo(1)}
	out.Tags.Add(object.RefTo(2))
	require.NoError(t, codec.Deserialize(data, out))

	assert.Empty(t, out.Tracks)
	assert.Empty(t, out.Tags)
	assert.True(t, out.Artist.Nil())
}

func TestDeserialize_VarCharTruncatesToTargetCapacity(t *testing.T) {
	data, err := codec.Serialize(testutil.NewItem("abcdefgh", 1))
	require.NoError(t, err)

	out := &testutil.Item{Name: object.NewVarChar(4, "")}
	require.NoError(t, codec.Deserialize(data, out))
	assert.Equal(t, "abcd", out.Name.String())
}

func TestDeserialize_DoesNotTouchID(t *testing.T) {
	in := testutil.NewItem("a", 1)
	in.SetID(3)
	data, err := codec.Serialize(in)
	require.NoError(t, err)

	out := testutil.NewItem("", 0)
	out.SetID(8)
	require.NoError(t, codec.Deserialize(data, out))
	assert.Equal(t, uint64(8), out.ID())
}

func TestDeserialize_Malformed(t *testing.T) {
	good, err := codec.Serialize(testutil.NewItem("a", 1))
	require.NoError(t, err)

	badVersion, err := msgpack.Marshal(99)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		into object.Object
	}{
		{"empty", nil, testutil.NewItem("", 0)},
		{"truncated", good[:len(good)-3], testutil.NewItem("", 0)},
		{"trailing bytes", append(append([]byte{}, good...), 0x01), testutil.NewItem("", 0)},
		{"unknown version", badVersion, testutil.NewItem("", 0)},
		{"other type", good, &testutil.Artist{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := codec.Deserialize(tt.data, tt.into)
			assert.ErrorIs(t, err, codec.ErrMalformed)
		})
	}
}

func TestDeserialize_MalformedLeavesTargetUntouched(t *testing.T) {
	src := testutil.NewItem("new", 9)
	src.Note = "new note"
	good, err := codec.Serialize(src)
	require.NoError(t, err)

	into := testutil.NewItem("old", 1)
	into.Note = "old note"
	err = codec.Deserialize(good[:len(good)-2], into)
	require.ErrorIs(t, err, codec.ErrMalformed)

	assert.Equal(t, "old", into.Name.String())
	assert.Equal(t, int64(1), into.Count)
	assert.Equal(t, "old note", into.Note)
}

func TestSerialize_Nil(t *testing.T) {
	_, err := codec.Serialize(nil)
	assert.ErrorIs(t, err, object.ErrNilObject)
}

func TestResurrect_ReattachesUnderRecordedID(t *testing.T) {
	s := testutil.NewStore(t)
	artist := testutil.MustInsert(t, s, &testutil.Artist{Name: "Nina"})
	album := testutil.NewAlbum("Pastel Blues")
	album.Artist = object.RefTo(artist.ID())
	ap := testutil.MustInsert(t, s, album)

	data, err := codec.Serialize(album)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ap.ID()))

	p, err := codec.Resurrect(s, "album", ap.ID(), ap.Rank(), data)
	require.NoError(t, err)
	assert.Equal(t, ap.ID(), p.ID())
	assert.True(t, p.Valid())
	assert.Equal(t, 1, artist.RefCount(), "reference re-resolved against the live artist")

	back := p.Object().(*testutil.Album)
	ref, ok := s.Resolve(back.Artist)
	require.True(t, ok)
	assert.Same(t, artist.Object(), ref, "referent is not cloned")
}

func TestResurrect_Errors(t *testing.T) {
	s := testutil.NewStore(t)

	_, err := codec.Resurrect(s, "nope", 1, 0, nil)
	assert.ErrorIs(t, err, object.ErrUnknownPrototype)

	_, err = codec.Resurrect(s, "item", 1, 0, []byte{0xc1})
	assert.ErrorIs(t, err, codec.ErrMalformed)
	assert.Equal(t, 0, s.Len())
}
