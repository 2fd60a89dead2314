package object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhanjx1314/oos/internal/object"
	"github.com/zhanjx1314/oos/internal/testutil"
)

func TestVarChar_Truncates(t *testing.T) {
	v := object.NewVarChar(5, "Nina Simone")
	assert.Equal(t, "Nina ", v.String())
	assert.Equal(t, 5, v.Len())
	assert.Equal(t, 5, v.Capacity())

	v.Set("Nö")
	v.Append("räu")
	assert.Equal(t, "Nöräu", v.String(), "capacity counts runes, not bytes")
	v.Append("!")
	assert.Equal(t, "Nöräu", v.String())

	assert.Equal(t, "", object.NewVarChar(0, "x").String())
}

func TestRefList_KeepsOrderAndDuplicates(t *testing.T) {
	var l object.RefList
	l.Append(object.RefTo(3))
	l.Append(object.RefTo(1))
	l.Append(object.RefTo(3))

	assert.Equal(t, []uint64{3, 1, 3}, l.IDs())
	assert.True(t, l.Remove(3))
	assert.Equal(t, []uint64{1, 3}, l.IDs(), "only the first reference is removed")
	assert.False(t, l.Remove(9))
	assert.True(t, l.Contains(1))
}

func TestRefSet_SortedIDs(t *testing.T) {
	s := object.NewRefSet(5, 2)
	s.Add(object.RefTo(9))
	s.Add(object.RefTo(2))

	assert.Equal(t, []uint64{2, 5, 9}, s.IDs())
	s.Remove(5)
	assert.False(t, s.Has(5))
	assert.True(t, object.Ref{}.Nil())
}

func TestProxy_String(t *testing.T) {
	s := testutil.NewStore(t)
	a := testutil.MustInsert(t, s, testutil.NewItem("a", 1))
	testutil.MustInsert(t, s, testutil.NewItem("b", 2))

	assert.Equal(t, "proxy [1] type [item] prev [0] next [2] refs [0] ptrs [0]", a.String())
}
