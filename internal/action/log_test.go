package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Create, "create"},
		{Insert, "insert"},
		{Update, "update"},
		{Delete, "delete"},
		{Drop, "drop"},
		{Kind(42), "kind(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("delete")
	require.NoError(t, err)
	assert.Equal(t, Delete, k)

	_, err = ParseKind("upsert")
	assert.Error(t, err)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "insert:item:3", Action{Kind: Insert, ID: 3, Type: "item"}.String())
	assert.Equal(t, "create:item", Action{Kind: Create, Type: "item"}.String())
}

func TestLog_AppendKeepsOrder(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(Action{Kind: Insert, ID: 2, Type: "item"}))
	require.NoError(t, l.Append(Action{Kind: Update, ID: 1, Type: "item"}))
	require.NoError(t, l.Append(Action{Kind: Delete, ID: 3, Type: "item"}))

	assert.Equal(t, []Action{
		{Kind: Insert, ID: 2, Type: "item"},
		{Kind: Update, ID: 1, Type: "item"},
		{Kind: Delete, ID: 3, Type: "item"},
	}, l.Actions())
}

func TestLog_AppendDuplicate(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(Action{Kind: Insert, ID: 1, Type: "item"}))

	err := l.Append(Action{Kind: Update, ID: 1, Type: "item"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, l.Len())
}

func TestLog_SchemaActionsAreNotIndexed(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(Action{Kind: Create, Type: "item"}))
	require.NoError(t, l.Append(Action{Kind: Create, Type: "album"}))
	require.NoError(t, l.Append(Action{Kind: Insert, ID: 1, Type: "item"}))

	assert.Equal(t, 3, l.Len())
	_, ok := l.Lookup(0)
	assert.False(t, ok)
}

func TestLog_RemoveDropsBackup(t *testing.T) {
	l := NewLog()
	l.Backup().Put(1, []byte("pre"))
	require.NoError(t, l.Append(Action{Kind: Update, ID: 1, Type: "item"}))
	require.NoError(t, l.Append(Action{Kind: Insert, ID: 2, Type: "item"}))

	assert.True(t, l.Remove(1))
	assert.False(t, l.Remove(1))

	_, ok := l.Lookup(1)
	assert.False(t, ok)
	assert.False(t, l.Backup().Has(1))
	assert.Equal(t, []Action{{Kind: Insert, ID: 2, Type: "item"}}, l.Actions())
}

func TestLog_ReplaceKeepsPositionAndBackup(t *testing.T) {
	l := NewLog()
	l.Backup().Put(1, []byte("pre"))
	require.NoError(t, l.Append(Action{Kind: Update, ID: 1, Type: "item"}))
	require.NoError(t, l.Append(Action{Kind: Insert, ID: 2, Type: "item"}))

	require.True(t, l.Replace(1, Delete))
	assert.False(t, l.Replace(9, Delete))

	a, ok := l.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, Delete, a.Kind)
	assert.Equal(t, Delete, l.Actions()[0].Kind)

	data, ok := l.Backup().Get(1)
	require.True(t, ok)
	assert.Equal(t, "pre", string(data))
}

func TestLog_PopFront(t *testing.T) {
	l := NewLog()
	l.Backup().Put(1, []byte("one"))
	require.NoError(t, l.Append(Action{Kind: Update, ID: 1, Type: "item"}))
	require.NoError(t, l.Append(Action{Kind: Insert, ID: 2, Type: "item"}))

	a, ok := l.PopFront()
	require.True(t, ok)
	assert.Equal(t, uint64(1), a.ID)
	assert.True(t, l.Backup().Has(1), "pre-image survives until Clear")
	_, ok = l.Lookup(1)
	assert.False(t, ok)

	a, ok = l.PopFront()
	require.True(t, ok)
	assert.Equal(t, uint64(2), a.ID)

	_, ok = l.PopFront()
	assert.False(t, ok)
}

func TestLog_Clear(t *testing.T) {
	l := NewLog()
	l.Backup().Put(1, []byte("one"))
	require.NoError(t, l.Append(Action{Kind: Update, ID: 1, Type: "item"}))

	l.Clear()

	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, l.Backup().Len())
	assert.Equal(t, 0, l.Backup().Size())
	require.NoError(t, l.Append(Action{Kind: Insert, ID: 1, Type: "item"}), "id is free again")
}

func TestBackup_PutGet(t *testing.T) {
	b := NewBackup()
	b.Put(1, []byte("abc"))
	b.Put(2, []byte("de"))

	data, ok := b.Get(1)
	require.True(t, ok)
	assert.Equal(t, "abc", string(data))

	data, ok = b.Get(2)
	require.True(t, ok)
	assert.Equal(t, "de", string(data))

	_, ok = b.Get(3)
	assert.False(t, ok)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 5, b.Size())
}

func TestBackup_GetDoesNotAliasLaterAppends(t *testing.T) {
	b := NewBackup()
	b.Put(1, []byte("abc"))
	data, _ := b.Get(1)
	_ = append(data, 'x')
	b.Put(2, []byte("yz"))

	again, _ := b.Get(1)
	assert.Equal(t, "abc", string(again))
	second, _ := b.Get(2)
	assert.Equal(t, "yz", string(second))
}
