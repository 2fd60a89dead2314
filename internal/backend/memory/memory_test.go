package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/backend"
	"github.com/zhanjx1314/oos/internal/object"
	"github.com/zhanjx1314/oos/internal/testutil"
)

func openBackend(t *testing.T) *Backend {
	t.Helper()
	b := New()
	require.NoError(t, b.Open(context.Background()))
	require.NoError(t, b.Visit(context.Background(), action.Action{Kind: action.Create, Type: "item"}, testutil.NewItem("", 0)))
	require.NoError(t, b.Commit(context.Background()))
	b.ResetJournal()
	return b
}

func item(id uint64, name string, count int64) *testutil.Item {
	it := testutil.NewItem(name, count)
	it.SetID(id)
	return it
}

func TestVisit_RequiresOpen(t *testing.T) {
	b := New()
	err := b.Visit(context.Background(), action.Action{Kind: action.Create, Type: "item"}, nil)
	assert.ErrorIs(t, err, backend.ErrClosed)
}

func TestCommit_MakesVisitsDurable(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)

	require.NoError(t, b.Visit(ctx, action.Action{Kind: action.Insert, ID: 1, Type: "item"}, item(1, "a", 1)))
	require.NoError(t, b.Visit(ctx, action.Action{Kind: action.Insert, ID: 2, Type: "item"}, item(2, "b", 2)))
	assert.Empty(t, b.IDs("item"), "nothing durable before commit")
	assert.True(t, b.Pending())

	require.NoError(t, b.Commit(ctx))
	assert.Equal(t, []uint64{1, 2}, b.IDs("item"))
	assert.False(t, b.Pending())

	got := testutil.NewItem("", 0)
	ok, err := b.Row("item", 2, got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got.Name.String())
	assert.Equal(t, uint64(2), got.ID())
}

func TestRollback_DiscardsVisits(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	require.NoError(t, b.Visit(ctx, action.Action{Kind: action.Insert, ID: 1, Type: "item"}, item(1, "a", 1)))
	require.NoError(t, b.Commit(ctx))

	require.NoError(t, b.Visit(ctx, action.Action{Kind: action.Delete, ID: 1, Type: "item"}, nil))
	require.NoError(t, b.Rollback(ctx))

	assert.Equal(t, []uint64{1}, b.IDs("item"))
	assert.Equal(t, 1, b.Rollbacks())
}

func TestCommitRollback_NoPendingWork(t *testing.T) {
	b := openBackend(t)
	commits := b.Commits()

	require.NoError(t, b.Commit(context.Background()))
	require.NoError(t, b.Rollback(context.Background()))
	assert.Equal(t, commits, b.Commits())
	assert.Equal(t, 0, b.Rollbacks())
}

func TestVisit_MissingTable(t *testing.T) {
	b := openBackend(t)
	err := b.Visit(context.Background(), action.Action{Kind: action.Insert, ID: 1, Type: "album"}, testutil.NewAlbum("a"))
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	require.NoError(t, b.Visit(ctx, action.Action{Kind: action.Drop, Type: "item"}, nil))
	require.NoError(t, b.Commit(ctx))
	assert.False(t, b.HasTable("item"))
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	boom := errors.New("disk full")

	b.FailOn(action.Update, boom)
	err := b.Visit(ctx, action.Action{Kind: action.Update, ID: 1, Type: "item"}, item(1, "a", 1))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.Journal(), "failed visits are not journaled")

	b.FailCommit(nil)
	assert.ErrorIs(t, b.Commit(ctx), ErrInjected)

	b.Heal()
	require.NoError(t, b.Visit(ctx, action.Action{Kind: action.Update, ID: 1, Type: "item"}, item(1, "a", 1)))
	require.NoError(t, b.Commit(ctx))
}

func TestLoad_AscendingIDs(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	for _, id := range []uint64{3, 1, 2} {
		require.NoError(t, b.Visit(ctx, action.Action{Kind: action.Insert, ID: id, Type: "item"}, item(id, "x", int64(id))))
	}
	require.NoError(t, b.Commit(ctx))

	s := testutil.NewStore(t)
	proto, _ := s.Prototype("item")
	var ids []uint64
	err := b.Load(ctx, proto, func(o object.Object) error {
		ids = append(ids, o.ID())
		assert.Equal(t, int64(o.ID()), o.(*testutil.Item).Count)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	albums, _ := s.Prototype("album")
	assert.ErrorIs(t, b.Load(ctx, albums, func(object.Object) error { return nil }), ErrNoTable)
}
