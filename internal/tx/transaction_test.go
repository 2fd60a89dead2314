package tx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/backend/memory"
	"github.com/zhanjx1314/oos/internal/object"
	"github.com/zhanjx1314/oos/internal/testutil"
	"github.com/zhanjx1314/oos/internal/tx"
)

// newSession returns an open session over the test prototypes with every
// table created and an empty journal.
func newSession(t *testing.T, opts ...tx.Option) (*tx.Session, *memory.Backend) {
	t.Helper()
	be := memory.New()
	s := tx.NewSession(testutil.NewStore(t), be, opts...)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Create(ctx))
	be.ResetJournal()
	return s, be
}

func begin(t *testing.T, s *tx.Session) *tx.Transaction {
	t.Helper()
	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	return txn
}

// seed inserts objects in a committed transaction.
func seed(t *testing.T, s *tx.Session, objs ...object.Object) {
	t.Helper()
	txn := begin(t, s)
	for _, o := range objs {
		testutil.MustInsert(t, s.Store(), o)
	}
	require.NoError(t, txn.Commit(context.Background()))
}

func setCount(t *testing.T, s *tx.Session, id uint64, n int64) {
	t.Helper()
	require.NoError(t, s.Store().Modify(id, func(o object.Object) error {
		o.(*testutil.Item).Count = n
		return nil
	}))
}

func count(t *testing.T, s *tx.Session, id uint64) int64 {
	t.Helper()
	o, ok := s.Store().Lookup(id)
	require.True(t, ok, "object %d not in store", id)
	return o.(*testutil.Item).Count
}

func TestBegin_AssignsMonotonicIDs(t *testing.T) {
	counter := tx.NewCounterAt(10)
	s1, _ := newSession(t, tx.WithCounter(counter))
	s2, _ := newSession(t, tx.WithCounter(counter))

	a := begin(t, s1)
	b := begin(t, s2)
	c := begin(t, s1)

	assert.Equal(t, int64(11), a.ID())
	assert.Equal(t, int64(12), b.ID())
	assert.Equal(t, int64(13), c.ID())
	assert.Same(t, c, s1.Current())
	assert.Equal(t, 2, s1.Depth())
}

func TestBegin_Twice(t *testing.T) {
	s, _ := newSession(t)
	txn := begin(t, s)

	err := txn.Begin(context.Background())
	assert.True(t, tx.IsOrderingViolation(err))
	assert.Equal(t, 1, s.Depth())
}

func TestBegin_AfterCommitCannotReuse(t *testing.T) {
	s, _ := newSession(t)
	txn := begin(t, s)
	require.NoError(t, txn.Commit(context.Background()))

	err := txn.Begin(context.Background())
	assert.True(t, tx.IsOrderingViolation(err))
	assert.Equal(t, tx.StateCommitted, txn.State())
}

func TestCommit_NotBegun(t *testing.T) {
	s, _ := newSession(t)
	txn := tx.New(s)

	assert.Equal(t, tx.StateCreated, txn.State())
	assert.True(t, tx.IsOrderingViolation(txn.Commit(context.Background())))
	assert.True(t, tx.IsOrderingViolation(txn.Rollback(context.Background())))
}

func TestCommit_VisitsInLogOrder(t *testing.T) {
	ctx := context.Background()
	s, be := newSession(t)
	seed(t, s, testutil.NewItem("keep", 1), testutil.NewItem("gone", 2))
	be.ResetJournal()

	txn := begin(t, s)
	setCount(t, s, 1, 10)
	testutil.MustInsert(t, s.Store(), testutil.NewItem("new", 3))
	require.NoError(t, s.Store().Remove(2))
	setCount(t, s, 1, 11)

	require.Equal(t, []action.Action{
		{Kind: action.Update, ID: 1, Type: "item", Rank: 1},
		{Kind: action.Insert, ID: 3, Type: "item", Rank: 3},
		{Kind: action.Delete, ID: 2, Type: "item", Rank: 2},
	}, txn.Actions())

	require.NoError(t, txn.Commit(ctx))
	assert.Empty(t, txn.Actions(), "log discarded")
	assert.Equal(t, []action.Action{
		{Kind: action.Update, ID: 1, Type: "item", Rank: 1},
		{Kind: action.Insert, ID: 3, Type: "item", Rank: 3},
		{Kind: action.Delete, ID: 2, Type: "item", Rank: 2},
	}, be.Journal())
	assert.Equal(t, []uint64{1, 3}, be.IDs("item"))
	assert.Equal(t, tx.StateCommitted, txn.State())
	assert.Nil(t, s.Current())

	stored := testutil.NewItem("", 0)
	_, err := be.Row("item", 1, stored)
	require.NoError(t, err)
	assert.Equal(t, int64(11), stored.Count, "commit writes the live state")
}

func TestRollback_RestoresPreBeginState(t *testing.T) {
	ctx := context.Background()
	s, be := newSession(t)
	artist := &testutil.Artist{Name: "Nina"}
	album := testutil.NewAlbum("Pastel Blues")
	seed(t, s, testutil.NewItem("a", 1), testutil.NewItem("b", 2), artist)
	album.Artist = object.RefTo(artist.ID())
	seed(t, s, album)
	be.ResetJournal()

	txn := begin(t, s)
	setCount(t, s, 1, 100)
	testutil.MustInsert(t, s.Store(), testutil.NewItem("c", 3))
	require.NoError(t, s.Store().Remove(2))
	require.NoError(t, s.Store().Remove(album.ID()))
	require.NoError(t, s.Store().Remove(artist.ID()))

	require.NoError(t, txn.Rollback(ctx))

	assert.Equal(t, int64(1), count(t, s, 1))
	assert.Equal(t, int64(2), count(t, s, 2))
	_, ok := s.Store().Lookup(5)
	assert.False(t, ok, "inserted object removed")
	assert.Equal(t, []uint64{1, 2}, itemIDs(s))

	ap, ok := s.Store().Proxy(album.ID())
	require.True(t, ok)
	restored := ap.Object().(*testutil.Album)
	assert.Equal(t, artist.ID(), restored.Artist.ID)
	artistProxy, ok := s.Store().Proxy(artist.ID())
	require.True(t, ok)
	assert.Equal(t, 1, artistProxy.RefCount(), "reference from restored album counted")

	assert.Empty(t, be.Journal(), "rollback never visits the backend")
	assert.Equal(t, tx.StateRolledBack, txn.State())
	assert.Equal(t, 0, txn.Len())
	assert.Equal(t, 0, txn.Backups())
	assert.Nil(t, s.Current())
}

func TestRollback_RestoresSequenceOrderOfPresetIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)
	five := testutil.NewItem("five", 5)
	five.SetID(5)
	two := testutil.NewItem("two", 2)
	two.SetID(2)
	nine := testutil.NewItem("nine", 9)
	nine.SetID(9)
	seed(t, s, five, two, nine)
	require.Equal(t, []uint64{5, 2, 9}, itemIDs(s))

	txn := begin(t, s)
	require.NoError(t, s.Store().Remove(5))
	require.NoError(t, s.Store().Remove(9))
	setCount(t, s, 2, 20)
	require.NoError(t, s.Store().Remove(2))
	require.NoError(t, txn.Rollback(ctx))

	assert.Equal(t, []uint64{5, 2, 9}, itemIDs(s))

	testutil.MustInsert(t, s.Store(), testutil.NewItem("new", 0))
	assert.Equal(t, []uint64{5, 2, 9, 10}, itemIDs(s), "later inserts still append")
}

func itemIDs(s *tx.Session) []uint64 {
	var ids []uint64
	for _, o := range s.Store().Objects("item") {
		ids = append(ids, o.ID())
	}
	return ids
}

func TestInsertThenDelete_CancelsOut(t *testing.T) {
	ctx := context.Background()
	s, be := newSession(t)
	txn := begin(t, s)

	p := testutil.MustInsert(t, s.Store(), testutil.NewItem("tmp", 1))
	require.NoError(t, s.Store().Remove(p.ID()))

	assert.Equal(t, 0, txn.Len())
	assert.Equal(t, 0, txn.Backups())

	require.NoError(t, txn.Rollback(ctx))
	assert.Equal(t, 0, s.Store().Len())
	assert.Empty(t, be.Journal())
}

func TestInsertUpdateDelete_CancelsOut(t *testing.T) {
	s, _ := newSession(t)
	txn := begin(t, s)

	p := testutil.MustInsert(t, s.Store(), testutil.NewItem("tmp", 1))
	setCount(t, s, p.ID(), 2)
	require.NoError(t, s.Store().Remove(p.ID()))

	assert.Equal(t, 0, txn.Len())
	assert.Equal(t, 0, txn.Backups())
}

func TestRepeatedUpdates_OneBackup(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)
	seed(t, s, testutil.NewItem("a", 1))

	txn := begin(t, s)
	for i := int64(2); i <= 6; i++ {
		setCount(t, s, 1, i)
	}

	assert.Equal(t, 1, txn.Len())
	assert.Equal(t, 1, txn.Backups())

	require.NoError(t, txn.Rollback(ctx))
	assert.Equal(t, int64(1), count(t, s, 1), "first backup wins")
}

func TestUpdateThenDelete_BecomesDelete(t *testing.T) {
	ctx := context.Background()
	s, be := newSession(t)
	seed(t, s, testutil.NewItem("a", 1))

	txn := begin(t, s)
	setCount(t, s, 1, 5)
	require.NoError(t, s.Store().Remove(1))

	assert.Equal(t, []action.Action{{Kind: action.Delete, ID: 1, Type: "item", Rank: 1}}, txn.Actions())
	assert.Equal(t, 1, txn.Backups())

	require.NoError(t, txn.Rollback(ctx))
	assert.Equal(t, int64(1), count(t, s, 1), "resurrected with the pre-update state")
	assert.Equal(t, []uint64{1}, be.IDs("item"))
}

func TestOrdering_CommitAfterRollback(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)

	txn := begin(t, s)
	require.NoError(t, txn.Rollback(ctx))
	assert.True(t, tx.IsOrderingViolation(txn.Commit(ctx)))
	assert.True(t, tx.IsOrderingViolation(txn.Rollback(ctx)))

	txn = begin(t, s)
	require.NoError(t, txn.Commit(ctx))
	assert.True(t, tx.IsOrderingViolation(txn.Rollback(ctx)))
	assert.True(t, tx.IsOrderingViolation(txn.Commit(ctx)))
}

func TestOrdering_OuterCannotResolveFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)
	seed(t, s, testutil.NewItem("a", 1))

	outer := begin(t, s)
	setCount(t, s, 1, 2)
	inner := begin(t, s)

	err := outer.Commit(ctx)
	require.True(t, tx.IsOrderingViolation(err))
	assert.Equal(t, 1, outer.Len(), "log untouched")
	assert.True(t, tx.IsOrderingViolation(outer.Rollback(ctx)))
	assert.Equal(t, int64(2), count(t, s, 1))
	assert.Same(t, inner, s.Current())
	assert.Equal(t, tx.StateActive, outer.State())
}

func TestNested_RollbackInnerKeepsOuter(t *testing.T) {
	ctx := context.Background()
	s, be := newSession(t)
	seed(t, s, testutil.NewItem("a", 1), testutil.NewItem("b", 1))
	be.ResetJournal()

	outer := begin(t, s)
	setCount(t, s, 1, 2)

	inner := begin(t, s)
	setCount(t, s, 2, 7)
	testutil.MustInsert(t, s.Store(), testutil.NewItem("c", 1))
	assert.Equal(t, 1, outer.Len(), "inner mutations do not reach the outer log")

	require.NoError(t, inner.Rollback(ctx))
	assert.Same(t, outer, s.Current())
	assert.Equal(t, tx.StateActive, outer.State())
	assert.Equal(t, int64(2), count(t, s, 1), "outer mutation untouched")
	assert.Equal(t, int64(1), count(t, s, 2))
	assert.Equal(t, 2, s.Store().Len())

	require.NoError(t, outer.Commit(ctx))
	assert.Equal(t, []action.Action{{Kind: action.Update, ID: 1, Type: "item", Rank: 1}}, be.Journal())
	assert.Equal(t, 0, s.Depth())
}

func TestNested_MultiLevelRollback(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)
	seed(t, s, testutil.NewItem("A", 1))

	outer := begin(t, s)
	setCount(t, s, 1, 2)
	inner := begin(t, s)
	setCount(t, s, 1, 3)

	require.NoError(t, inner.Rollback(ctx))
	assert.Equal(t, int64(2), count(t, s, 1))

	require.NoError(t, outer.Rollback(ctx))
	assert.Equal(t, int64(1), count(t, s, 1))
}

func TestOnInsert_IdentityConflict(t *testing.T) {
	s, _ := newSession(t)
	txn := begin(t, s)
	p := testutil.MustInsert(t, s.Store(), testutil.NewItem("a", 1))
	require.Equal(t, 1, txn.Len())

	err := txn.OnInsert(p)
	require.True(t, tx.IsIdentityConflict(err))
	assert.Equal(t, 1, txn.Len())

	var te *tx.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, p.ID(), te.ObjectID)
	assert.Equal(t, txn.ID(), te.TxID)
}

func TestOnInsert_ReinsertDeletedIDConflicts(t *testing.T) {
	s, _ := newSession(t)
	seed(t, s, testutil.NewItem("a", 1))
	txn := begin(t, s)
	require.NoError(t, s.Store().Remove(1))

	again := testutil.NewItem("a", 1)
	again.SetID(1)
	_, err := s.Store().Insert(again)
	require.True(t, tx.IsIdentityConflict(err))
	assert.Equal(t, 1, txn.Len())
	_, ok := s.Store().Lookup(1)
	assert.False(t, ok, "store undid the rejected insert")
}

func TestHooks_WithoutTransactionAreNotLogged(t *testing.T) {
	s, be := newSession(t)
	testutil.MustInsert(t, s.Store(), testutil.NewItem("a", 1))
	setCount(t, s, 1, 2)
	require.NoError(t, s.Store().Remove(1))

	assert.Empty(t, be.Journal())
}

func TestHooks_RejectedOnceResolved(t *testing.T) {
	s, _ := newSession(t)
	txn := begin(t, s)
	p := testutil.MustInsert(t, s.Store(), testutil.NewItem("a", 1))
	require.NoError(t, txn.Commit(context.Background()))

	assert.True(t, tx.IsOrderingViolation(txn.OnUpdate(p)))
	assert.True(t, tx.IsOrderingViolation(txn.OnDelete(p)))
}

func TestCommit_BackendFailureKeepsLog(t *testing.T) {
	ctx := context.Background()
	s, be := newSession(t)
	be.FailOn(action.Insert, nil)

	txn := begin(t, s)
	testutil.MustInsert(t, s.Store(), testutil.NewItem("a", 1))

	err := txn.Commit(ctx)
	require.True(t, tx.IsBackendFailure(err))
	assert.ErrorIs(t, err, memory.ErrInjected)
	assert.Equal(t, tx.StateFailed, txn.State())
	assert.Equal(t, 1, txn.Len(), "log kept for rollback")
	assert.Same(t, txn, s.Current())

	_, err = s.Store().Insert(testutil.NewItem("b", 2))
	assert.True(t, tx.IsOrderingViolation(err), "failed transaction takes no more mutations")
	assert.True(t, tx.IsOrderingViolation(txn.Commit(ctx)), "retry is not allowed")

	require.NoError(t, txn.Rollback(ctx))
	assert.Equal(t, 0, s.Store().Len())
	assert.Equal(t, tx.StateRolledBack, txn.State())
	assert.Empty(t, be.IDs("item"))
}

func TestCommit_BackendCommitFailureDiscardsPendingOnRollback(t *testing.T) {
	ctx := context.Background()
	s, be := newSession(t)
	seed(t, s, testutil.NewItem("a", 1))
	be.FailCommit(nil)

	txn := begin(t, s)
	setCount(t, s, 1, 9)
	require.True(t, tx.IsBackendFailure(txn.Commit(ctx)))
	assert.True(t, be.Pending())

	be.Heal()
	require.NoError(t, txn.Rollback(ctx))
	assert.False(t, be.Pending())
	assert.Equal(t, int64(1), count(t, s, 1))

	stored := testutil.NewItem("", 0)
	_, err := be.Row("item", 1, stored)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Count)
}

// failingRollback is a memory backend whose Rollback always fails.
type failingRollback struct {
	*memory.Backend
}

func (failingRollback) Rollback(context.Context) error { return errors.New("connection lost") }

func TestRollback_BackendFailureStillRestores(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	be := failingRollback{memory.New()}
	s := tx.NewSession(store, be)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Create(ctx))
	seed(t, s, testutil.NewItem("a", 1))

	txn := begin(t, s)
	setCount(t, s, 1, 5)

	err := txn.Rollback(ctx)
	require.True(t, tx.IsBackendFailure(err))
	assert.Equal(t, int64(1), count(t, s, 1))
	assert.Equal(t, tx.StateRolledBack, txn.State())
	assert.Nil(t, s.Current())
}

// skewed writes one field name and reads another, so its snapshots never
// restore.
type skewed struct {
	id uint64
	N  int64
}

func (o *skewed) ID() uint64                        { return o.id }
func (o *skewed) SetID(id uint64)                   { o.id = id }
func (o *skewed) WriteFields(w object.FieldWriter) { w.WriteInt("a", o.N) }
func (o *skewed) ReadFields(r object.FieldReader)  { r.ReadInt("b", &o.N) }

func TestRollback_SerializationFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)
	_, err := s.Store().Register("skewed", func() object.Object { return &skewed{} })
	require.NoError(t, err)
	p := testutil.MustInsert(t, s.Store(), &skewed{N: 1})
	seed(t, s, testutil.NewItem("a", 1))

	txn := begin(t, s)
	require.NoError(t, s.Store().Modify(p.ID(), func(o object.Object) error {
		o.(*skewed).N = 2
		return nil
	}))
	setCount(t, s, 2, 7)

	err = txn.Rollback(ctx)
	require.True(t, tx.IsSerializationFailure(err))
	assert.Equal(t, int64(1), count(t, s, 2), "other objects restored regardless")
	assert.Nil(t, s.Current())
}

// halfSkewed reads its first field back correctly and fails on the second.
type halfSkewed struct {
	id   uint64
	A, B int64
}

func (o *halfSkewed) ID() uint64      { return o.id }
func (o *halfSkewed) SetID(id uint64) { o.id = id }
func (o *halfSkewed) WriteFields(w object.FieldWriter) {
	w.WriteInt("a", o.A)
	w.WriteInt("b", o.B)
}
func (o *halfSkewed) ReadFields(r object.FieldReader) {
	r.ReadInt("a", &o.A)
	r.ReadInt("c", &o.B)
}

func TestRollback_FailedRestoreLeavesObjectWhole(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)
	_, err := s.Store().Register("half", func() object.Object { return &halfSkewed{} })
	require.NoError(t, err)
	p := testutil.MustInsert(t, s.Store(), &halfSkewed{A: 1, B: 1})

	txn := begin(t, s)
	require.NoError(t, s.Store().Modify(p.ID(), func(o object.Object) error {
		o.(*halfSkewed).A, o.(*halfSkewed).B = 2, 2
		return nil
	}))

	err = txn.Rollback(ctx)
	require.True(t, tx.IsSerializationFailure(err))
	live := p.Object().(*halfSkewed)
	assert.Equal(t, int64(2), live.A, "no field is restored from a snapshot that fails to decode")
	assert.Equal(t, int64(2), live.B)
}

func TestScenario_NestedFieldHistory(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)

	a := testutil.NewItem("A", 1)
	a.SetID(1)
	seed(t, s, a)

	txn := begin(t, s)
	setCount(t, s, 1, 2)
	inner := begin(t, s)
	setCount(t, s, 1, 3)

	require.NoError(t, inner.Rollback(ctx))
	assert.Equal(t, int64(2), count(t, s, 1))
	require.NoError(t, txn.Rollback(ctx))
	assert.Equal(t, int64(1), count(t, s, 1))
}

func TestRollback_ContainersRestored(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t)
	t1 := &testutil.Track{Title: "one"}
	t2 := &testutil.Track{Title: "two"}
	seed(t, s, t1, t2)
	album := testutil.NewAlbum("a")
	album.Tracks = object.RefList{object.RefTo(t1.ID()), object.RefTo(t2.ID())}
	seed(t, s, album)

	txn := begin(t, s)
	require.NoError(t, s.Store().Modify(album.ID(), func(o object.Object) error {
		a := o.(*testutil.Album)
		a.Tracks.Remove(t1.ID())
		a.Tags.Add(object.RefTo(t1.ID()))
		return nil
	}))
	require.NoError(t, txn.Rollback(ctx))

	got, _ := s.Store().Lookup(album.ID())
	restored := got.(*testutil.Album)
	assert.Equal(t, []uint64{t1.ID(), t2.ID()}, restored.Tracks.IDs())
	assert.Empty(t, restored.Tags)
	p1, _ := s.Store().Proxy(t1.ID())
	assert.Equal(t, 1, p1.RefCount())
}
