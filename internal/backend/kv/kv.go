// Package kv is the badger storage adapter. An object is stored under
// "o/<prototype>\x00<id>" with its codec snapshot as the value; ids are
// big-endian so that a prefix scan returns them in ascending order. A
// prototype's table exists once its "t/<prototype>" marker is set.
package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/backend"
	"github.com/zhanjx1314/oos/internal/codec"
	"github.com/zhanjx1314/oos/internal/object"
)

// ErrNoTable is returned when a prototype's table was never created.
var ErrNoTable = errors.New("table does not exist")

// Backend is the badger adapter.
type Backend struct {
	opts badger.Options

	db  *badger.DB
	txn *badger.Txn
}

var _ backend.Backend = (*Backend)(nil)

// New returns a closed adapter storing into dir.
func New(dir string) *Backend {
	return &Backend{opts: badger.DefaultOptions(dir).WithLogger(nil)}
}

// NewInMemory returns a closed adapter that keeps everything in memory.
func NewInMemory() *Backend {
	return &Backend{opts: badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)}
}

func tableKey(name string) []byte {
	return append([]byte("t/"), name...)
}

func rowPrefix(name string) []byte {
	p := append([]byte("o/"), name...)
	return append(p, 0)
}

func rowKey(name string, id uint64) []byte {
	return binary.BigEndian.AppendUint64(rowPrefix(name), id)
}

func (b *Backend) Open(context.Context) error {
	db, err := badger.Open(b.opts)
	if err != nil {
		return fmt.Errorf("failed to open badger: %w", err)
	}
	b.db = db
	return nil
}

func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	if b.txn != nil {
		b.txn.Discard()
		b.txn = nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Backend) Visit(_ context.Context, a action.Action, obj object.Object) error {
	if b.db == nil {
		return backend.ErrClosed
	}
	if b.txn == nil {
		b.txn = b.db.NewTransaction(true)
	}

	switch a.Kind {
	case action.Create:
		return b.set(a, tableKey(a.Type), nil)
	case action.Drop:
		return b.drop(a)
	case action.Insert, action.Update:
		if err := b.requireTable(a); err != nil {
			return err
		}
		data, err := codec.Serialize(obj)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		return b.set(a, rowKey(a.Type, a.ID), data)
	case action.Delete:
		if err := b.requireTable(a); err != nil {
			return err
		}
		if err := b.txn.Delete(rowKey(a.Type, a.ID)); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		return nil
	}
	return fmt.Errorf("visit: unknown action kind %s", a.Kind)
}

func (b *Backend) set(a action.Action, key, value []byte) error {
	if err := b.txn.Set(key, value); err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	return nil
}

func (b *Backend) requireTable(a action.Action) error {
	_, err := b.txn.Get(tableKey(a.Type))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w: %q", a, ErrNoTable, a.Type)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	return nil
}

// drop deletes the table marker and every row under the prototype.
func (b *Backend) drop(a action.Action) error {
	prefix := rowPrefix(a.Type)
	var keys [][]byte
	it := b.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	keys = append(keys, tableKey(a.Type))
	for _, k := range keys {
		if err := b.txn.Delete(k); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	return nil
}

func (b *Backend) Commit(context.Context) error {
	if b.txn == nil {
		return nil
	}
	err := b.txn.Commit()
	b.txn = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *Backend) Rollback(context.Context) error {
	if b.txn == nil {
		return nil
	}
	b.txn.Discard()
	b.txn = nil
	return nil
}

func (b *Backend) Load(_ context.Context, proto *object.Prototype, fn func(object.Object) error) error {
	if b.db == nil {
		return backend.ErrClosed
	}
	name := proto.Name()
	return b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(tableKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("load %s: %w", name, ErrNoTable)
			}
			return fmt.Errorf("load %s: %w", name, err)
		}

		prefix := rowPrefix(name)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefix)+8 || !bytes.HasPrefix(key, prefix) {
				continue
			}
			id := binary.BigEndian.Uint64(key[len(prefix):])
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("load %s:%d: %w", name, id, err)
			}
			obj := proto.New()
			if err := codec.Deserialize(data, obj); err != nil {
				return fmt.Errorf("load %s:%d: %w", name, id, err)
			}
			obj.SetID(id)
			if err := fn(obj); err != nil {
				return err
			}
		}
		return nil
	})
}
