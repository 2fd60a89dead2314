// Package backend defines the storage adapter contract.
//
// A Backend turns logged actions into storage statements. The transaction
// layer visits each action at most once, in log order, while committing;
// the adapter dispatches on the action kind and binds the object's fields.
// Pending work starts with the first Visit and ends with Commit or Rollback.
//
// Adapters:
//   - memory: in-process tables of snapshots, with failure injection
//   - sqldb: database/sql with sqlite3 or postgres dialects
//   - kv: badger key/value store
package backend

import (
	"context"
	"errors"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/object"
)

// ErrClosed is returned by adapters that are used before Open or after Close.
var ErrClosed = errors.New("backend is not open")

// Backend is a storage adapter.
type Backend interface {
	// Open connects to the storage.
	Open(ctx context.Context) error

	// Close releases the connection, discarding pending work.
	Close() error

	// Visit performs the storage operation for one action. obj is the live
	// object for insert and update, a sample of the prototype for create and
	// drop, and nil for delete.
	Visit(ctx context.Context, a action.Action, obj object.Object) error

	// Commit makes the visited actions durable. No-op without pending work.
	Commit(ctx context.Context) error

	// Rollback discards the visited actions. No-op without pending work.
	Rollback(ctx context.Context) error

	// Load reads every stored object of the prototype in ascending id order.
	// fn receives a new object from the prototype with its id and fields set.
	Load(ctx context.Context, proto *object.Prototype, fn func(object.Object) error) error
}
