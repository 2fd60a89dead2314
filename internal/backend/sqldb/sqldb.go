// Package sqldb is the database/sql storage adapter. Each prototype maps to
// one table with an "id" primary key and one column per field; the pending
// work of a commit runs inside one database transaction.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zhanjx1314/oos/internal/action"
	"github.com/zhanjx1314/oos/internal/backend"
	"github.com/zhanjx1314/oos/internal/object"
)

// ErrNoRow is returned when an update or delete matches no row.
var ErrNoRow = errors.New("no row with this id")

// Backend is the SQL adapter.
type Backend struct {
	dialect Dialect
	dsn     string
	logger  *slog.Logger

	db *sql.DB
	tx *sql.Tx
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger logs every statement at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New returns a closed adapter for dsn.
func New(dialect Dialect, dsn string, opts ...Option) *Backend {
	b := &Backend{dialect: dialect, dsn: dsn}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// Open connects and applies the dialect's connection setup.
func (b *Backend) Open(ctx context.Context) error {
	db, err := sql.Open(b.dialect.Driver, b.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if b.dialect.MaxOpenConns > 0 {
		db.SetMaxOpenConns(b.dialect.MaxOpenConns)
		db.SetMaxIdleConns(b.dialect.MaxOpenConns)
	}
	for _, pragma := range b.dialect.Pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	b.db = db
	return nil
}

// Close discards pending work and closes the connection.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	if b.tx != nil {
		_ = b.tx.Rollback()
		b.tx = nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// DB returns the underlying connection pool, nil when closed.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) Visit(ctx context.Context, a action.Action, obj object.Object) error {
	if b.db == nil {
		return backend.ErrClosed
	}
	if b.tx == nil {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		b.tx = tx
	}

	switch a.Kind {
	case action.Create:
		cols, err := columnsOf(obj)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		return b.exec(ctx, a, b.dialect.createSQL(a.Type, cols))
	case action.Drop:
		return b.exec(ctx, a, b.dialect.dropSQL(a.Type))
	case action.Insert:
		cols, err := columnsOf(obj)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		args := append([]any{int64(a.ID)}, bindValues(cols)...)
		return b.exec(ctx, a, b.dialect.insertSQL(a.Type, cols), args...)
	case action.Update:
		cols, err := columnsOf(obj)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		args := append(bindValues(cols), int64(a.ID))
		return b.execOne(ctx, a, b.dialect.updateSQL(a.Type, cols), args...)
	case action.Delete:
		return b.execOne(ctx, a, b.dialect.deleteSQL(a.Type), int64(a.ID))
	}
	return fmt.Errorf("visit: unknown action kind %s", a.Kind)
}

func (b *Backend) exec(ctx context.Context, a action.Action, query string, args ...any) error {
	_, err := b.run(ctx, a, query, args...)
	return err
}

// execOne fails with ErrNoRow unless exactly one row was affected.
func (b *Backend) execOne(ctx context.Context, a action.Action, query string, args ...any) error {
	res, err := b.run(ctx, a, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", a, ErrNoRow)
	}
	return nil
}

func (b *Backend) run(ctx context.Context, a action.Action, query string, args ...any) (sql.Result, error) {
	b.logger.Debug("exec", "action", a.String(), "sql", query)
	res, err := b.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a, err)
	}
	return res, nil
}

func (b *Backend) Commit(context.Context) error {
	if b.tx == nil {
		return nil
	}
	err := b.tx.Commit()
	b.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *Backend) Rollback(context.Context) error {
	if b.tx == nil {
		return nil
	}
	err := b.tx.Rollback()
	b.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (b *Backend) Load(ctx context.Context, proto *object.Prototype, fn func(object.Object) error) error {
	if b.db == nil {
		return backend.ErrClosed
	}
	cols, err := columnsOf(proto.New())
	if err != nil {
		return fmt.Errorf("load %s: %w", proto.Name(), err)
	}
	rows, err := b.db.QueryContext(ctx, b.dialect.selectSQL(proto.Name(), cols))
	if err != nil {
		return fmt.Errorf("load %s: %w", proto.Name(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		vals := make([]any, len(cols))
		dest := make([]any, 0, len(cols)+1)
		dest = append(dest, &id)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("load %s: %w", proto.Name(), err)
		}

		r := &rowReader{values: make(map[string]any, len(cols))}
		for i, c := range cols {
			r.values[c.name] = vals[i]
		}
		obj := proto.New()
		obj.ReadFields(r)
		if r.err != nil {
			return fmt.Errorf("load %s:%d: %w", proto.Name(), id, r.err)
		}
		obj.SetID(uint64(id))
		if err := fn(obj); err != nil {
			return err
		}
	}
	return rows.Err()
}
