package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhanjx1314/oos/internal/backend"
	"github.com/zhanjx1314/oos/internal/backend/kv"
	"github.com/zhanjx1314/oos/internal/backend/memory"
	"github.com/zhanjx1314/oos/internal/backend/sqldb"
	"github.com/zhanjx1314/oos/internal/compiler"
	"github.com/zhanjx1314/oos/internal/object"
	"github.com/zhanjx1314/oos/internal/schema"
	"github.com/zhanjx1314/oos/internal/tx"
)

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// openBackend builds the adapter selected by --backend. The adapter is not
// opened yet.
func openBackend(opts *RootOptions, logger *slog.Logger) (backend.Backend, error) {
	switch opts.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite", "postgres":
		if opts.DSN == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--dsn is required for the %s backend", opts.Backend))
		}
		dialect, err := sqldb.DialectFor(opts.Backend)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid backend", err)
		}
		return sqldb.New(dialect, opts.DSN, sqldb.WithLogger(logger)), nil
	case "badger":
		if opts.DSN == "" {
			return kv.NewInMemory(), nil
		}
		return kv.New(opts.DSN), nil
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid backend %q", opts.Backend))
}

// env is everything a storage command works with: the compiled schema, a
// store holding its prototypes and an open session on the chosen backend.
type env struct {
	schema   *schema.Schema
	store    *object.Store
	session  *tx.Session
	logger   *slog.Logger
	registry *prometheus.Registry
}

// openEnv compiles the schema at schemaPath and opens a session on the
// backend selected by opts. Callers must call close.
func openEnv(ctx context.Context, opts *RootOptions, schemaPath string, logw io.Writer) (*env, error) {
	logger := newLogger(logw, opts.Verbose)

	s, err := compiler.Load(schemaPath)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to compile schema", err)
	}
	st := object.NewStore()
	if err := s.Register(st); err != nil {
		return nil, WrapExitError(ExitFailure, "failed to register prototypes", err)
	}

	be, err := openBackend(opts, logger)
	if err != nil {
		return nil, err
	}

	session, reg, err := startSession(ctx, st, be, logger)
	if err != nil {
		return nil, err
	}
	logger = logger.With("session", session.ID())
	return &env{schema: s, store: st, session: session, logger: logger, registry: reg}, nil
}

// startSession opens a session over be. The backend is closed again when
// it fails to open.
func startSession(ctx context.Context, st *object.Store, be backend.Backend, logger *slog.Logger) (*tx.Session, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	session := tx.NewSession(st, be,
		tx.WithLogger(logger),
		tx.WithMetrics(tx.NewMetrics(reg)),
	)

	logger.Debug("opening backend", "session", session.ID())
	if err := session.Open(ctx); err != nil {
		if cerr := be.Close(); cerr != nil {
			logger.Debug("closing backend after failed open", "error", cerr)
		}
		return nil, nil, WrapExitError(ExitCommandError, "failed to open backend", err)
	}
	return session, reg, nil
}

func (e *env) close() {
	e.logMetrics()
	if err := e.session.Close(); err != nil {
		e.logger.Error("error closing session", "error", err)
	}
}

// logMetrics writes every non-zero counter at debug level.
func (e *env) logMetrics() {
	families, err := e.registry.Gather()
	if err != nil {
		e.logger.Debug("gathering metrics failed", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			attrs := []any{"metric", mf.GetName(), "value", v}
			for _, l := range m.GetLabel() {
				attrs = append(attrs, l.GetName(), l.GetValue())
			}
			e.logger.Debug("metric", attrs...)
		}
	}
}
