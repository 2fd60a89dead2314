package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zhanjx1314/oos/internal/harness"
	"github.com/zhanjx1314/oos/internal/schema"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Create bool // create the tables before importing
}

// ImportFile is the YAML document read by the import command.
type ImportFile struct {
	Objects []harness.Mutation `yaml:"objects"`
}

// ImportResult reports the objects written by an import.
type ImportResult struct {
	Inserted map[string][]uint64 `json:"inserted"`
	Total    int                 `json:"total"`
	TxID     int64               `json:"tx_id"`
}

func (r ImportResult) String() string {
	return fmt.Sprintf("✓ Imported %d object(s) in transaction %d", r.Total, r.TxID)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <schema> <objects.yaml>",
		Short: "Insert objects from a YAML file in one transaction",
		Long: `Load the stored objects, then insert every object listed in the YAML
file inside a single transaction. Either all objects are committed or none.

The file lists objects by prototype; ids are optional and default to the
next free id:

  objects:
    - type: artist
      id: 1
      fields: { name: Nina Simone }
    - type: album
      fields: { title: Pastel Blues, artist: 1 }

Example:
  oos import ./schema ./objects.yaml --backend sqlite --dsn ./library.db --create`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], args[1], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Create, "create", false, "create the tables before importing")
	return cmd
}

// ReadImportFile parses an import file. Unknown fields are rejected.
func ReadImportFile(path string) (*ImportFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	var f ImportFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i, m := range f.Objects {
		if m.Type == "" {
			return nil, fmt.Errorf("object %d: type is required", i)
		}
	}
	return &f, nil
}

func runImport(opts *ImportOptions, schemaPath, objectsPath string, cmd *cobra.Command) error {
	file, err := ReadImportFile(objectsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid import file", err)
	}

	ctx := cmd.Context()
	e, err := openEnv(ctx, opts.RootOptions, schemaPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
		Session:   e.session.ID(),
	}
	report := func(msg string, err error) error {
		if ferr := formatter.Error(ErrorCodeFor(err), err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, msg, err)
	}

	if opts.Create {
		if err := e.session.Create(ctx); err != nil {
			return report("create failed", err)
		}
	}
	if err := e.session.Load(ctx); err != nil {
		return report("load failed", err)
	}

	result, err := e.importObjects(ctx, file.Objects)
	if err != nil {
		return report("import failed", err)
	}
	e.logger.Info("objects imported", "total", result.Total, "tx", result.TxID)
	return formatter.Success(result)
}

// importObjects inserts objects in one transaction and commits it. On any
// failure the transaction is rolled back and nothing reaches the backend.
func (e *env) importObjects(ctx context.Context, objects []harness.Mutation) (ImportResult, error) {
	result := ImportResult{Inserted: make(map[string][]uint64)}

	txn, err := e.session.Begin(ctx)
	if err != nil {
		return result, err
	}
	result.TxID = txn.ID()

	for i, m := range objects {
		id, err := e.insert(m)
		if err != nil {
			if rerr := txn.Rollback(ctx); rerr != nil {
				e.logger.Error("rollback failed", "error", rerr)
			}
			return result, fmt.Errorf("object %d (%s): %w", i, m.Type, err)
		}
		result.Inserted[m.Type] = append(result.Inserted[m.Type], id)
		result.Total++
	}

	if err := txn.Commit(ctx); err != nil {
		if rerr := txn.Rollback(ctx); rerr != nil {
			e.logger.Error("rollback failed", "error", rerr)
		}
		return result, err
	}
	return result, nil
}

func (e *env) insert(m harness.Mutation) (uint64, error) {
	proto, ok := e.schema.Lookup(m.Type)
	if !ok {
		return 0, fmt.Errorf("unknown prototype %q", m.Type)
	}
	rec := schema.NewRecord(proto)
	rec.SetID(m.ID)

	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := rec.Set(name, m.Fields[name]); err != nil {
			return 0, err
		}
	}

	p, err := e.store.Insert(rec)
	if err != nil {
		return 0, err
	}
	return p.ID(), nil
}
