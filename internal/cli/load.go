package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhanjx1314/oos/internal/object"
	"github.com/zhanjx1314/oos/internal/schema"
	"github.com/zhanjx1314/oos/internal/trace"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Type string // only print this prototype
}

// LoadResult holds the objects read from a backend, by prototype.
type LoadResult struct {
	Counts  map[string]int              `json:"counts"`
	Objects map[string][]map[string]any `json:"objects"`

	order []string
}

func (r LoadResult) String() string {
	var buf strings.Builder
	for i, name := range r.order {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "%s: %d object(s)", name, r.Counts[name])
		for _, row := range r.Objects[name] {
			line, err := trace.MarshalCanonical(row)
			if err != nil {
				line = []byte(fmt.Sprintf("%v", row))
			}
			fmt.Fprintf(&buf, "\n  %s", line)
		}
	}
	return buf.String()
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <schema>",
		Short: "Read every stored object into a session and print it",
		Long: `Open a session on the selected backend, load the stored objects of
every prototype into the object store and print them in id order.

Example:
  oos load ./schema --backend sqlite --dsn ./library.db
  oos load ./schema --backend badger --dsn ./data --type album --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "only print objects of this prototype")
	return cmd
}

func runLoad(opts *LoadOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, opts.RootOptions, path, cmd.ErrOrStderr())
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

	if opts.Type != "" {
		if _, ok := e.schema.Lookup(opts.Type); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown prototype %q", opts.Type))
		}
	}

	if err := e.session.Load(ctx); err != nil {
		if ferr := formatter.Error(ErrorCodeFor(err), err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "load failed", err)
	}
	e.logger.Info("objects loaded", "objects", e.store.Len())

	return formatter.Success(collect(e.store, e.schema, opts.Type))
}

// collect gathers the live objects of every prototype, or of only one when
// only is set.
func collect(st *object.Store, s *schema.Schema, only string) LoadResult {
	r := LoadResult{
		Counts:  make(map[string]int),
		Objects: make(map[string][]map[string]any),
	}
	for _, p := range s.Prototypes {
		if only != "" && p.Name != only {
			continue
		}
		rows := []map[string]any{}
		for _, obj := range st.Objects(p.Name) {
			row := map[string]any{}
			if rec, ok := obj.(*schema.Record); ok {
				row = rec.Plain()
			}
			row["id"] = obj.ID()
			rows = append(rows, row)
		}
		r.order = append(r.order, p.Name)
		r.Counts[p.Name] = len(rows)
		r.Objects[p.Name] = rows
	}
	return r
}
