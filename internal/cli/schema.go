package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SchemaResult reports a schema operation.
type SchemaResult struct {
	Action     string   `json:"action"`
	Backend    string   `json:"backend"`
	Prototypes []string `json:"prototypes"`
}

func (r SchemaResult) String() string {
	verb := "Created"
	if r.Action == "drop" {
		verb = "Dropped"
	}
	return fmt.Sprintf("✓ %s %d table(s) on %s: %v", verb, len(r.Prototypes), r.Backend, r.Prototypes)
}

// NewSchemaCommand creates the schema command and its create and drop
// subcommands.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create or drop backend storage for a schema",
	}
	cmd.AddCommand(newSchemaActionCommand(rootOpts, "create",
		"Create the storage of every prototype, in declaration order"))
	cmd.AddCommand(newSchemaActionCommand(rootOpts, "drop",
		"Drop the storage of every prototype, in reverse declaration order"))
	return cmd
}

func newSchemaActionCommand(rootOpts *RootOptions, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <schema>",
		Short: short,
		Example: fmt.Sprintf(`  oos schema %s ./schema --backend sqlite --dsn ./library.db
  oos schema %s ./schema --backend postgres --dsn "postgres://localhost/library?sslmode=disable"`, action, action),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, action, args[0], cmd)
		},
	}
}

func runSchema(opts *RootOptions, action, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, opts, path, cmd.ErrOrStderr())
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

	if action == "drop" {
		err = e.session.Drop(ctx)
	} else {
		err = e.session.Create(ctx)
	}
	if err != nil {
		if ferr := formatter.Error(ErrorCodeFor(err), err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("schema %s failed", action), err)
	}

	names := make([]string, 0, len(e.schema.Prototypes))
	for _, p := range e.schema.Prototypes {
		names = append(names, p.Name)
	}
	e.logger.Info("schema applied", "action", action, "prototypes", len(names))
	return formatter.Success(SchemaResult{Action: action, Backend: opts.Backend, Prototypes: names})
}
