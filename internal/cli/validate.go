package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhanjx1314/oos/internal/compiler"
	"github.com/zhanjx1314/oos/internal/schema"
)

// ValidationError is one problem found in a schema.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Prototypes []PrototypeInfo   `json:"prototypes,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

// PrototypeInfo summarizes a compiled prototype.
type PrototypeInfo struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

func (r ValidationResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "✓ Schema valid: %d prototype(s)", len(r.Prototypes))
	for _, p := range r.Prototypes {
		fmt.Fprintf(&buf, "\n  %s { %s }", p.Name, strings.Join(p.Fields, ", "))
	}
	return buf.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema>",
		Short: "Validate a CUE prototype schema",
		Long: `Compile a CUE schema file or package directory and check its
prototypes: field kinds, duplicate names and reference targets.

Example:
  oos validate ./schema
  oos validate ./schema/library.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(path); err != nil {
		if err := formatter.Error(ErrCodeNotFound, fmt.Sprintf("schema not found: %s", path), nil); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("schema not found: %s", path))
	}

	formatter.VerboseLog("Compiling %s", path)
	s, err := compiler.Load(path)
	if err != nil {
		verrs := validationErrors(err)
		if opts.Format == "json" {
			if err := formatter.Error(ErrCodeSchema, "schema validation failed", ValidationResult{Errors: verrs}); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✗ Schema invalid: %d error(s)\n", len(verrs))
			for _, e := range verrs {
				if e.Line > 0 {
					fmt.Fprintf(w, "  line %d: %s: %s\n", e.Line, e.Field, e.Message)
				} else if e.Field != "" {
					fmt.Fprintf(w, "  %s: %s\n", e.Field, e.Message)
				} else {
					fmt.Fprintf(w, "  %s\n", e.Message)
				}
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(verrs)))
	}

	return formatter.Success(ValidationResult{Valid: true, Prototypes: describe(s)})
}

// validationErrors flattens the errors joined by the compiler.
func validationErrors(err error) []ValidationError {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		var cErr *compiler.CompileError
		if errors.As(e, &cErr) {
			ve := ValidationError{Field: cErr.Field, Message: cErr.Message}
			if cErr.Pos.IsValid() {
				ve.Line = cErr.Pos.Line()
			}
			out = append(out, ve)
			continue
		}
		out = append(out, ValidationError{Message: e.Error()})
	}
	return out
}

func describe(s *schema.Schema) []PrototypeInfo {
	out := make([]PrototypeInfo, 0, len(s.Prototypes))
	for _, p := range s.Prototypes {
		info := PrototypeInfo{Name: p.Name, Fields: make([]string, 0, len(p.Fields))}
		for _, f := range p.Fields {
			info.Fields = append(info.Fields, f.Name+" "+f.Type())
		}
		out = append(out, info)
	}
	return out
}
