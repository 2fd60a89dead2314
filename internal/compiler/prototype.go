// Package compiler turns CUE prototype declarations into schema.Prototypes.
//
// A schema file declares prototypes under the top-level "prototype" struct,
// one string-typed field per object field:
//
//	prototype: artist: {
//		name: "varchar(64)"
//	}
//	prototype: album: {
//		title:  "string"
//		artist: "ref(artist)"
//		tracks: "list(track)"
//	}
//
// Field order follows the declaration order of the CUE struct.
package compiler

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/zhanjx1314/oos/internal/schema"
)

// CompilePrototype parses the CUE struct of one prototype. The prototype is
// named after the last selector of the value's path.
func CompilePrototype(v cue.Value) (*schema.Prototype, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &schema.Prototype{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		p.Name = labels[len(labels)-1].String()
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   "prototype." + p.Name,
			Message: "prototype must be a struct of field declarations",
			Pos:     v.Pos(),
		}
	}
	for iter.Next() {
		name := iter.Label()
		fv := iter.Value()
		decl, err := fv.String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.%s", p.Name, name),
				Message: "field type must be a string such as \"int\" or \"ref(album)\"",
				Pos:     fv.Pos(),
			}
		}
		f, err := schema.ParseField(name, decl)
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.%s", p.Name, name),
				Message: err.Error(),
				Pos:     fv.Pos(),
			}
		}
		p.Fields = append(p.Fields, f)
	}
	return p, nil
}

// Compile parses every prototype under the "prototype" struct of v and
// validates the result as a whole. All errors found are joined.
func Compile(v cue.Value) (*schema.Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	protos := v.LookupPath(cue.ParsePath("prototype"))
	if !protos.Exists() {
		return nil, &CompileError{Field: "prototype", Message: "no prototypes declared", Pos: v.Pos()}
	}
	iter, err := protos.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	s := &schema.Schema{}
	var errs []error
	for iter.Next() {
		p, err := CompilePrototype(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Prototypes = append(s.Prototypes, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(s.Prototypes) == 0 {
		return nil, &CompileError{Field: "prototype", Message: "no prototypes declared", Pos: protos.Pos()}
	}

	for _, verr := range s.Validate() {
		errs = append(errs, &CompileError{Field: "schema", Message: verr.Error()})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
