// Package schema describes prototypes declared in data rather than Go code.
//
// A Prototype is a named, ordered list of fields. Record is the object type
// that carries the values of one prototype, so a store can be populated from
// CUE schema files and YAML scenarios without generated code.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zhanjx1314/oos/internal/object"
)

var (
	// ErrUnknownField is returned for field names the prototype does not declare.
	ErrUnknownField = errors.New("unknown field")

	// ErrFieldType is returned when a value cannot be stored in a field.
	ErrFieldType = errors.New("value does not fit field")
)

// Kind is the type of a field.
type Kind int

const (
	Int Kind = iota + 1
	Uint
	Float
	Bool
	String
	VarChar
	Ref
	List
	Set
)

var kindNames = map[Kind]string{
	Int:     "int",
	Uint:    "uint",
	Float:   "float",
	Bool:    "bool",
	String:  "string",
	VarChar: "varchar",
	Ref:     "ref",
	List:    "list",
	Set:     "set",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Refers reports whether fields of this kind point at another prototype.
func (k Kind) Refers() bool { return k == Ref || k == List || k == Set }

// Field is one declared field.
type Field struct {
	Name string
	Kind Kind

	// Size is the capacity of a varchar, in runes.
	Size int

	// Target is the prototype a ref, list or set points at.
	Target string
}

// Type returns the field's type in declaration syntax, e.g. "varchar(32)".
func (f Field) Type() string {
	switch {
	case f.Kind == VarChar:
		return fmt.Sprintf("varchar(%d)", f.Size)
	case f.Kind.Refers():
		return fmt.Sprintf("%s(%s)", f.Kind, f.Target)
	}
	return f.Kind.String()
}

// ParseField parses a declaration such as "int", "varchar(64)" or
// "list(track)" into a field called name.
func ParseField(name, decl string) (Field, error) {
	decl = strings.TrimSpace(decl)
	f := Field{Name: name}

	base, arg, hasArg := decl, "", false
	if open := strings.IndexByte(decl, '('); open >= 0 {
		if !strings.HasSuffix(decl, ")") {
			return f, fmt.Errorf("field %q: malformed type %q", name, decl)
		}
		base = decl[:open]
		arg = strings.TrimSpace(decl[open+1 : len(decl)-1])
		hasArg = true
	}

	for k, s := range kindNames {
		if s == base {
			f.Kind = k
		}
	}
	switch {
	case f.Kind == 0:
		return f, fmt.Errorf("field %q: unknown type %q", name, decl)
	case f.Kind == VarChar:
		if !hasArg {
			return f, fmt.Errorf("field %q: varchar needs a size", name)
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("field %q: invalid varchar size %q", name, arg)
		}
		f.Size = n
	case f.Kind.Refers():
		if !hasArg || arg == "" {
			return f, fmt.Errorf("field %q: %s needs a target prototype", name, f.Kind)
		}
		f.Target = arg
	case hasArg:
		return f, fmt.Errorf("field %q: %s takes no argument", name, f.Kind)
	}
	return f, nil
}

// Prototype is a named list of fields in declaration order.
type Prototype struct {
	Name   string
	Fields []Field
}

// Field returns the declared field called name.
func (p *Prototype) Field(name string) (Field, int, bool) {
	for i, f := range p.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return Field{}, -1, false
}

// Schema is a set of prototypes in declaration order.
type Schema struct {
	Prototypes []*Prototype
}

// Lookup returns the prototype called name.
func (s *Schema) Lookup(name string) (*Prototype, bool) {
	for _, p := range s.Prototypes {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Validate checks that names are unique and that every reference targets a
// declared prototype. All problems are returned.
func (s *Schema) Validate() []error {
	var errs []error
	seen := make(map[string]bool, len(s.Prototypes))
	for _, p := range s.Prototypes {
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("prototype %q declared twice", p.Name))
		}
		seen[p.Name] = true
	}
	for _, p := range s.Prototypes {
		fields := make(map[string]bool, len(p.Fields))
		for _, f := range p.Fields {
			if fields[f.Name] {
				errs = append(errs, fmt.Errorf("%s.%s: field declared twice", p.Name, f.Name))
			}
			fields[f.Name] = true
			if f.Kind.Refers() && !seen[f.Target] {
				errs = append(errs, fmt.Errorf("%s.%s: unknown target prototype %q", p.Name, f.Name, f.Target))
			}
		}
	}
	return errs
}

// Register registers every prototype with the store, producing Records.
func (s *Schema) Register(st *object.Store) error {
	for _, p := range s.Prototypes {
		if _, err := st.Register(p.Name, p.Factory()); err != nil {
			return err
		}
	}
	return nil
}

// Factory returns a factory of empty records of this prototype.
func (p *Prototype) Factory() object.Factory {
	return func() object.Object { return NewRecord(p) }
}
