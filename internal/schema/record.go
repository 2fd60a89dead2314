package schema

import (
	"fmt"
	"math"

	"github.com/zhanjx1314/oos/internal/object"
)

// Record is an object whose fields are described by a Prototype.
// Values are held as int64, uint64, float64, bool, string, object.VarChar,
// object.Ref, object.RefList or object.RefSet according to the field kind.
type Record struct {
	proto  *Prototype
	id     uint64
	values []any
}

// NewRecord returns a record with every field at its zero value.
func NewRecord(p *Prototype) *Record {
	r := &Record{proto: p, values: make([]any, len(p.Fields))}
	for i, f := range p.Fields {
		r.values[i] = zero(f)
	}
	return r
}

func zero(f Field) any {
	switch f.Kind {
	case Int:
		return int64(0)
	case Uint:
		return uint64(0)
	case Float:
		return float64(0)
	case Bool:
		return false
	case String:
		return ""
	case VarChar:
		return object.NewVarChar(f.Size, "")
	case Ref:
		return object.Ref{}
	case List:
		return object.RefList(nil)
	case Set:
		return object.RefSet{}
	}
	return nil
}

func (r *Record) PrototypeName() string { return r.proto.Name }
func (r *Record) Prototype() *Prototype { return r.proto }
func (r *Record) ID() uint64            { return r.id }
func (r *Record) SetID(id uint64)       { r.id = id }

// Get returns the value of a field.
func (r *Record) Get(name string) (any, bool) {
	_, i, ok := r.proto.Field(name)
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Set converts v to the field's kind and stores it. Numbers may arrive as
// any Go integer or float type; integral floats are accepted for integer
// fields. References accept ids, object.Ref and nil. Lists and sets accept
// slices of ids.
func (r *Record) Set(name string, v any) error {
	f, i, ok := r.proto.Field(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", r.proto.Name, name, ErrUnknownField)
	}
	val, err := convert(f, v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", r.proto.Name, name, err)
	}
	r.values[i] = val
	return nil
}

// Plain returns the fields as a map of JSON-friendly values: references
// become ids (nil when unset) and containers become id slices.
func (r *Record) Plain() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, f := range r.proto.Fields {
		switch v := r.values[i].(type) {
		case object.VarChar:
			out[f.Name] = v.String()
		case object.Ref:
			if v.Nil() {
				out[f.Name] = nil
			} else {
				out[f.Name] = v.ID
			}
		case object.RefList:
			out[f.Name] = nonNil(v.IDs())
		case object.RefSet:
			out[f.Name] = nonNil(v.IDs())
		default:
			out[f.Name] = v
		}
	}
	return out
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}

func (r *Record) WriteFields(w object.FieldWriter) {
	for i, f := range r.proto.Fields {
		switch v := r.values[i].(type) {
		case int64:
			w.WriteInt(f.Name, v)
		case uint64:
			w.WriteUint(f.Name, v)
		case float64:
			w.WriteFloat(f.Name, v)
		case bool:
			w.WriteBool(f.Name, v)
		case string:
			w.WriteString(f.Name, v)
		case object.VarChar:
			w.WriteVarChar(f.Name, v)
		case object.Ref:
			w.WriteRef(f.Name, v)
		case object.RefList:
			w.WriteRefList(f.Name, v)
		case object.RefSet:
			w.WriteRefSet(f.Name, v)
		}
	}
}

func (r *Record) ReadFields(rd object.FieldReader) {
	for i, f := range r.proto.Fields {
		switch f.Kind {
		case Int:
			v := r.values[i].(int64)
			rd.ReadInt(f.Name, &v)
			r.values[i] = v
		case Uint:
			v := r.values[i].(uint64)
			rd.ReadUint(f.Name, &v)
			r.values[i] = v
		case Float:
			v := r.values[i].(float64)
			rd.ReadFloat(f.Name, &v)
			r.values[i] = v
		case Bool:
			v := r.values[i].(bool)
			rd.ReadBool(f.Name, &v)
			r.values[i] = v
		case String:
			v := r.values[i].(string)
			rd.ReadString(f.Name, &v)
			r.values[i] = v
		case VarChar:
			v := r.values[i].(object.VarChar)
			rd.ReadVarChar(f.Name, &v)
			r.values[i] = v
		case Ref:
			v := r.values[i].(object.Ref)
			rd.ReadRef(f.Name, &v)
			r.values[i] = v
		case List:
			v := r.values[i].(object.RefList)
			rd.ReadRefList(f.Name, &v)
			r.values[i] = v
		case Set:
			v := r.values[i].(object.RefSet)
			rd.ReadRefSet(f.Name, &v)
			r.values[i] = v
		}
	}
}

func convert(f Field, v any) (any, error) {
	switch f.Kind {
	case Int:
		n, ok := toInt(v)
		if !ok {
			return nil, typeError(f, v)
		}
		return n, nil
	case Uint:
		n, ok := toUint(v)
		if !ok {
			return nil, typeError(f, v)
		}
		return n, nil
	case Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		}
		if n, ok := toInt(v); ok {
			return float64(n), nil
		}
		return nil, typeError(f, v)
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError(f, v)
		}
		return b, nil
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(f, v)
		}
		return s, nil
	case VarChar:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(f, v)
		}
		return object.NewVarChar(f.Size, s), nil
	case Ref:
		return toRef(f, v)
	case List:
		ids, err := toIDs(f, v)
		if err != nil {
			return nil, err
		}
		l := make(object.RefList, 0, len(ids))
		for _, id := range ids {
			l.Append(object.RefTo(id))
		}
		return l, nil
	case Set:
		ids, err := toIDs(f, v)
		if err != nil {
			return nil, err
		}
		return object.NewRefSet(ids...), nil
	}
	return nil, typeError(f, v)
}

func typeError(f Field, v any) error {
	return fmt.Errorf("%w: %T %v into %s", ErrFieldType, v, v, f.Type())
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case float64:
		if n < 0 || n != math.Trunc(n) || n >= math.MaxUint64 {
			return 0, false
		}
		return uint64(n), true
	}
	if n, ok := toInt(v); ok && n >= 0 {
		return uint64(n), true
	}
	return 0, false
}

func toRef(f Field, v any) (object.Ref, error) {
	switch r := v.(type) {
	case nil:
		return object.Ref{}, nil
	case object.Ref:
		return r, nil
	}
	id, ok := toUint(v)
	if !ok {
		return object.Ref{}, typeError(f, v)
	}
	return object.RefTo(id), nil
}

func toIDs(f Field, v any) ([]uint64, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []uint64:
		return l, nil
	case object.RefList:
		return l.IDs(), nil
	case object.RefSet:
		return l.IDs(), nil
	case []any:
		ids := make([]uint64, 0, len(l))
		for _, e := range l {
			id, ok := toUint(e)
			if !ok || id == 0 {
				return nil, typeError(f, e)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, typeError(f, v)
}
