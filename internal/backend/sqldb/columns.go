package sqldb

import (
	"encoding/json"
	"fmt"

	"github.com/zhanjx1314/oos/internal/object"
)

type columnKind int

const (
	colInt columnKind = iota + 1
	colUint
	colFloat
	colBool
	colString
	colVarChar
	colRef
	colRefs
)

// column is one object field bound to a table column.
type column struct {
	name  string
	kind  columnKind
	size  int
	value any
}

// columnWriter turns an object's fields into columns and bind values.
// Unsigned values are stored as their int64 bit pattern. Nil references
// are NULL; containers are JSON arrays of ids.
type columnWriter struct {
	cols []column
	err  error
}

func columnsOf(obj object.Object) ([]column, error) {
	w := &columnWriter{}
	obj.WriteFields(w)
	return w.cols, w.err
}

func (w *columnWriter) add(name string, kind columnKind, v any) {
	w.cols = append(w.cols, column{name: name, kind: kind, value: v})
}

func (w *columnWriter) WriteInt(name string, v int64)     { w.add(name, colInt, v) }
func (w *columnWriter) WriteUint(name string, v uint64)   { w.add(name, colUint, int64(v)) }
func (w *columnWriter) WriteFloat(name string, v float64) { w.add(name, colFloat, v) }
func (w *columnWriter) WriteBool(name string, v bool)     { w.add(name, colBool, v) }
func (w *columnWriter) WriteString(name string, v string) { w.add(name, colString, v) }

func (w *columnWriter) WriteVarChar(name string, v object.VarChar) {
	w.cols = append(w.cols, column{name: name, kind: colVarChar, size: v.Capacity(), value: v.String()})
}

func (w *columnWriter) WriteRef(name string, r object.Ref) {
	if r.Nil() {
		w.add(name, colRef, nil)
		return
	}
	w.add(name, colRef, int64(r.ID))
}

func (w *columnWriter) WriteRefList(name string, l object.RefList) { w.ids(name, l.IDs()) }
func (w *columnWriter) WriteRefSet(name string, s object.RefSet)   { w.ids(name, s.IDs()) }

func (w *columnWriter) ids(name string, ids []uint64) {
	if ids == nil {
		ids = []uint64{}
	}
	data, err := json.Marshal(ids)
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("column %q: %w", name, err)
	}
	w.add(name, colRefs, string(data))
}

func bindValues(cols []column) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c.value
	}
	return out
}

// rowReader fills an object's fields from one scanned row.
type rowReader struct {
	values map[string]any
	err    error
}

func (r *rowReader) get(name string) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.values[name]
	if !ok {
		r.err = fmt.Errorf("column %q missing from row", name)
	}
	return v, ok
}

func (r *rowReader) fail(name string, v any, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("column %q: cannot read %T as %s", name, v, want)
	}
}

func (r *rowReader) int64(name string) (int64, bool) {
	v, ok := r.get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case nil:
		return 0, true
	}
	r.fail(name, v, "integer")
	return 0, false
}

func (r *rowReader) text(name string) (string, bool) {
	v, ok := r.get(name)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case nil:
		return "", true
	}
	r.fail(name, v, "text")
	return "", false
}

func (r *rowReader) ReadInt(name string, v *int64) {
	if n, ok := r.int64(name); ok {
		*v = n
	}
}

func (r *rowReader) ReadUint(name string, v *uint64) {
	if n, ok := r.int64(name); ok {
		*v = uint64(n)
	}
}

func (r *rowReader) ReadFloat(name string, v *float64) {
	raw, ok := r.get(name)
	if !ok {
		return
	}
	switch f := raw.(type) {
	case float64:
		*v = f
	case int64:
		*v = float64(f)
	case nil:
		*v = 0
	default:
		r.fail(name, raw, "float")
	}
}

func (r *rowReader) ReadBool(name string, v *bool) {
	raw, ok := r.get(name)
	if !ok {
		return
	}
	switch b := raw.(type) {
	case bool:
		*v = b
	case int64:
		*v = b != 0
	case nil:
		*v = false
	default:
		r.fail(name, raw, "bool")
	}
}

func (r *rowReader) ReadString(name string, v *string) {
	if s, ok := r.text(name); ok {
		*v = s
	}
}

func (r *rowReader) ReadVarChar(name string, v *object.VarChar) {
	if s, ok := r.text(name); ok {
		v.Set(s)
	}
}

func (r *rowReader) ReadRef(name string, ref *object.Ref) {
	if n, ok := r.int64(name); ok {
		*ref = object.RefTo(uint64(n))
	}
}

func (r *rowReader) ReadRefList(name string, l *object.RefList) {
	ids, ok := r.ids(name)
	if !ok {
		return
	}
	out := make(object.RefList, 0, len(ids))
	for _, id := range ids {
		out = append(out, object.RefTo(id))
	}
	*l = out
}

func (r *rowReader) ReadRefSet(name string, s *object.RefSet) {
	if ids, ok := r.ids(name); ok {
		*s = object.NewRefSet(ids...)
	}
}

func (r *rowReader) ids(name string) ([]uint64, bool) {
	s, ok := r.text(name)
	if !ok {
		return nil, false
	}
	if s == "" {
		return nil, true
	}
	var ids []uint64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("column %q: %w", name, err)
		}
		return nil, false
	}
	return ids, true
}
