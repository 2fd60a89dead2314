package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zhanjx1314/oos/internal/object"
)

// writer is the FieldWriter that encodes into a snapshot.
// It keeps the first error and ignores everything after it.
type writer struct {
	enc *msgpack.Encoder
	err error
}

func (w *writer) head(name string, k fieldKind) bool {
	if w.err != nil {
		return false
	}
	if w.err = w.enc.EncodeString(name); w.err != nil {
		return false
	}
	w.err = w.enc.EncodeInt8(int8(k))
	return w.err == nil
}

func (w *writer) WriteInt(name string, v int64) {
	if w.head(name, kindInt) {
		w.err = w.enc.EncodeInt(v)
	}
}

func (w *writer) WriteUint(name string, v uint64) {
	if w.head(name, kindUint) {
		w.err = w.enc.EncodeUint(v)
	}
}

func (w *writer) WriteFloat(name string, v float64) {
	if w.head(name, kindFloat) {
		w.err = w.enc.EncodeFloat64(v)
	}
}

func (w *writer) WriteBool(name string, v bool) {
	if w.head(name, kindBool) {
		w.err = w.enc.EncodeBool(v)
	}
}

func (w *writer) WriteString(name string, v string) {
	if w.head(name, kindString) {
		w.err = w.enc.EncodeString(v)
	}
}

func (w *writer) WriteVarChar(name string, v object.VarChar) {
	if w.head(name, kindVarChar) {
		w.err = w.enc.EncodeString(v.String())
	}
}

func (w *writer) WriteRef(name string, r object.Ref) {
	if w.head(name, kindRef) {
		w.err = w.enc.EncodeUint(r.ID)
	}
}

func (w *writer) WriteRefList(name string, l object.RefList) {
	if w.head(name, kindRefList) {
		w.ids(l.IDs())
	}
}

func (w *writer) WriteRefSet(name string, s object.RefSet) {
	if w.head(name, kindRefSet) {
		w.ids(s.IDs())
	}
}

func (w *writer) ids(ids []uint64) {
	if w.err = w.enc.EncodeArrayLen(len(ids)); w.err != nil {
		return
	}
	for _, id := range ids {
		if w.err = w.enc.EncodeUint(id); w.err != nil {
			return
		}
	}
}

// reader is the FieldReader that decodes a snapshot. Every field must
// appear under the same name and kind it was written with. A dry reader
// decodes and checks every field but assigns nothing.
type reader struct {
	dec *msgpack.Decoder
	err error
	dry bool
}

func (r *reader) fail(format string, args ...any) {
	r.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func (r *reader) head(name string, k fieldKind) bool {
	if r.err != nil {
		return false
	}
	got, err := r.dec.DecodeString()
	if err != nil {
		r.fail("field %q: %v", name, err)
		return false
	}
	if got != name {
		r.fail("expected field %q, found %q", name, got)
		return false
	}
	kind, err := r.dec.DecodeInt8()
	if err != nil {
		r.fail("field %q: %v", name, err)
		return false
	}
	if fieldKind(kind) != k {
		r.fail("field %q: kind %d, expected %d", name, kind, k)
		return false
	}
	return true
}

// check records a decode error and reports whether the value may be assigned.
func (r *reader) check(name string, err error) bool {
	if err != nil {
		r.fail("field %q: %v", name, err)
		return false
	}
	return !r.dry
}

func (r *reader) ReadInt(name string, v *int64) {
	if !r.head(name, kindInt) {
		return
	}
	n, err := r.dec.DecodeInt64()
	if r.check(name, err) {
		*v = n
	}
}

func (r *reader) ReadUint(name string, v *uint64) {
	if !r.head(name, kindUint) {
		return
	}
	n, err := r.dec.DecodeUint64()
	if r.check(name, err) {
		*v = n
	}
}

func (r *reader) ReadFloat(name string, v *float64) {
	if !r.head(name, kindFloat) {
		return
	}
	f, err := r.dec.DecodeFloat64()
	if r.check(name, err) {
		*v = f
	}
}

func (r *reader) ReadBool(name string, v *bool) {
	if !r.head(name, kindBool) {
		return
	}
	b, err := r.dec.DecodeBool()
	if r.check(name, err) {
		*v = b
	}
}

func (r *reader) ReadString(name string, v *string) {
	if !r.head(name, kindString) {
		return
	}
	s, err := r.dec.DecodeString()
	if r.check(name, err) {
		*v = s
	}
}

// ReadVarChar keeps the capacity of the target.
func (r *reader) ReadVarChar(name string, v *object.VarChar) {
	if !r.head(name, kindVarChar) {
		return
	}
	s, err := r.dec.DecodeString()
	if r.check(name, err) {
		v.Set(s)
	}
}

func (r *reader) ReadRef(name string, ref *object.Ref) {
	if !r.head(name, kindRef) {
		return
	}
	id, err := r.dec.DecodeUint64()
	if r.check(name, err) {
		*ref = object.RefTo(id)
	}
}

func (r *reader) ReadRefList(name string, l *object.RefList) {
	if !r.head(name, kindRefList) {
		return
	}
	ids := r.ids(name)
	if r.err != nil || r.dry {
		return
	}
	out := make(object.RefList, 0, len(ids))
	for _, id := range ids {
		out = append(out, object.RefTo(id))
	}
	*l = out
}

func (r *reader) ReadRefSet(name string, s *object.RefSet) {
	if !r.head(name, kindRefSet) {
		return
	}
	ids := r.ids(name)
	if r.err != nil || r.dry {
		return
	}
	*s = object.NewRefSet(ids...)
}

func (r *reader) ids(name string) []uint64 {
	n, err := r.dec.DecodeArrayLen()
	if err != nil {
		r.fail("field %q: %v", name, err)
		return nil
	}
	if n < 0 {
		return nil
	}
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		id, err := r.dec.DecodeUint64()
		if err != nil {
			r.fail("field %q[%d]: %v", name, i, err)
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}
