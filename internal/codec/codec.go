// Package codec serializes the fields of managed objects into snapshots.
//
// A snapshot is a msgpack stream: a version header followed by one entry per
// field in declaration order, each entry being the field name, a kind tag and
// the value. References are written as ids only; restoring a snapshot never
// clones a referenced object, it re-resolves the id against the live store.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zhanjx1314/oos/internal/object"
)

// Version is written at the start of every snapshot.
const Version = 1

// ErrMalformed is returned for snapshots that do not match the object they
// are read into.
var ErrMalformed = errors.New("malformed snapshot")

type fieldKind int8

const (
	kindInt fieldKind = iota + 1
	kindUint
	kindFloat
	kindBool
	kindString
	kindVarChar
	kindRef
	kindRefList
	kindRefSet
)

// Serialize writes obj's fields into a new snapshot.
func Serialize(obj object.Object) ([]byte, error) {
	if obj == nil {
		return nil, object.ErrNilObject
	}
	var buf bytes.Buffer
	w := &writer{enc: msgpack.NewEncoder(&buf)}
	w.err = w.enc.EncodeInt(Version)
	obj.WriteFields(w)
	if w.err != nil {
		return nil, fmt.Errorf("serialize %T: %w", obj, w.err)
	}
	return buf.Bytes(), nil
}

// Deserialize overwrites obj's fields from a snapshot. The object's id is
// not part of the snapshot and is left as is. A malformed snapshot leaves
// obj untouched: the snapshot is checked in full before any field is set.
func Deserialize(data []byte, obj object.Object) error {
	if obj == nil {
		return object.ErrNilObject
	}
	if err := decode(data, obj, true); err != nil {
		return err
	}
	return decode(data, obj, false)
}

func decode(data []byte, obj object.Object, dry bool) error {
	rd := bytes.NewReader(data)
	r := &reader{dec: msgpack.NewDecoder(rd), dry: dry}
	v, err := r.dec.DecodeInt()
	if err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if v != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, v)
	}
	obj.ReadFields(r)
	if r.err != nil {
		return r.err
	}
	if rd.Len() > 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, rd.Len())
	}
	return nil
}

// Resurrect builds a fresh object of the named prototype from a snapshot
// and reattaches it to the store under id at the given sequence rank
// (zero appends).
func Resurrect(s *object.Store, prototype string, id, rank uint64, data []byte) (*object.Proxy, error) {
	node, ok := s.Prototype(prototype)
	if !ok {
		return nil, fmt.Errorf("resurrect %s:%d: %w: %q", prototype, id, object.ErrUnknownPrototype, prototype)
	}
	obj := node.New()
	if err := Deserialize(data, obj); err != nil {
		return nil, fmt.Errorf("resurrect %s:%d: %w", prototype, id, err)
	}
	obj.SetID(id)
	return s.ReattachAt(prototype, obj, rank)
}
