package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/zhanjx1314/oos/internal/schema"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the run's final state
// and returns one message per failure.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertState:
			err = h.assertState(a)
		case AssertAbsent:
			err = h.assertAbsent(a)
		case AssertCount:
			err = h.assertCount(a)
		case AssertJournal:
			err = h.assertJournal(a)
		case AssertStored:
			err = h.assertStored(a)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertState checks that the object is live and that every expected field
// holds the expected value. Expected values are converted through the
// field's kind, so YAML integers compare equal to uint or ref fields.
func (h *Harness) assertState(a Assertion) error {
	obj, ok := h.store.Lookup(a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("object %d to be live", a.ID),
			Actual:   "not found",
		}
	}
	rec, ok := obj.(*schema.Record)
	if !ok {
		return fmt.Errorf("state: object %d is a %T, not a schema record", a.ID, obj)
	}
	if a.Table != "" && rec.PrototypeName() != a.Table {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("object %d to be a %s", a.ID, a.Table),
			Actual:   rec.PrototypeName(),
		}
	}

	want := schema.NewRecord(rec.Prototype())
	got := rec.Plain()
	for _, name := range sortedKeys(a.Expect) {
		if err := want.Set(name, a.Expect[name]); err != nil {
			return fmt.Errorf("state: object %d: %w", a.ID, err)
		}
		wantVal := want.Plain()[name]
		if !reflect.DeepEqual(got[name], wantVal) {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("object %d field %s = %v", a.ID, name, wantVal),
				Actual:   fmt.Sprintf("%v", got[name]),
			}
		}
	}
	return nil
}

func (h *Harness) assertAbsent(a Assertion) error {
	if _, ok := h.store.Lookup(a.ID); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("object %d to be absent", a.ID),
			Actual:   "live",
		}
	}
	return nil
}

func (h *Harness) assertCount(a Assertion) error {
	proto, ok := h.store.Prototype(a.Table)
	if !ok {
		return fmt.Errorf("count: unknown prototype %q", a.Table)
	}
	if proto.Len() != *a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d live %s objects", *a.Count, a.Table),
			Actual:   fmt.Sprintf("%d", proto.Len()),
		}
	}
	return nil
}

func (h *Harness) assertJournal(a Assertion) error {
	var got []string
	for _, act := range h.backend.Journal() {
		got = append(got, act.String())
	}
	if !slices.Equal(got, a.Actions) {
		return &AssertionError{
			Type:     AssertJournal,
			Expected: fmt.Sprintf("%v", a.Actions),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func (h *Harness) assertStored(a Assertion) error {
	got := h.backend.IDs(a.Table)
	if !slices.Equal(got, a.IDs) {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("stored %s ids %v", a.Table, a.IDs),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
