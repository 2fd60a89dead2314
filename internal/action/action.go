// Package action holds the ordered log of storage-affecting mutations
// recorded by one transaction, together with the pre-images needed to
// reverse them.
//
// The log is replayed forward against a backend on commit and backward
// against the object store on rollback. Each object id appears at most once
// in the log; the first action recorded for an id carries the authoritative
// backup.
package action

import "fmt"

// Kind is the closed set of action kinds.
type Kind int

const (
	// Create creates the storage for one prototype.
	Create Kind = iota + 1

	// Insert adds one object.
	Insert

	// Update overwrites one object's fields.
	Update

	// Delete removes one object.
	Delete

	// Drop removes the storage for one prototype.
	Drop
)

var kindNames = map[Kind]string{
	Create: "create",
	Insert: "insert",
	Update: "update",
	Delete: "delete",
	Drop:   "drop",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", name)
}

// Schema reports whether the kind affects a prototype rather than one object.
func (k Kind) Schema() bool {
	return k == Create || k == Drop
}

// Action is one logged mutation. Schema actions leave ID at zero.
// Rank is the object's sequence position when the action was recorded.
type Action struct {
	Kind Kind
	ID   uint64
	Type string
	Rank uint64
}

func (a Action) String() string {
	if a.Kind.Schema() {
		return fmt.Sprintf("%s:%s", a.Kind, a.Type)
	}
	return fmt.Sprintf("%s:%s:%d", a.Kind, a.Type, a.ID)
}
