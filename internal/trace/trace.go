// Package trace records what happened during a scenario run (one event per
// step, plus the final contents of the store) and serializes it as
// canonical JSON for golden comparison.
package trace

// Event is one executed step.
type Event struct {
	Seq int
	Op  string

	// Tx is the scenario's name for the transaction the step ran in.
	Tx   string
	TxID int64

	Type   string
	ID     uint64
	Fields map[string]any

	// State is the transaction state after begin, commit or rollback.
	State string

	// Error is the error code the step failed with, empty on success.
	Error string
}

func (e Event) toMap() map[string]any {
	m := map[string]any{
		"seq": e.Seq,
		"op":  e.Op,
	}
	if e.Tx != "" {
		m["tx"] = e.Tx
	}
	if e.TxID != 0 {
		m["tx_id"] = e.TxID
	}
	if e.Type != "" {
		m["type"] = e.Type
	}
	if e.ID != 0 {
		m["id"] = e.ID
	}
	if e.Fields != nil {
		m["fields"] = e.Fields
	}
	if e.State != "" {
		m["state"] = e.State
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// Trace is the record of one scenario run.
type Trace struct {
	Scenario string
	Events   []Event

	// Final maps each prototype to its live objects in sequence order.
	// Every object is its plain field map plus "id".
	Final map[string][]map[string]any
}

// Record appends an event, numbering it.
func (t *Trace) Record(e Event) {
	e.Seq = len(t.Events) + 1
	t.Events = append(t.Events, e)
}

// Canonical returns the trace as canonical JSON.
func (t *Trace) Canonical() ([]byte, error) {
	events := make([]any, len(t.Events))
	for i, e := range t.Events {
		events[i] = e.toMap()
	}
	final := make(map[string]any, len(t.Final))
	for name, objs := range t.Final {
		rows := make([]any, len(objs))
		for i, o := range objs {
			rows[i] = o
		}
		final[name] = rows
	}
	return MarshalCanonical(map[string]any{
		"scenario": t.Scenario,
		"events":   events,
		"final":    final,
	})
}
