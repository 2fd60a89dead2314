package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zhanjx1314/oos/internal/action"
)

// Scenario defines one transaction scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the CUE file or directory declaring the prototypes.
	// LoadScenario resolves it relative to the scenario file.
	Schema string `yaml:"schema"`

	// Seed objects are inserted and committed before the steps run.
	Seed []Mutation `yaml:"seed,omitempty"`

	// Steps run in order. A failing step does not stop the run.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final store, backend and journal.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one operation field is set.
type Step struct {
	Begin    string    `yaml:"begin,omitempty"`
	Commit   string    `yaml:"commit,omitempty"`
	Rollback string    `yaml:"rollback,omitempty"`
	Insert   *Mutation `yaml:"insert,omitempty"`
	Update   *Mutation `yaml:"update,omitempty"`
	Delete   *Mutation `yaml:"delete,omitempty"`

	// Fail injects a backend failure for an action kind or for "commit".
	Fail string `yaml:"fail,omitempty"`

	// Heal removes every injected failure.
	Heal bool `yaml:"heal,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Mutation names an object and the field values to give it.
type Mutation struct {
	Type   string         `yaml:"type,omitempty"`
	ID     uint64         `yaml:"id,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Step operations.
const (
	OpBegin    = "begin"
	OpCommit   = "commit"
	OpRollback = "rollback"
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpFail     = "fail"
	OpHeal     = "heal"
)

// Op returns the step's operation, or an error unless exactly one is set.
func (s Step) Op() (string, error) {
	var ops []string
	if s.Begin != "" {
		ops = append(ops, OpBegin)
	}
	if s.Commit != "" {
		ops = append(ops, OpCommit)
	}
	if s.Rollback != "" {
		ops = append(ops, OpRollback)
	}
	if s.Insert != nil {
		ops = append(ops, OpInsert)
	}
	if s.Update != nil {
		ops = append(ops, OpUpdate)
	}
	if s.Delete != nil {
		ops = append(ops, OpDelete)
	}
	if s.Fail != "" {
		ops = append(ops, OpFail)
	}
	if s.Heal {
		ops = append(ops, OpHeal)
	}
	switch len(ops) {
	case 0:
		return "", fmt.Errorf("step has no operation")
	case 1:
		return ops[0], nil
	}
	return "", fmt.Errorf("step has several operations: %v", ops)
}

// Assertion validates the outcome of a run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state": object ID is live and its fields match Expect (subset)
	// - "absent": object ID is not live
	// - "count": prototype Table has Count live objects
	// - "journal": the backend visited exactly Actions, in order
	// - "stored": the backend's committed rows of Table are exactly IDs
	Type string `yaml:"type"`

	Table   string         `yaml:"table,omitempty"`
	ID      uint64         `yaml:"id,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
	Count   *int           `yaml:"count,omitempty"`
	Actions []string       `yaml:"actions,omitempty"`
	IDs     []uint64       `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertState   = "state"
	AssertAbsent  = "absent"
	AssertCount   = "count"
	AssertJournal = "journal"
	AssertStored  = "stored"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and the schema path is resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml file in dir, in name order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, m := range s.Seed {
		if m.Type == "" {
			return fmt.Errorf("seed %d: type is required", i)
		}
	}
	for i, step := range s.Steps {
		op, err := step.Op()
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		switch op {
		case OpInsert:
			if step.Insert.Type == "" {
				return fmt.Errorf("step %d: insert needs a type", i)
			}
		case OpUpdate:
			if step.Update.ID == 0 {
				return fmt.Errorf("step %d: update needs an id", i)
			}
		case OpDelete:
			if step.Delete.ID == 0 {
				return fmt.Errorf("step %d: delete needs an id", i)
			}
		case OpFail:
			if step.Fail != OpCommit {
				if _, err := action.ParseKind(step.Fail); err != nil {
					return fmt.Errorf("step %d: fail: %w", i, err)
				}
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertState:
		if a.ID == 0 {
			return fmt.Errorf("state needs an id")
		}
	case AssertAbsent:
		if a.ID == 0 {
			return fmt.Errorf("absent needs an id")
		}
	case AssertCount:
		if a.Table == "" || a.Count == nil {
			return fmt.Errorf("count needs a table and a count")
		}
	case AssertJournal:
	case AssertStored:
		if a.Table == "" {
			return fmt.Errorf("stored needs a table")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
