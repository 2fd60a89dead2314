// Package harness runs transaction scenarios against a fresh session and
// checks the outcome.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: ../schema            # CUE file or directory, relative to the scenario
//	seed:                        # committed before the steps, not traced
//	  - type: artist
//	    id: 1
//	    fields: { name: "Nina" }
//	steps:
//	  - begin: outer
//	  - update: { id: 1, fields: { name: "Nina Simone" } }
//	  - begin: inner
//	  - delete: { id: 1 }
//	    expect_error: REFERENCED
//	  - rollback: inner
//	  - fail: commit             # inject a backend failure: insert, update, delete or commit
//	  - commit: outer
//	    expect_error: BACKEND_FAILURE
//	  - heal: true
//	  - rollback: outer
//	assertions:
//	  - type: state
//	    id: 1
//	    expect: { name: "Nina" }
//	  - type: absent
//	    id: 7
//	  - type: count
//	    table: artist
//	    count: 1
//	  - type: journal
//	    actions: ["update:artist:1"]
//	  - type: stored
//	    table: artist
//	    ids: [1]
//
// Every scenario runs in its own store, session and in-memory backend. The
// run produces a trace of every step plus the final store contents, which is
// compared against a golden file by RunWithGolden.
package harness
