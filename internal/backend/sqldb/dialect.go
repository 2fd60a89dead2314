package sqldb

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect holds what differs between SQL databases: the database/sql driver
// name, placeholder syntax, column types and connection setup.
type Dialect struct {
	Name   string
	Driver string

	// Pragmas run once after connecting.
	Pragmas []string

	// MaxOpenConns limits the pool; zero means unlimited.
	MaxOpenConns int

	idType      string
	types       map[columnKind]string
	placeholder func(n int) string
}

// SQLite stores tables in one file through mattn/go-sqlite3. The connection
// is configured for a single writer.
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite3",
	Pragmas: []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	},
	MaxOpenConns: 1,
	idType:       "INTEGER PRIMARY KEY",
	types: map[columnKind]string{
		colInt:    "INTEGER",
		colUint:   "INTEGER",
		colFloat:  "REAL",
		colBool:   "INTEGER",
		colString: "TEXT",
		colRef:    "INTEGER",
		colRefs:   "TEXT",
	},
	placeholder: func(int) string { return "?" },
}

// Postgres talks to PostgreSQL through lib/pq.
var Postgres = Dialect{
	Name:   "postgres",
	Driver: "postgres",
	idType: "BIGINT PRIMARY KEY",
	types: map[columnKind]string{
		colInt:    "BIGINT",
		colUint:   "BIGINT",
		colFloat:  "DOUBLE PRECISION",
		colBool:   "BOOLEAN",
		colString: "TEXT",
		colRef:    "BIGINT",
		colRefs:   "TEXT",
	},
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// DialectFor returns the dialect with the given name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unknown SQL dialect %q", name)
}

func (d Dialect) columnType(c column) string {
	if c.kind == colVarChar {
		return fmt.Sprintf("VARCHAR(%d)", c.size)
	}
	return d.types[c.kind]
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d Dialect) createSQL(table string, cols []column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s %s", quote(table), quote("id"), d.idType)
	for _, c := range cols {
		fmt.Fprintf(&b, ", %s %s", quote(c.name), d.columnType(c))
	}
	b.WriteString(")")
	return b.String()
}

func (d Dialect) dropSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(table))
}

func (d Dialect) insertSQL(table string, cols []column) string {
	names := []string{quote("id")}
	marks := []string{d.placeholder(1)}
	for i, c := range cols {
		names = append(names, quote(c.name))
		marks = append(marks, d.placeholder(i+2))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(names, ", "), strings.Join(marks, ", "))
}

// updateSQL sets every column by id. A table without columns gets a
// self-assignment of id so that the row count still reports a missing row.
func (d Dialect) updateSQL(table string, cols []column) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", quote(c.name), d.placeholder(i+1))
	}
	if len(sets) == 0 {
		sets = []string{fmt.Sprintf("%s = %s", quote("id"), quote("id"))}
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(table), strings.Join(sets, ", "), quote("id"), d.placeholder(len(cols)+1))
}

func (d Dialect) deleteSQL(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(table), quote("id"), d.placeholder(1))
}

func (d Dialect) selectSQL(table string, cols []column) string {
	names := []string{quote("id")}
	for _, c := range cols {
		names = append(names, quote(c.name))
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(names, ", "), quote(table), quote("id"))
}
