// Package dialect builds SQL text from nested field lists and condition trees.
//
// A Dialect is the single entry point: it escapes names, compiles conditions
// and creates statements (SELECT, INSERT, UPDATE, DELETE, CREATE TABLE) that
// render with the dialect's quoting, literal and placeholder rules.
//
//	d, _ := dialect.New(dialect.Postgres)
//	sql, _ := d.Select().From("image").Where(dialect.M("gallery_id", []int{1, 2})).SQL()
//	// SELECT * FROM "image" WHERE "gallery_id" IN (1, 2)
package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
	MySQL    = "mysql"
)

// Dialect holds the database-specific rendering rules.
type Dialect struct {
	name        string
	quote       string
	backslashes bool
	returning   bool
	placeholder func(int) string
	columnTypes map[string]string
}

// New returns the dialect registered under name.
func New(name string) (*Dialect, error) {
	switch name {
	case Postgres, "pgx", "postgresql":
		return &Dialect{
			name:        Postgres,
			quote:       `"`,
			returning:   true,
			placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
			columnTypes: map[string]string{
				"serial":    "SERIAL",
				"string":    "VARCHAR",
				"text":      "TEXT",
				"int":       "INTEGER",
				"integer":   "INTEGER",
				"bigint":    "BIGINT",
				"float":     "DOUBLE PRECISION",
				"decimal":   "NUMERIC",
				"boolean":   "BOOLEAN",
				"uuid":      "UUID",
				"timestamp": "TIMESTAMPTZ",
				"date":      "DATE",
				"json":      "JSONB",
			},
		}, nil
	case SQLite, "sqlite3":
		return &Dialect{
			name:        SQLite,
			quote:       `"`,
			returning:   true,
			placeholder: func(i int) string { return "?" + strconv.Itoa(i) },
			columnTypes: map[string]string{
				"serial":    "INTEGER",
				"string":    "TEXT",
				"text":      "TEXT",
				"int":       "INTEGER",
				"integer":   "INTEGER",
				"bigint":    "INTEGER",
				"float":     "REAL",
				"decimal":   "REAL",
				"boolean":   "INTEGER",
				"uuid":      "TEXT",
				"timestamp": "TEXT",
				"date":      "TEXT",
				"json":      "TEXT",
			},
		}, nil
	case MySQL:
		return &Dialect{
			name:        MySQL,
			quote:       "`",
			backslashes: true,
			placeholder: func(int) string { return "?" },
			columnTypes: map[string]string{
				"serial":    "INT NOT NULL AUTO_INCREMENT",
				"string":    "VARCHAR",
				"text":      "TEXT",
				"int":       "INT",
				"integer":   "INT",
				"bigint":    "BIGINT",
				"float":     "DOUBLE",
				"decimal":   "DECIMAL",
				"boolean":   "TINYINT(1)",
				"uuid":      "CHAR(36)",
				"timestamp": "DATETIME",
				"date":      "DATE",
				"json":      "JSON",
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// Name returns the canonical dialect name.
func (d *Dialect) Name() string { return d.name }

// Placeholder returns the bind parameter for the given 1-based index.
func (d *Dialect) Placeholder(index int) string { return d.placeholder(index) }

// SupportsReturning reports whether INSERT ... RETURNING is available.
func (d *Dialect) SupportsReturning() bool { return d.returning }

// Quote escapes a possibly dotted identifier. A bare `*` segment is kept as is.
func (d *Dialect) Quote(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		parts[i] = d.quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func (d *Dialect) quoteIdent(s string) string {
	return d.quote + strings.ReplaceAll(s, d.quote, d.quote+d.quote) + d.quote
}

func (d *Dialect) quoteString(s string) string {
	if d.backslashes {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Names renders a field list (see package documentation for accepted forms).
func (d *Dialect) Names(fields ...any) (string, error) {
	return d.newBuilder(false).names(fields)
}

// Conditions compiles a condition tree into a boolean SQL expression with
// inline literals.
func (d *Dialect) Conditions(tree any) (string, error) {
	return d.newBuilder(false).conditions(tree)
}

// Statement returns an empty statement of the given kind.
func (d *Dialect) Statement(kind string) (Statement, error) {
	switch strings.ToLower(kind) {
	case "select":
		return d.Select(), nil
	case "insert":
		return d.Insert(), nil
	case "update":
		return d.Update(), nil
	case "delete":
		return d.Delete(), nil
	case "create table", "create_table", "createtable":
		return d.CreateTable(), nil
	}
	return nil, fmt.Errorf("unknown statement kind %q", kind)
}

// Select starts a SELECT statement.
func (d *Dialect) Select() *Select { return &Select{d: d} }

// Insert starts an INSERT statement.
func (d *Dialect) Insert() *Insert { return &Insert{d: d} }

// Update starts an UPDATE statement.
func (d *Dialect) Update() *Update { return &Update{d: d} }

// Delete starts a DELETE statement.
func (d *Dialect) Delete() *Delete { return &Delete{d: d} }

// CreateTable starts a CREATE TABLE statement.
func (d *Dialect) CreateTable() *CreateTable { return &CreateTable{d: d} }

// ColumnType maps an abstract column definition to the dialect's DDL type.
// Unknown types are passed through upper-cased.
func (d *Dialect) ColumnType(c Column) string {
	t, ok := d.columnTypes[strings.ToLower(c.Type)]
	if !ok {
		return strings.ToUpper(c.Type)
	}
	switch strings.ToLower(c.Type) {
	case "string":
		if c.Length > 0 {
			return fmt.Sprintf("%s(%d)", t, c.Length)
		}
		if d.name == Postgres {
			return "TEXT"
		}
		if d.name == MySQL {
			return "VARCHAR(255)"
		}
	case "decimal":
		if c.Precision > 0 && d.name != SQLite {
			return fmt.Sprintf("%s(%d,%d)", t, c.Precision, c.Scale)
		}
	}
	return t
}
