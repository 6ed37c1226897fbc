package dialect

import (
	"strings"
)

// Column is an abstract column definition. Type is one of the dialect's
// abstract types (serial, string, text, int, bigint, float, decimal,
// boolean, uuid, timestamp, date, json); anything else is passed through.
type Column struct {
	Name      string
	Type      string
	Length    int
	Precision int
	Scale     int
	NotNull   bool
	Default   any
}

// Constraint is a table-level constraint. Type is primary, unique,
// foreign key or check.
type Constraint struct {
	Type       string
	Name       string
	Columns    []string
	References string
	Foreign    []string
	OnDelete   string
	OnUpdate   string
	Check      any
}

// CreateTable is a CREATE TABLE statement.
type CreateTable struct {
	d           *Dialect
	table       string
	ifNotExists bool
	columns     []Column
	constraints []Constraint
	meta        Map
}

func (c *CreateTable) Table(name string) *CreateTable {
	c.table = name
	return c
}

func (c *CreateTable) IfNotExists(flag bool) *CreateTable {
	c.ifNotExists = flag
	return c
}

// Columns merges definitions into the column list. A column already defined
// keeps its first definition.
func (c *CreateTable) Columns(columns ...Column) *CreateTable {
	for _, col := range columns {
		if c.column(col.Name) == nil {
			c.columns = append(c.columns, col)
		}
	}
	return c
}

func (c *CreateTable) column(name string) *Column {
	for i := range c.columns {
		if c.columns[i].Name == name {
			return &c.columns[i]
		}
	}
	return nil
}

// Constraint appends a table constraint. An explicit primary constraint
// replaces the implicit one derived from a serial column.
func (c *CreateTable) Constraint(constraints ...Constraint) *CreateTable {
	c.constraints = append(c.constraints, constraints...)
	return c
}

// Meta sets table options (engine, charset, collate). Only MySQL renders them.
func (c *CreateTable) Meta(meta any) *CreateTable {
	c.meta, _ = entries(meta)
	return c
}

func (c *CreateTable) SQL() (string, error)          { return renderSQL(c.d, c) }
func (c *CreateTable) Query() (string, []any, error) { return renderQuery(c.d, c) }
func (c *CreateTable) String() string                { return renderString(c.d, c) }

func (c *CreateTable) render(b *builder) (string, error) {
	if c.table == "" {
		return "", &ClauseError{Statement: "CREATE TABLE", Clause: "table name"}
	}
	if len(c.columns) == 0 {
		return "", &ClauseError{Statement: "CREATE TABLE", Clause: "columns"}
	}
	// DDL cannot bind parameters.
	lb := b.d.newBuilder(false)

	defs := make([]string, 0, len(c.columns)+len(c.constraints)+1)
	primary := ""
	for _, col := range c.columns {
		if col.Name == "" || col.Type == "" {
			return "", malformed(col, "column definition requires a name and a type")
		}
		if strings.EqualFold(col.Type, "serial") {
			primary = col.Name
		}
		def, err := c.columnDef(lb, col)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	for _, con := range c.constraints {
		def, err := c.constraintDef(lb, con)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
		if strings.EqualFold(con.Type, "primary") {
			primary = ""
		}
	}
	if primary != "" {
		def, _ := c.constraintDef(lb, Constraint{Type: "primary", Columns: []string{primary}})
		defs = append(defs, def)
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if c.ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(b.d.Quote(c.table))
	sb.WriteString(" (" + strings.Join(defs, ", ") + ")")
	if b.d.name == MySQL {
		for _, p := range c.meta {
			v, ok := p.Value.(string)
			if !ok || v == "" {
				continue
			}
			switch strings.ToLower(p.Key) {
			case "engine":
				sb.WriteString(" ENGINE=" + v)
			case "charset":
				sb.WriteString(" DEFAULT CHARSET=" + v)
			case "collate":
				sb.WriteString(" COLLATE=" + v)
			}
		}
	}
	return sb.String(), nil
}

func (c *CreateTable) columnDef(b *builder, col Column) (string, error) {
	def := b.d.Quote(col.Name) + " " + b.d.ColumnType(col)
	serial := strings.EqualFold(col.Type, "serial")
	if col.NotNull && !serial {
		def += " NOT NULL"
	}
	if col.Default != nil && !serial {
		v, err := b.expr(col.Default)
		if err != nil {
			return "", err
		}
		def += " DEFAULT " + v
	}
	return def, nil
}

func (c *CreateTable) constraintDef(b *builder, con Constraint) (string, error) {
	var def string
	switch strings.ToLower(con.Type) {
	case "primary":
		def = "PRIMARY KEY (" + c.quoteAll(con.Columns) + ")"
	case "unique":
		def = "UNIQUE (" + c.quoteAll(con.Columns) + ")"
	case "foreign key":
		if con.References == "" {
			return "", malformed(con, "foreign key constraint requires a referenced table")
		}
		foreign := con.Foreign
		if len(foreign) == 0 {
			foreign = []string{"id"}
		}
		def = "FOREIGN KEY (" + c.quoteAll(con.Columns) + ") REFERENCES " + c.d.Quote(con.References) + " (" + c.quoteAll(foreign) + ")"
		if con.OnDelete != "" {
			def += " ON DELETE " + strings.ToUpper(con.OnDelete)
		}
		if con.OnUpdate != "" {
			def += " ON UPDATE " + strings.ToUpper(con.OnUpdate)
		}
	case "check":
		cond, err := b.conditions(con.Check)
		if err != nil {
			return "", err
		}
		def = "CHECK (" + cond + ")"
	case "":
		return "", &ClauseError{Statement: "CREATE TABLE", Clause: "constraint type"}
	default:
		return "", malformed(con, "unknown constraint type %q", con.Type)
	}
	if con.Name != "" {
		def = "CONSTRAINT " + c.d.quoteIdent(con.Name) + " " + def
	}
	return def, nil
}

func (c *CreateTable) quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = c.d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}
