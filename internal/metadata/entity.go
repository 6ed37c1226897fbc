package metadata

// Entity describes one persisted record type and the relations it declares.
type Entity struct {
	Name       string           `yaml:"name" json:"name"`
	Table      string           `yaml:"table" json:"table"`
	PrimaryKey PrimaryKey       `yaml:"primary_key" json:"primary_key"`
	SoftDelete bool             `yaml:"soft_delete" json:"soft_delete"`
	Fields     []Field          `yaml:"fields" json:"fields"`
	Relations  []RelationConfig `yaml:"relations" json:"relations,omitempty"`
	Rules      []*Rule          `yaml:"rules" json:"rules,omitempty"`
}

type PrimaryKey struct {
	Field     string `yaml:"field" json:"field"`
	Type      string `yaml:"type" json:"type"` // serial, uuid, int, bigint, string
	Generated bool   `yaml:"generated" json:"generated"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names, primary key first.
func (e *Entity) FieldNames() []string {
	names := make([]string, 0, len(e.Fields)+1)
	if e.PrimaryKey.Field != "" && !e.HasField(e.PrimaryKey.Field) {
		names = append(names, e.PrimaryKey.Field)
	}
	for _, f := range e.Fields {
		names = append(names, f.Name)
	}
	return names
}

// WritableFields returns fields that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp fields.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// Columns returns the column definitions for the entity's table, primary
// key first. Soft-delete entities get a nullable deleted_at column.
func (e *Entity) Columns() []Field {
	cols := make([]Field, 0, len(e.Fields)+2)
	if pk := e.PrimaryKey; pk.Field != "" && !e.HasField(pk.Field) {
		typ := pk.Type
		if typ == "" {
			typ = "serial"
		}
		if pk.Generated && (typ == "int" || typ == "integer") {
			typ = "serial"
		}
		cols = append(cols, Field{Name: pk.Field, Type: typ, Required: true})
	}
	cols = append(cols, e.Fields...)
	if e.SoftDelete && !e.HasField("deleted_at") {
		cols = append(cols, Field{Name: "deleted_at", Type: "timestamp", Nullable: true})
	}
	return cols
}
