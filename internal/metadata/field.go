package metadata

import "chaos-orm/internal/dialect"

type Field struct {
	Name      string `yaml:"name" json:"name"`
	Type      string `yaml:"type" json:"type"`
	Required  bool   `yaml:"required" json:"required,omitempty"`
	Unique    bool   `yaml:"unique" json:"unique,omitempty"`
	Default   any    `yaml:"default" json:"default,omitempty"`
	Nullable  bool   `yaml:"nullable" json:"nullable,omitempty"`
	Length    int    `yaml:"length" json:"length,omitempty"`
	Precision int    `yaml:"precision" json:"precision,omitempty"`
	Scale     int    `yaml:"scale" json:"scale,omitempty"`
	Auto      string `yaml:"auto" json:"auto,omitempty"` // "create" or "update"
}

// Column converts the field into a dialect column definition.
func (f Field) Column() dialect.Column {
	return dialect.Column{
		Name:      f.Name,
		Type:      f.Type,
		Length:    f.Length,
		Precision: f.Precision,
		Scale:     f.Scale,
		NotNull:   f.Required && !f.Nullable,
		Default:   f.Default,
	}
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}
