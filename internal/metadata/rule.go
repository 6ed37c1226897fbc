package metadata

// Rule is a validation or computed rule evaluated before an entity is saved.
//
//	rules:
//	  - type: field
//	    field: title
//	    operator: min_length
//	    value: 3
//	  - type: expression
//	    expression: record.score > 100
//	    message: score out of range
type Rule struct {
	Type       string `yaml:"type" json:"type"` // "field", "expression", "computed"
	Field      string `yaml:"field" json:"field,omitempty"`
	Operator   string `yaml:"operator" json:"operator,omitempty"`
	Value      any    `yaml:"value" json:"value,omitempty"`
	Expression string `yaml:"expression" json:"expression,omitempty"`
	Message    string `yaml:"message" json:"message,omitempty"`
	StopOnFail bool   `yaml:"stop_on_fail" json:"stop_on_fail,omitempty"`
}
