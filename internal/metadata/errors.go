package metadata

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports a malformed relation or schema declaration.
	ErrConfig = errors.New("invalid configuration")

	// ErrUnresolvedRelation reports a relation name unknown on an entity.
	ErrUnresolvedRelation = errors.New("unresolved relation")

	// ErrUnknownEntity reports an entity name missing from the registry.
	ErrUnknownEntity = errors.New("unknown entity")
)

// ConfigError names the relation that failed to build. It matches ErrConfig
// and, when set, the underlying cause.
type ConfigError struct {
	Relation string
	Reason   string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relation %s: %s: %v", e.Relation, e.Reason, e.Err)
	}
	return fmt.Sprintf("relation %s: %s", e.Relation, e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfig, e.Err}
	}
	return []error{ErrConfig}
}
