package dialect

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedCondition reports an unrecognized operator or node shape.
	ErrMalformedCondition = errors.New("malformed condition")

	// ErrMissingClause reports a render attempted without a required clause.
	ErrMissingClause = errors.New("missing clause")
)

// ConditionError identifies the fragment of a tree that could not be compiled.
type ConditionError struct {
	Fragment any
	Reason   string
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("malformed condition: %s (fragment: %v)", e.Reason, e.Fragment)
}

func (e *ConditionError) Unwrap() error { return ErrMalformedCondition }

func malformed(fragment any, format string, args ...any) error {
	return &ConditionError{Fragment: fragment, Reason: fmt.Sprintf(format, args...)}
}

// ClauseError names the statement and clause missing at render time.
type ClauseError struct {
	Statement string
	Clause    string
}

func (e *ClauseError) Error() string {
	return fmt.Sprintf("invalid `%s` statement: missing %s", e.Statement, e.Clause)
}

func (e *ClauseError) Unwrap() error { return ErrMissingClause }
