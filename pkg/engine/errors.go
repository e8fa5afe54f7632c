package engine

import (
	"fmt"
)

// NotInstalledError is returned when a command addresses a query id the
// engine does not know.
type NotInstalledError struct {
	ID string
}

func NewNotInstalledError(id string) *NotInstalledError {
	return &NotInstalledError{ID: id}
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("no installed query with id %q", e.ID)
}

// EvalError is a runtime evaluation fault, scoped to one installed query.
// Other queries sharing the engine keep running.
type EvalError struct {
	QueryID string
	Rule    string
	Err     error
}

func NewEvalError(queryID, rule string, err error) *EvalError {
	return &EvalError{QueryID: queryID, Rule: rule, Err: err}
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluation of rule %q in query %s failed: %v", e.Rule, e.QueryID, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// ConvergenceError is returned when a recursive computation does not reach
// its fixpoint within the configured iteration limit.
type ConvergenceError struct {
	Limit int
}

func NewConvergenceError(limit int) *ConvergenceError {
	return &ConvergenceError{Limit: limit}
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("fixpoint not reached within %d iterations", e.Limit)
}
