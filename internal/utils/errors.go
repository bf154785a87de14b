package utils

import "fmt"

// AgentError wraps a failed agent operation: the pipeline stage or
// collaborator that observed it, a human-facing message, and the cause.
type AgentError struct {
	Op  string
	Msg string
	Err error
}

func (e *AgentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// Misconfigured reports a required collaborator that is absent or
// unconfigured. These are the only errors that abort a cycle outright.
func Misconfigured(op, collaborator string) error {
	return &AgentError{Op: op, Msg: collaborator + " not configured"}
}
