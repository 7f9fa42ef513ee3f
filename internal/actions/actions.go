// Package actions routes imperative client actions to connector
// handlers. Dispatch is idempotent: results are cached by action ID
// and by client-supplied idempotency key, so a retried request replays
// the recorded outcome instead of re-executing.
package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lakegate/lakegate/internal/syncrules"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// Action is one imperative request addressed to a connector.
type Action struct {
	ActionID       string          `json:"actionId"`
	ClientID       string          `json:"clientId"`
	HLC            hlc.Timestamp   `json:"hlc"`
	Connector      string          `json:"connector"`
	ActionType     string          `json:"actionType"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// Status of one dispatched action.
type Status string

const (
	StatusOK           Status = "ok"
	StatusError        Status = "error"
	StatusNotSupported Status = "not_supported"
)

// Result is the per-action outcome. Output carries the handler's
// response document for successful actions.
type Result struct {
	ActionID  string          `json:"actionId"`
	Status    Status          `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// Response is the batch outcome returned to the client.
type Response struct {
	Results   []Result      `json:"results"`
	ServerHLC hlc.Timestamp `json:"serverHlc"`
}

// Handler executes actions for one connector. The auth context carries
// the caller's claims; handlers enforce their own authorisation.
type Handler interface {
	Supports(actionType string) bool
	ExecuteAction(ctx context.Context, action Action, auth *syncrules.Context) (json.RawMessage, error)
}

// ValidationError rejects the whole batch at the first structurally
// invalid action.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("actions: action %d invalid: %s %s", e.Index, e.Field, e.Reason)
}

// ExecutionError reports a handler failure. Retryable failures are
// never cached, so a client retry reaches the handler again.
type ExecutionError struct {
	Connector string
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("actions: connector %q: %v", e.Connector, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func validateAction(index int, a *Action) error {
	switch {
	case a.ActionID == "":
		return &ValidationError{Index: index, Field: "actionId", Reason: "is required"}
	case a.ClientID == "":
		return &ValidationError{Index: index, Field: "clientId", Reason: "is required"}
	case a.Connector == "":
		return &ValidationError{Index: index, Field: "connector", Reason: "is required"}
	case a.ActionType == "":
		return &ValidationError{Index: index, Field: "actionType", Reason: "is required"}
	case a.HLC == 0:
		return &ValidationError{Index: index, Field: "hlc", Reason: "is required"}
	}

	return nil
}
