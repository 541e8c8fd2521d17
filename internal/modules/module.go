// Package modules defines the module contract of the Warren agent and its
// two module variants: internal modules built into the agent binary, and
// external modules backed by standalone executables that speak a JSON
// contract on stdin/stdout.
//
// Modules are created at startup and live for the lifetime of the process.
// Each module exposes a set of named actions; every action has an input and
// an output schema registered under the action's name.
package modules

import (
	"encoding/json"
	"fmt"

	"github.com/dyluth/warren/internal/validate"
	"github.com/dyluth/warren/pkg/pxp"
)

// Kind distinguishes the two module variants. Internal modules complete
// synchronously by contract and therefore accept only blocking requests.
type Kind string

const (
	KindInternal Kind = "internal"
	KindExternal Kind = "external"
)

// ActionOutcome is the result of executing one action. Internal modules
// populate only Results; external modules also carry the captured process
// output.
type ActionOutcome struct {
	Kind     Kind
	Exitcode int
	Stdout   string
	Stderr   string
	Results  json.RawMessage
}

// Module is the contract every module satisfies.
type Module interface {
	// Name returns the module name used for routing.
	Name() string

	// Kind reports whether the module is internal or external.
	Kind() Kind

	// Actions returns the action names in registration order.
	Actions() []string

	// HasAction reports whether the module exposes the named action.
	HasAction(name string) bool

	// InputValidator returns the per-action input schema registry.
	InputValidator() *validate.Registry

	// OutputValidator returns the per-action output schema registry.
	OutputValidator() *validate.Registry

	// Execute runs the requested action. On failure it returns a
	// *ProcessingError; for external modules the returned outcome still
	// carries whatever process output was captured.
	Execute(req *pxp.Request) (ActionOutcome, error)
}

// ProcessingError indicates that a module executed but failed or produced
// invalid output: a non-zero exit code, non-JSON stdout, or results that do
// not satisfy the action's output schema.
type ProcessingError struct {
	Reason string
}

func (e *ProcessingError) Error() string {
	return e.Reason
}

// LoadingError indicates that an external module could not be loaded at
// startup: the executable failed to run, produced invalid JSON, or its
// metadata does not satisfy the metadata schema.
type LoadingError struct {
	Path   string
	Reason string
}

func (e *LoadingError) Error() string {
	return fmt.Sprintf("failed to load module from %s: %s", e.Path, e.Reason)
}

// hasAction is the shared lookup used by both module variants.
func hasAction(actions []string, name string) bool {
	for _, action := range actions {
		if action == name {
			return true
		}
	}
	return false
}
