package modules

import (
	"encoding/json"
	"fmt"

	"github.com/dyluth/warren/pkg/pxp"
)

// Echo is the trivial built-in module: it returns the request argument
// unchanged. Useful for connectivity and round-trip checks.
type Echo struct {
	internalModule
}

// NewEcho builds the echo module with its single "echo" action.
func NewEcho() *Echo {
	m := &Echo{internalModule: newInternalModule("echo")}
	m.registerAction("echo",
		json.RawMessage(`{
			"type": "object",
			"properties": {"argument": {"type": "string"}},
			"required": ["argument"]
		}`),
		json.RawMessage(`{
			"type": "object",
			"properties": {"outcome": {"type": "string"}},
			"required": ["outcome"]
		}`))
	return m
}

// Execute returns {"outcome": <argument>}.
func (m *Echo) Execute(req *pxp.Request) (ActionOutcome, error) {
	var params struct {
		Argument string `json:"argument"`
	}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return ActionOutcome{}, &ProcessingError{
			Reason: fmt.Sprintf("failed to parse echo params: %v", err),
		}
	}

	results, err := json.Marshal(map[string]string{"outcome": params.Argument})
	if err != nil {
		return ActionOutcome{}, &ProcessingError{
			Reason: fmt.Sprintf("failed to serialize echo results: %v", err),
		}
	}

	return ActionOutcome{Kind: KindInternal, Results: results}, nil
}
