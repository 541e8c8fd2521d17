package modules

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/dyluth/warren/pkg/pxp"
)

// Ping reports the hops a request travelled through, read from the debug
// chunks that intermediate brokers append to the message.
type Ping struct {
	internalModule
}

// NewPing builds the ping module with its single "ping" action.
func NewPing() *Ping {
	m := &Ping{internalModule: newInternalModule("ping")}
	m.registerAction("ping",
		json.RawMessage(`{
			"type": "object",
			"properties": {"sender_timestamp": {"type": "string"}}
		}`),
		json.RawMessage(`{
			"type": "object",
			"properties": {"request_hops": {"type": "array"}},
			"required": ["request_hops"]
		}`))
	return m
}

// Execute extracts the hop list from the first debug chunk.
func (m *Ping) Execute(req *pxp.Request) (ActionOutcome, error) {
	debug := req.ParsedChunks().Debug
	if len(debug) == 0 {
		log.Printf("[ERROR] Found no debug entry in request %s", req.ID())
		return ActionOutcome{}, &ProcessingError{Reason: "no debug entry in request"}
	}

	var entry struct {
		Hops json.RawMessage `json:"hops"`
	}
	if err := json.Unmarshal(debug[0], &entry); err != nil || entry.Hops == nil {
		log.Printf("[ERROR] Failed to parse debug entry of request %s: %v", req.ID(), err)
		return ActionOutcome{}, &ProcessingError{Reason: "debug entry is not valid JSON"}
	}

	results, err := json.Marshal(map[string]json.RawMessage{"request_hops": entry.Hops})
	if err != nil {
		return ActionOutcome{}, &ProcessingError{
			Reason: fmt.Sprintf("failed to serialize ping results: %v", err),
		}
	}

	return ActionOutcome{Kind: KindInternal, Results: results}, nil
}
