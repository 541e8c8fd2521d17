package modules

import (
	"encoding/json"
	"fmt"

	"github.com/dyluth/warren/internal/spool"
	"github.com/dyluth/warren/pkg/pxp"
)

// Status answers queries about spooled non-blocking transactions. It is the
// read side of the spool: it takes the per-transaction mutex when one is
// still registered, so a query never observes a metadata file mid-update.
type Status struct {
	internalModule
	spoolDir string
	mutexes  *spool.MutexTable
}

// NewStatus builds the status module. It shares the transaction mutex
// table with the request processor.
func NewStatus(spoolDir string, mutexes *spool.MutexTable) *Status {
	m := &Status{
		internalModule: newInternalModule("status"),
		spoolDir:       spoolDir,
		mutexes:        mutexes,
	}
	m.registerAction("query",
		json.RawMessage(`{
			"type": "object",
			"properties": {"transaction_id": {"type": "string"}},
			"required": ["transaction_id"]
		}`),
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"status":   {"type": "string"},
				"stdout":   {"type": "string"},
				"stderr":   {"type": "string"},
				"exitcode": {"type": "integer"}
			},
			"required": ["status"]
		}`))
	return m
}

// Execute looks up the queried transaction in the spool. An id with no
// spool entry yields status "unknown"; a transaction whose task is still
// running is read under its mutex.
func (m *Status) Execute(req *pxp.Request) (ActionOutcome, error) {
	var params struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return ActionOutcome{}, &ProcessingError{
			Reason: fmt.Sprintf("failed to parse status params: %v", err),
		}
	}

	if !spool.Exists(m.spoolDir, params.TransactionID) {
		results, err := json.Marshal(map[string]string{"status": "unknown"})
		if err != nil {
			return ActionOutcome{}, &ProcessingError{Reason: err.Error()}
		}
		return ActionOutcome{Kind: KindInternal, Results: results}, nil
	}

	// The mutex is only registered while a task is in flight; after
	// completion the entry is gone and the persisted metadata is stable.
	if mtx, err := m.mutexes.Get(params.TransactionID); err == nil {
		mtx.Lock()
		defer mtx.Unlock()
	}

	record, err := spool.ReadRecord(m.spoolDir, params.TransactionID)
	if err != nil {
		return ActionOutcome{}, &ProcessingError{
			Reason: fmt.Sprintf("failed to read results of transaction %s: %v",
				params.TransactionID, err),
		}
	}

	results, err := json.Marshal(map[string]interface{}{
		"status":   record.Status(),
		"stdout":   record.Stdout,
		"stderr":   record.Stderr,
		"exitcode": record.Exitcode,
	})
	if err != nil {
		return ActionOutcome{}, &ProcessingError{Reason: err.Error()}
	}

	return ActionOutcome{Kind: KindInternal, Results: results}, nil
}
