// Package spool manages the durable per-transaction state of non-blocking
// requests: one directory per transaction under the agent spool, holding the
// action metadata plus the captured output of external actions. All writes
// are atomic (temp file + rename), so the metadata file is always either the
// previous or the new complete document.
package spool

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dyluth/warren/pkg/pxp"
)

const (
	metadataFile = "metadata"
	stdoutFile   = "stdout"
	stderrFile   = "stderr"
	exitcodeFile = "exitcode"
)

// StoreError indicates a filesystem failure while initializing or updating
// a transaction's result files.
type StoreError struct {
	TransactionID string
	Err           error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("results store error for transaction %s: %v", e.TransactionID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store owns the results directory of one non-blocking transaction. It is
// created by the request processor before the background task is enqueued
// and from then on is used only by that task; concurrent readers coordinate
// through the transaction mutex table.
type Store struct {
	transactionID string
	dir           string
	metadata      *pxp.Response
}

// NewStore creates the transaction's results directory if missing, writes
// the initial metadata document (status running) and registers the
// transaction mutex. Returns a *StoreError if the directory or the file
// cannot be created.
//
// The mutex is registered before the first metadata write; no background
// task exists yet at that point, so the write itself does not need to take
// it. If a metadata file is already present - a duplicate transaction id -
// the existing document is left untouched.
func NewStore(req *pxp.Request, table *MutexTable) (*Store, error) {
	dir := req.ResultsDir()
	if dir == "" {
		return nil, &StoreError{
			TransactionID: req.TransactionID(),
			Err:           fmt.Errorf("no results directory set on request"),
		}
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Printf("[DEBUG] Creating results directory for '%s %s', transaction %s, in %s",
			req.Module(), req.Action(), req.TransactionID(), dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StoreError{
				TransactionID: req.TransactionID(),
				Err:           fmt.Errorf("failed to create results directory: %w", err),
			}
		}
	}

	store := &Store{
		transactionID: req.TransactionID(),
		dir:           dir,
		metadata:      pxp.NewResponse(req),
	}

	table.Add(req.TransactionID())

	metadataPath := filepath.Join(dir, metadataFile)
	if _, err := os.Stat(metadataPath); err == nil {
		// A previous request already initialized this transaction; keep
		// its metadata rather than resetting a possibly-completed record.
		log.Printf("[WARN] Metadata for transaction %s already exists; not overwriting",
			req.TransactionID())
		return store, nil
	}

	raw, err := store.metadata.MetadataJSON()
	if err != nil {
		return nil, &StoreError{TransactionID: req.TransactionID(), Err: err}
	}
	if err := atomicWrite(metadataPath, append(raw, '\n')); err != nil {
		return nil, &StoreError{TransactionID: req.TransactionID(), Err: err}
	}

	return store, nil
}

// TransactionID returns the transaction this store belongs to.
func (s *Store) TransactionID() string { return s.transactionID }

// Dir returns the transaction's results directory.
func (s *Store) Dir() string { return s.dir }

// Metadata returns the live metadata document. The owning task transitions
// it to success or failure before calling WriteMetadata.
func (s *Store) Metadata() *pxp.Response { return s.metadata }

// WriteMetadata merges the execution outcome fields into the live metadata
// and atomically replaces the metadata file. The caller holds the
// per-transaction mutex for the duration of the call.
func (s *Store) WriteMetadata(exitcode int, execError string, duration time.Duration) error {
	if execError != "" && s.metadata.ExecutionError == "" {
		s.metadata.ExecutionError = execError
	}

	raw, err := s.metadata.MetadataJSON()
	if err != nil {
		return &StoreError{TransactionID: s.transactionID, Err: err}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &StoreError{TransactionID: s.transactionID, Err: err}
	}
	doc["completed"] = true
	doc["duration"] = fmt.Sprintf("%.3f s", duration.Seconds())
	doc["exitcode"] = exitcode

	merged, err := json.Marshal(doc)
	if err != nil {
		return &StoreError{TransactionID: s.transactionID, Err: err}
	}

	path := filepath.Join(s.dir, metadataFile)
	if err := atomicWrite(path, append(merged, '\n')); err != nil {
		return &StoreError{TransactionID: s.transactionID, Err: err}
	}
	return nil
}

// WriteOutput persists the captured output of an external action: raw
// stdout and stderr, and the exit code as an ASCII integer with a trailing
// newline.
func (s *Store) WriteOutput(stdout, stderr string, exitcode int) error {
	files := map[string][]byte{
		stdoutFile:   []byte(stdout),
		stderrFile:   []byte(stderr),
		exitcodeFile: []byte(fmt.Sprintf("%d\n", exitcode)),
	}
	for name, data := range files {
		if err := atomicWrite(filepath.Join(s.dir, name), data); err != nil {
			return &StoreError{TransactionID: s.transactionID, Err: err}
		}
	}
	return nil
}
