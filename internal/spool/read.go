package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Record is the durable state of one spooled transaction, as read back from
// its results directory.
type Record struct {
	TransactionID string
	Metadata      json.RawMessage
	Stdout        string
	Stderr        string
	Exitcode      int
	HasExitcode   bool
}

// Status extracts the status field from the metadata document, or "unknown"
// when the metadata is missing or malformed.
func (r *Record) Status() string {
	var doc struct {
		Status string `json:"status"`
	}
	if len(r.Metadata) == 0 || json.Unmarshal(r.Metadata, &doc) != nil || doc.Status == "" {
		return "unknown"
	}
	return doc.Status
}

// Exists reports whether a results directory is present for the transaction.
func Exists(spoolDir, transactionID string) bool {
	info, err := os.Stat(filepath.Join(spoolDir, transactionID))
	return err == nil && info.IsDir()
}

// ReadRecord loads a transaction's persisted state from the spool. The
// metadata file must exist; the output files are optional since blocking
// failures and crashes can leave them unwritten.
//
// Callers that can race a running task hold the transaction mutex around
// this call.
func ReadRecord(spoolDir, transactionID string) (*Record, error) {
	dir := filepath.Join(spoolDir, transactionID)

	metadata, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, &StoreError{
			TransactionID: transactionID,
			Err:           fmt.Errorf("failed to read metadata: %w", err),
		}
	}

	record := &Record{
		TransactionID: transactionID,
		Metadata:      json.RawMessage(strings.TrimRight(string(metadata), "\n")),
	}

	if out, err := os.ReadFile(filepath.Join(dir, stdoutFile)); err == nil {
		record.Stdout = string(out)
	}
	if errOut, err := os.ReadFile(filepath.Join(dir, stderrFile)); err == nil {
		record.Stderr = string(errOut)
	}
	if code, err := os.ReadFile(filepath.Join(dir, exitcodeFile)); err == nil {
		parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(code)))
		if parseErr == nil {
			record.Exitcode = parsed
			record.HasExitcode = true
		}
	}

	return record, nil
}

// List enumerates the transaction ids present in the spool, sorted.
// Non-directory entries are skipped; an absent spool is an empty list.
func List(spoolDir string) ([]string, error) {
	entries, err := os.ReadDir(spoolDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory %s: %w", spoolDir, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
