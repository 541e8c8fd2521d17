package spool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/warren/pkg/pxp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRequest(t *testing.T, spoolDir, transactionID string) *pxp.Request {
	t.Helper()

	req, err := pxp.NewRequest(pxp.RequestTypeNonBlocking, pxp.ParsedChunks{
		Envelope: json.RawMessage(`{"id": "msg-1", "sender": "controller-01"}`),
		Data: json.RawMessage(`{"transaction_id": "` + transactionID + `",
			"module": "reverse", "action": "delayed_action",
			"notify_outcome": true, "params": {"argument": "maradona"}}`),
	})
	require.NoError(t, err)

	req.SetResultsDir(filepath.Join(spoolDir, transactionID))
	return req
}

func readMetadata(t *testing.T, dir string) map[string]interface{} {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join(dir, "metadata"))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestNewStore_InitializesMetadata(t *testing.T) {
	spoolDir := t.TempDir()
	table := NewMutexTable()
	req := makeRequest(t, spoolDir, "tx-1")

	store, err := NewStore(req, table)
	require.NoError(t, err)

	// The metadata file is discoverable immediately, before any task runs.
	doc := readMetadata(t, store.Dir())
	assert.Equal(t, "running", doc["status"])
	assert.Equal(t, "tx-1", doc["transaction_id"])
	assert.Equal(t, "msg-1", doc["request_id"])
	assert.Equal(t, "controller-01", doc["requester"])
	assert.Equal(t, "reverse", doc["module"])
	assert.Equal(t, "delayed_action", doc["action"])

	// The transaction mutex is registered as part of initialization.
	assert.True(t, table.Has("tx-1"))
}

func TestNewStore_MissingResultsDir(t *testing.T) {
	req, err := pxp.NewRequest(pxp.RequestTypeNonBlocking, pxp.ParsedChunks{
		Envelope: json.RawMessage(`{"id": "msg-1", "sender": "s"}`),
		Data: json.RawMessage(`{"transaction_id": "tx-1", "module": "m",
			"action": "a", "notify_outcome": false}`),
	})
	require.NoError(t, err)

	_, err = NewStore(req, NewMutexTable())
	require.Error(t, err)

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestStore_WriteMetadata(t *testing.T) {
	spoolDir := t.TempDir()
	table := NewMutexTable()
	req := makeRequest(t, spoolDir, "tx-2")

	store, err := NewStore(req, table)
	require.NoError(t, err)

	require.NoError(t, store.Metadata().MarkSuccess(json.RawMessage(`{"done": true}`), ""))
	require.NoError(t, store.WriteMetadata(0, "", 1500*time.Millisecond))

	doc := readMetadata(t, store.Dir())
	assert.Equal(t, "success", doc["status"])
	assert.Equal(t, true, doc["completed"])
	assert.Equal(t, "1.500 s", doc["duration"])
	assert.Equal(t, float64(0), doc["exitcode"])
	assert.Equal(t, true, doc["results_are_valid"])

	// No temp files are left behind by the atomic writes.
	leftovers, err := filepath.Glob(filepath.Join(store.Dir(), ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_WriteMetadataFailure(t *testing.T) {
	spoolDir := t.TempDir()
	table := NewMutexTable()
	req := makeRequest(t, spoolDir, "tx-3")

	store, err := NewStore(req, table)
	require.NoError(t, err)

	require.NoError(t, store.Metadata().MarkFailure("failed to execute: exit 3"))
	require.NoError(t, store.WriteMetadata(3, "failed to execute: exit 3", 200*time.Millisecond))

	doc := readMetadata(t, store.Dir())
	assert.Equal(t, "failure", doc["status"])
	assert.Equal(t, false, doc["results_are_valid"])
	assert.Equal(t, float64(3), doc["exitcode"])
	assert.Contains(t, doc["execution_error"], "failed to execute")
}

func TestStore_WriteOutput(t *testing.T) {
	spoolDir := t.TempDir()
	req := makeRequest(t, spoolDir, "tx-4")

	store, err := NewStore(req, NewMutexTable())
	require.NoError(t, err)

	require.NoError(t, store.WriteOutput("captured out", "captured err", 3))

	stdout, err := os.ReadFile(filepath.Join(store.Dir(), "stdout"))
	require.NoError(t, err)
	assert.Equal(t, "captured out", string(stdout))

	stderr, err := os.ReadFile(filepath.Join(store.Dir(), "stderr"))
	require.NoError(t, err)
	assert.Equal(t, "captured err", string(stderr))

	exitcode, err := os.ReadFile(filepath.Join(store.Dir(), "exitcode"))
	require.NoError(t, err)
	assert.Equal(t, "3\n", string(exitcode))
}

// A duplicate transaction id must not clobber the durable state of the
// earlier transaction.
func TestNewStore_DuplicateTransactionKeepsMetadata(t *testing.T) {
	spoolDir := t.TempDir()
	table := NewMutexTable()

	first := makeRequest(t, spoolDir, "tx-5")
	store, err := NewStore(first, table)
	require.NoError(t, err)

	require.NoError(t, store.Metadata().MarkSuccess(json.RawMessage(`{"done": true}`), ""))
	require.NoError(t, store.WriteMetadata(0, "", time.Second))

	second := makeRequest(t, spoolDir, "tx-5")
	_, err = NewStore(second, table)
	require.NoError(t, err)

	doc := readMetadata(t, filepath.Join(spoolDir, "tx-5"))
	assert.Equal(t, "success", doc["status"], "existing metadata must not be overwritten")
	assert.True(t, table.Has("tx-5"))
}

func TestReadRecord(t *testing.T) {
	spoolDir := t.TempDir()
	req := makeRequest(t, spoolDir, "tx-6")

	store, err := NewStore(req, NewMutexTable())
	require.NoError(t, err)
	require.NoError(t, store.WriteOutput("out", "err", 0))
	require.NoError(t, store.Metadata().MarkSuccess(json.RawMessage(`"anodaram"`), ""))
	require.NoError(t, store.WriteMetadata(0, "", time.Second))

	record, err := ReadRecord(spoolDir, "tx-6")
	require.NoError(t, err)

	assert.Equal(t, "success", record.Status())
	assert.Equal(t, "out", record.Stdout)
	assert.Equal(t, "err", record.Stderr)
	assert.True(t, record.HasExitcode)
	assert.Equal(t, 0, record.Exitcode)
}

func TestReadRecord_Missing(t *testing.T) {
	_, err := ReadRecord(t.TempDir(), "tx-none")
	require.Error(t, err)

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestList(t *testing.T) {
	spoolDir := t.TempDir()

	ids, err := List(spoolDir)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"tx-b", "tx-a"} {
		req := makeRequest(t, spoolDir, id)
		_, err := NewStore(req, NewMutexTable())
		require.NoError(t, err)
	}

	ids, err = List(spoolDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"tx-a", "tx-b"}, ids)
}

func TestList_MissingSpool(t *testing.T) {
	ids, err := List(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
