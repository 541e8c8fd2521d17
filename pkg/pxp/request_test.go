package pxp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunks(t *testing.T, envelope, data string) ParsedChunks {
	t.Helper()
	return ParsedChunks{
		Envelope: json.RawMessage(envelope),
		Data:     json.RawMessage(data),
	}
}

func TestNewRequest_Blocking(t *testing.T) {
	chunks := testChunks(t,
		`{"id": "msg-1", "sender": "controller-01"}`,
		`{"transaction_id": "tx-42", "module": "reverse", "action": "string", "params": "maradona"}`)

	req, err := NewRequest(RequestTypeBlocking, chunks)
	require.NoError(t, err)

	assert.Equal(t, RequestTypeBlocking, req.Type())
	assert.Equal(t, "msg-1", req.ID())
	assert.Equal(t, "controller-01", req.Sender())
	assert.Equal(t, "tx-42", req.TransactionID())
	assert.Equal(t, "reverse", req.Module())
	assert.Equal(t, "string", req.Action())
	assert.False(t, req.NotifyOutcome(), "notify_outcome defaults to false for blocking requests")
	assert.Equal(t, `"maradona"`, string(req.Params()))
	assert.Empty(t, req.ResultsDir())
}

func TestNewRequest_NonBlocking(t *testing.T) {
	chunks := testChunks(t,
		`{"id": "msg-2", "sender": "controller-01"}`,
		`{"transaction_id": "tx-43", "module": "reverse", "action": "delayed_action",
		  "notify_outcome": true, "params": {"argument": "maradona"}}`)

	req, err := NewRequest(RequestTypeNonBlocking, chunks)
	require.NoError(t, err)

	assert.True(t, req.NotifyOutcome())

	req.SetResultsDir("/var/spool/warren/tx-43")
	assert.Equal(t, "/var/spool/warren/tx-43", req.ResultsDir())
}

func TestNewRequest_ParamsText(t *testing.T) {
	chunks := testChunks(t,
		`{"id": "msg-3", "sender": "controller-01"}`,
		`{"transaction_id": "tx-44", "module": "echo", "action": "echo",
		  "params": { "argument" :  "hi" }}`)

	req, err := NewRequest(RequestTypeBlocking, chunks)
	require.NoError(t, err)

	// Canonical text is the compact serialization.
	assert.Equal(t, `{"argument":"hi"}`, req.ParamsText())
}

func TestNewRequest_NoParams(t *testing.T) {
	chunks := testChunks(t,
		`{"id": "msg-4", "sender": "controller-01"}`,
		`{"transaction_id": "tx-45", "module": "ping", "action": "ping"}`)

	req, err := NewRequest(RequestTypeBlocking, chunks)
	require.NoError(t, err)

	assert.Nil(t, req.Params())
	assert.Empty(t, req.ParamsText())
}

func TestNewRequest_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		reqType  RequestType
		envelope string
		data     string
	}{
		{
			name:     "missing sender",
			reqType:  RequestTypeBlocking,
			envelope: `{"id": "msg-1"}`,
			data:     `{"transaction_id": "t", "module": "m", "action": "a"}`,
		},
		{
			name:     "missing id",
			reqType:  RequestTypeBlocking,
			envelope: `{"sender": "s"}`,
			data:     `{"transaction_id": "t", "module": "m", "action": "a"}`,
		},
		{
			name:     "malformed envelope",
			reqType:  RequestTypeBlocking,
			envelope: `not json`,
			data:     `{"transaction_id": "t", "module": "m", "action": "a"}`,
		},
		{
			name:     "missing transaction id",
			reqType:  RequestTypeBlocking,
			envelope: `{"id": "msg-1", "sender": "s"}`,
			data:     `{"module": "m", "action": "a"}`,
		},
		{
			name:     "missing module",
			reqType:  RequestTypeBlocking,
			envelope: `{"id": "msg-1", "sender": "s"}`,
			data:     `{"transaction_id": "t", "action": "a"}`,
		},
		{
			name:     "missing action",
			reqType:  RequestTypeBlocking,
			envelope: `{"id": "msg-1", "sender": "s"}`,
			data:     `{"transaction_id": "t", "module": "m"}`,
		},
		{
			name:     "non-blocking without notify_outcome",
			reqType:  RequestTypeNonBlocking,
			envelope: `{"id": "msg-1", "sender": "s"}`,
			data:     `{"transaction_id": "t", "module": "m", "action": "a"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRequest(tc.reqType, testChunks(t, tc.envelope, tc.data))
			require.Error(t, err)

			var badRequest *BadRequestError
			assert.ErrorAs(t, err, &badRequest)
		})
	}
}

func TestNewRequest_BinaryRejected(t *testing.T) {
	chunks := ParsedChunks{
		Envelope:   json.RawMessage(`{"id": "msg-1", "sender": "s"}`),
		BinaryData: []byte{0x01, 0x02},
	}

	_, err := NewRequest(RequestTypeBlocking, chunks)
	require.Error(t, err)

	var badRequest *BadRequestError
	require.ErrorAs(t, err, &badRequest)
	assert.Contains(t, badRequest.Reason, "binary")
}
