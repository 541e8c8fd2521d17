package pxp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ActionStatus is the lifecycle state recorded in action metadata.
// It traverses running -> success or running -> failure, exactly once.
type ActionStatus string

const (
	StatusRunning ActionStatus = "running"
	StatusSuccess ActionStatus = "success"
	StatusFailure ActionStatus = "failure"
)

// ResponseKind selects the wire shape produced by Response.ToWire.
type ResponseKind int

const (
	// KindBlocking is the inline reply to a blocking request.
	KindBlocking ResponseKind = iota
	// KindNonBlocking is the pushed completion message for a non-blocking
	// request whose sender asked to be notified.
	KindNonBlocking
	// KindStatusOutput is the reply to a status query, exposing the
	// captured subprocess output alongside the recorded status.
	KindStatusOutput
	// KindRPCError is an application-level error reply.
	KindRPCError
)

// ActionOutput carries the captured subprocess output of an external
// action. It is kept out of the metadata document and only rendered by the
// StatusOutput wire shape.
type ActionOutput struct {
	Stdout   string
	Stderr   string
	Exitcode int
}

// actionMetadataSchema is the fixed schema every response must satisfy
// before it is sent on the wire or persisted to the spool.
const actionMetadataSchema = `{
	"type": "object",
	"properties": {
		"requester":         {"type": "string"},
		"module":            {"type": "string"},
		"action":            {"type": "string"},
		"request_params":    {"type": "string"},
		"transaction_id":    {"type": "string"},
		"request_id":        {"type": "string"},
		"notify_outcome":    {"type": "boolean"},
		"start":             {"type": "string"},
		"status":            {"type": "string", "enum": ["running", "success", "failure"]},
		"end":               {"type": "string"},
		"results":           {},
		"results_are_valid": {"type": "boolean"},
		"execution_error":   {"type": "string"}
	},
	"required": ["requester", "module", "action", "request_params",
		"transaction_id", "request_id", "notify_outcome", "start", "status"]
}`

var metadataValidator *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(actionMetadataSchema))
	if err != nil {
		panic(fmt.Sprintf("pxp: cannot compile action metadata schema: %v", err))
	}
	metadataValidator = schema
}

// Response assembles the structured action metadata for one request. It is
// created in the running state, transitioned exactly once to success or
// failure, and then rendered to the wire or persisted as the transaction's
// metadata document.
type Response struct {
	Requester       string          `json:"requester"`
	Module          string          `json:"module"`
	Action          string          `json:"action"`
	RequestParams   string          `json:"request_params"`
	TransactionID   string          `json:"transaction_id"`
	RequestID       string          `json:"request_id"`
	NotifyOutcome   bool            `json:"notify_outcome"`
	Start           string          `json:"start"`
	Status          ActionStatus    `json:"status"`
	End             string          `json:"end,omitempty"`
	Results         json.RawMessage `json:"results,omitempty"`
	ResultsAreValid *bool           `json:"results_are_valid,omitempty"`
	ExecutionError  string          `json:"execution_error,omitempty"`

	// Output holds captured subprocess output for status queries; it is
	// not part of the metadata document.
	Output ActionOutput `json:"-"`
}

// NewResponse pre-populates a running response from the request it answers.
func NewResponse(req *Request) *Response {
	params := req.ParamsText()
	if params == "" {
		params = "none"
	}

	return &Response{
		Requester:     req.Sender(),
		Module:        req.Module(),
		Action:        req.Action(),
		RequestParams: params,
		TransactionID: req.TransactionID(),
		RequestID:     req.ID(),
		NotifyOutcome: req.NotifyOutcome(),
		Start:         time.Now().UTC().Format(time.RFC3339),
		Status:        StatusRunning,
	}
}

// MarkSuccess transitions the response to the success state, recording the
// results as valid. A non-empty executionError may be carried alongside a
// success, e.g. when the action completed but the outcome notification
// could not be delivered.
func (r *Response) MarkSuccess(results json.RawMessage, executionError string) error {
	valid := true
	r.End = time.Now().UTC().Format(time.RFC3339)
	r.ResultsAreValid = &valid
	r.Results = results
	r.Status = StatusSuccess
	if executionError != "" {
		r.ExecutionError = executionError
	}
	return r.Validate()
}

// MarkFailure transitions the response to the failure state.
func (r *Response) MarkFailure(executionError string) error {
	valid := false
	r.End = time.Now().UTC().Format(time.RFC3339)
	r.ResultsAreValid = &valid
	r.ExecutionError = executionError
	r.Status = StatusFailure
	return r.Validate()
}

// Validate checks the response against the action metadata schema. A
// failure here is a programmer error: responses are only ever mutated
// through the transition methods.
func (r *Response) Validate() error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to serialize action metadata: %w", err)
	}
	if !IsValidMetadata(raw) {
		return fmt.Errorf("invalid action metadata: %s", raw)
	}
	return nil
}

// MetadataJSON renders the validated metadata document.
func (r *Response) MetadataJSON() (json.RawMessage, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// IsValidMetadata reports whether a raw JSON document satisfies the action
// metadata schema. Spool readers use it to recognise well-formed metadata
// files.
func IsValidMetadata(raw json.RawMessage) bool {
	result, err := metadataValidator.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return false
	}
	return result.Valid()
}

// ToWire renders the response in the requested wire shape. The response
// must be valid for that shape: blocking and non-blocking replies need
// results, RPC errors need an execution error.
func (r *Response) ToWire(kind ResponseKind) (json.RawMessage, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	switch kind {
	case KindBlocking, KindNonBlocking:
		if r.Results == nil {
			return nil, fmt.Errorf("no results to render for transaction %s", r.TransactionID)
		}
		return json.Marshal(map[string]json.RawMessage{
			"transaction_id": mustMarshal(r.TransactionID),
			"results":        r.Results,
		})
	case KindStatusOutput:
		return json.Marshal(map[string]interface{}{
			"transaction_id": r.TransactionID,
			"status":         r.Status,
			"stdout":         r.Output.Stdout,
			"stderr":         r.Output.Stderr,
			"exitcode":       r.Output.Exitcode,
		})
	case KindRPCError:
		if r.ExecutionError == "" {
			return nil, fmt.Errorf("no execution error to render for request %s", r.RequestID)
		}
		return json.Marshal(map[string]string{
			"id":          r.RequestID,
			"description": r.ExecutionError,
		})
	default:
		return nil, fmt.Errorf("unknown response kind %d", kind)
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
