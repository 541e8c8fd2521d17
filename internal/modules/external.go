package modules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dyluth/warren/internal/validate"
	"github.com/dyluth/warren/pkg/pxp"
	"github.com/xeipuuv/gojsonschema"
)

const (
	// metadataArg is the argument passed to an external executable to
	// request its metadata document at load time.
	metadataArg = "metadata"

	// maxOutputSize caps how much stdout/stderr is read from an action
	// subprocess (10MB).
	maxOutputSize = 10 * 1024 * 1024
)

// metadataSchema is what an executable's metadata document must satisfy:
// a description plus one entry per action with its input and output
// schemas.
const metadataSchema = `{
	"type": "object",
	"properties": {
		"description":   {"type": "string"},
		"configuration": {"type": "object"},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name":        {"type": "string"},
					"description": {"type": "string"},
					"input":       {"type": "object"},
					"output":      {"type": "object"},
					"behaviour":   {"type": "string"}
				},
				"required": ["name", "input", "output"]
			}
		}
	},
	"required": ["description", "actions"]
}`

var metadataValidator *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(metadataSchema))
	if err != nil {
		panic(fmt.Sprintf("modules: cannot compile module metadata schema: %v", err))
	}
	metadataValidator = schema
}

type externalMetadata struct {
	Description   string           `json:"description"`
	Configuration json.RawMessage  `json:"configuration"`
	Actions       []externalAction `json:"actions"`
}

type externalAction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output"`
	Behaviour   string          `json:"behaviour"`
}

// External is a module backed by a standalone executable. The executable is
// invoked once per action with the action name as its single argument and a
// JSON document on stdin carrying the request params and the module
// configuration; it replies with a JSON document on stdout.
type External struct {
	name        string
	path        string
	description string
	config      json.RawMessage
	actions     []string
	input       *validate.Registry
	output      *validate.Registry
}

// NewExternal loads an external module from an executable. It runs the
// executable with the "metadata" argument, validates the returned metadata
// document and registers each declared action's schemas. The optional
// config document comes from the module's .conf file; when the metadata
// declares a configuration schema the config is validated against it.
//
// Any failure - the executable cannot run, its stdout is not JSON, or the
// metadata does not satisfy the metadata schema - yields a *LoadingError.
func NewExternal(path string, config json.RawMessage) (*External, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(path, metadataArg)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &LoadingError{
			Path:   path,
			Reason: fmt.Sprintf("metadata call failed: %v (stderr: %s)", err, strings.TrimSpace(stderr.String())),
		}
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	result, err := metadataValidator.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &LoadingError{Path: path, Reason: fmt.Sprintf("metadata is not valid JSON: %v", err)}
	}
	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			descriptions = append(descriptions, resultErr.String())
		}
		return nil, &LoadingError{
			Path:   path,
			Reason: fmt.Sprintf("invalid metadata: %s", strings.Join(descriptions, "; ")),
		}
	}

	var metadata externalMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, &LoadingError{Path: path, Reason: fmt.Sprintf("cannot parse metadata: %v", err)}
	}

	m := &External{
		name:        name,
		path:        path,
		description: metadata.Description,
		config:      config,
		input:       validate.NewRegistry(),
		output:      validate.NewRegistry(),
	}

	if len(config) > 0 && len(metadata.Configuration) > 0 {
		configValidator := validate.NewRegistry()
		if err := configValidator.Register("configuration", metadata.Configuration); err != nil {
			return nil, &LoadingError{Path: path, Reason: err.Error()}
		}
		if err := configValidator.Validate("configuration", config); err != nil {
			return nil, &LoadingError{
				Path:   path,
				Reason: fmt.Sprintf("module configuration rejected: %v", err),
			}
		}
		log.Printf("[DEBUG] The '%s' module configuration has been validated", name)
	}

	for _, action := range metadata.Actions {
		if err := m.input.Register(action.Name, action.Input); err != nil {
			return nil, &LoadingError{Path: path, Reason: err.Error()}
		}
		if err := m.output.Register(action.Name, action.Output); err != nil {
			return nil, &LoadingError{Path: path, Reason: err.Error()}
		}
		m.actions = append(m.actions, action.Name)
	}

	return m, nil
}

// Name returns the module name, derived from the executable's file stem.
func (m *External) Name() string { return m.name }

// Description returns the module description from its metadata.
func (m *External) Description() string { return m.description }

func (m *External) Kind() Kind { return KindExternal }

func (m *External) Actions() []string { return m.actions }

func (m *External) HasAction(name string) bool { return hasAction(m.actions, name) }

func (m *External) InputValidator() *validate.Registry { return m.input }

func (m *External) OutputValidator() *validate.Registry { return m.output }

// actionInput is the document written to the executable's stdin.
// Field order matters only for readability of logged payloads.
type actionInput struct {
	Input         json.RawMessage `json:"input"`
	Configuration json.RawMessage `json:"configuration"`
}

// Execute spawns the executable for the requested action and captures its
// output. The subprocess runs to completion; the agent imposes no timeout.
//
// The returned outcome always carries the captured stdout, stderr and exit
// code, also when the error is non-nil, so callers can persist them.
func (m *External) Execute(req *pxp.Request) (ActionOutcome, error) {
	outcome := ActionOutcome{Kind: KindExternal, Exitcode: -1}

	input := actionInput{
		Input:         req.Params(),
		Configuration: m.config,
	}
	if input.Input == nil {
		input.Input = json.RawMessage(`null`)
	}
	if input.Configuration == nil {
		input.Configuration = json.RawMessage(`{}`)
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return outcome, &ProcessingError{
			Reason: fmt.Sprintf("failed to serialize input for '%s %s': %v", m.name, req.Action(), err),
		}
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}

	cmd := exec.Command(m.path, req.Action())
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return outcome, &ProcessingError{
			Reason: fmt.Sprintf("failed to create stdin pipe for '%s %s': %v", m.name, req.Action(), err),
		}
	}

	if err := cmd.Start(); err != nil {
		stdinPipe.Close()
		return outcome, &ProcessingError{
			Reason: fmt.Sprintf("failed to start '%s %s': %v", m.name, req.Action(), err),
		}
	}

	go func() {
		defer stdinPipe.Close()
		if _, err := stdinPipe.Write(inputJSON); err != nil {
			log.Printf("[WARN] Failed to write stdin of '%s %s': %v", m.name, req.Action(), err)
		}
	}()

	waitErr := cmd.Wait()

	outcome.Stdout = stdoutBuf.String()
	outcome.Stderr = stderrBuf.String()

	if stdoutBuf.Len() >= maxOutputSize || stderrBuf.Len() >= maxOutputSize {
		return outcome, &ProcessingError{
			Reason: fmt.Sprintf("'%s %s' output exceeded the %d byte limit", m.name, req.Action(), maxOutputSize),
		}
	}

	outcome.Exitcode = 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			outcome.Exitcode = -1
			return outcome, &ProcessingError{
				Reason: fmt.Sprintf("'%s %s' did not run: %v", m.name, req.Action(), waitErr),
			}
		}
		outcome.Exitcode = exitErr.ExitCode()
	}

	if outcome.Exitcode != 0 {
		return outcome, &ProcessingError{
			Reason: fmt.Sprintf("'%s %s' exited with code %d", m.name, req.Action(), outcome.Exitcode),
		}
	}

	results := bytes.TrimSpace([]byte(outcome.Stdout))
	if len(results) == 0 || !json.Valid(results) {
		return outcome, &ProcessingError{
			Reason: fmt.Sprintf("'%s %s' produced invalid (non-JSON) output", m.name, req.Action()),
		}
	}
	outcome.Results = json.RawMessage(results)

	if err := m.output.Validate(req.Action(), outcome.Results); err != nil {
		// The results are preserved in the outcome even though they do
		// not satisfy the declared output schema.
		return outcome, &ProcessingError{
			Reason: fmt.Sprintf("'%s %s' returned results that do not match the output schema: %v",
				m.name, req.Action(), err),
		}
	}

	return outcome, nil
}

// limitedWriter wraps a writer and silently discards anything past the
// limit; the caller checks the buffer length afterwards.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}
