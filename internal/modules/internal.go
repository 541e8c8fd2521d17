package modules

import (
	"encoding/json"
	"fmt"

	"github.com/dyluth/warren/internal/validate"
)

// internalModule carries the descriptor fields shared by the built-in
// modules; each built-in embeds it and adds its Execute method.
type internalModule struct {
	name    string
	actions []string
	input   *validate.Registry
	output  *validate.Registry
}

func newInternalModule(name string) internalModule {
	return internalModule{
		name:   name,
		input:  validate.NewRegistry(),
		output: validate.NewRegistry(),
	}
}

// registerAction declares an action with its input and output schemas.
// Built-in schemas are literals, so a compilation failure is a programmer
// error.
func (m *internalModule) registerAction(name string, input, output json.RawMessage) {
	if err := m.input.Register(name, input); err != nil {
		panic(fmt.Sprintf("modules: invalid input schema for '%s %s': %v", m.name, name, err))
	}
	if err := m.output.Register(name, output); err != nil {
		panic(fmt.Sprintf("modules: invalid output schema for '%s %s': %v", m.name, name, err))
	}
	m.actions = append(m.actions, name)
}

func (m *internalModule) Name() string { return m.name }

func (m *internalModule) Kind() Kind { return KindInternal }

func (m *internalModule) Actions() []string { return m.actions }

func (m *internalModule) HasAction(name string) bool { return hasAction(m.actions, name) }

func (m *internalModule) InputValidator() *validate.Registry { return m.input }

func (m *internalModule) OutputValidator() *validate.Registry { return m.output }
