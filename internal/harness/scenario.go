package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session against the command surface.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description says what the scenario demonstrates.
	Description string `yaml:"description"`

	// Users are the accounts steps can act as, keyed by handle.
	Users map[string]UserSpec `yaml:"users,omitempty"`

	// Setup steps run before the flow. Any failure aborts the run.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps run in order. A failing step is recorded and the flow
	// continues; expect clauses decide whether that was intended.
	Flow []Step `yaml:"flow"`

	// Assertions are evaluated after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// UserSpec is a signed-in account.
type UserSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Step invokes one action.
type Step struct {
	// Invoke is the action name, e.g. "event.create".
	Invoke string `yaml:"invoke"`

	// As is the user handle the step acts as. Empty means signed out.
	As string `yaml:"as,omitempty"`

	// Args are the action arguments.
	Args map[string]any `yaml:"args"`

	// Save stores the id returned by the step under a name that later
	// steps reference as "$name".
	Save string `yaml:"save,omitempty"`

	// Expect checks the step outcome. If nil, the step is not checked.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Outcome is "ok" or an error code such as NOT_MEMBER.
	Outcome string `yaml:"outcome"`

	// Result is a subset match against the step result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the state after the flow.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args are matched as a subset by trace_contains.
	Args map[string]any `yaml:"args,omitempty"`

	// Actions is the expected order for trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// Table is a local collection (local_state) or a remote collection
	// path (remote_state). "$name" references are allowed in paths.
	Table string `yaml:"table,omitempty"`

	// Where selects records by field equality.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match applied to every selected record.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the exact number of matches. For local_state and
	// remote_state a nil Count requires at least one match.
	Count *int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertLocalState    = "local_state"
	AssertRemoteState   = "remote_state"
	AssertRemoteCommits = "remote_commits"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for handle, u := range s.Users {
		if u.ID == "" {
			return fmt.Errorf("users.%s: id is required", handle)
		}
	}

	saved := map[string]bool{}
	check := func(section string, i int, step Step) error {
		if step.Invoke == "" {
			return fmt.Errorf("%s[%d]: invoke is required", section, i)
		}
		if _, ok := actions[step.Invoke]; !ok {
			return fmt.Errorf("%s[%d]: unknown action %q", section, i, step.Invoke)
		}
		if step.Args == nil {
			return fmt.Errorf("%s[%d]: args is required (use empty map if no args)", section, i)
		}
		if step.As != "" {
			if _, ok := s.Users[step.As]; !ok {
				return fmt.Errorf("%s[%d]: unknown user %q", section, i, step.As)
			}
		}
		for key, v := range step.Args {
			ref, ok := v.(string)
			if ok && strings.HasPrefix(ref, "$") && !saved[ref[1:]] {
				return fmt.Errorf("%s[%d].args.%s: %s is not saved by an earlier step", section, i, key, ref)
			}
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("%s[%d].expect: outcome is required", section, i)
		}
		if step.Save != "" {
			saved[step.Save] = true
		}
		return nil
	}
	for i, step := range s.Setup {
		if err := check("setup", i, step); err != nil {
			return err
		}
	}
	for i, step := range s.Flow {
		if err := check("flow", i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: trace_contains requires action", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order requires at least 2 actions", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: trace_count requires action", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: trace_count requires a non-negative count", index)
		}
	case AssertLocalState, AssertRemoteState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: %s requires table", index, a.Type)
		}
	case AssertRemoteCommits:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: remote_commits requires a non-negative count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}
