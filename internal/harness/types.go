package harness

// Outcome of a step that succeeded. Failed steps record their error code.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Action  string         `json:"action"`
	As      string         `json:"as,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Result  map[string]any `json:"result,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds setup and flow steps in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists expect and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
