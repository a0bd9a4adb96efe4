package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/fellowship/internal/commands"
	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/gateway"
	"github.com/roach88/fellowship/internal/ids"
	"github.com/roach88/fellowship/internal/localstore"
	"github.com/roach88/fellowship/internal/projection"
	"github.com/roach88/fellowship/internal/remote"
)

// Epoch is the fixed wall clock every scenario runs at.
var Epoch = time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)

// Harness holds the stores and services of one scenario run.
type Harness struct {
	svc    *commands.Service
	local  *localstore.Store
	remote *remote.MemoryStore
	engine *projection.Engine
	users  map[string]domain.User
	saved  map[string]string
	seq    int64
	logger *slog.Logger
}

// Run executes a scenario against fresh stores and returns the result.
// A non-nil error means the scenario could not run at all; failed
// expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunContext is Run with a context and a logger for step progress.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	now := func() time.Time { return Epoch }

	local, err := localstore.Open(":memory:", localstore.WithNow(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer local.Close()

	engine, err := projection.New(projection.DefaultRules()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create projection engine: %w", err)
	}
	local.Use(engine)

	rs := remote.NewMemoryStore(remote.WithClock(now))
	defer rs.Close()

	gen := ids.NewSequenceGenerator("id")
	h := &Harness{
		svc: commands.New(local,
			commands.WithGateway(gateway.New(rs, gateway.WithIDGenerator(gen))),
			commands.WithIDGenerator(gen),
			commands.WithNow(now),
		),
		local:  local,
		remote: rs,
		engine: engine,
		users:  make(map[string]domain.User, len(scenario.Users)),
		saved:  make(map[string]string),
		logger: logger,
	}
	for handle, u := range scenario.Users {
		h.users[handle] = domain.User{ID: u.ID, Name: u.Name}
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		ev := h.execute(ctx, step)
		result.AddTrace(ev)
		if ev.Outcome != OutcomeOK {
			return nil, fmt.Errorf("setup step %d (%s) failed: %s", i, step.Invoke, ev.Outcome)
		}
	}

	for i, step := range scenario.Flow {
		ev := h.execute(ctx, step)
		result.AddTrace(ev)
		if step.Expect != nil {
			for _, msg := range h.checkExpect(i, step, ev) {
				result.AddError(msg)
			}
		}
	}

	actx := &AssertionContext{Ctx: ctx, Local: local, Remote: rs, Commits: rs.Commits, Resolve: h.resolve}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and records it. Step failures are captured in the
// event outcome.
func (h *Harness) execute(ctx context.Context, step Step) TraceEvent {
	h.seq++
	args := make(map[string]any, len(step.Args))
	for k, v := range step.Args {
		args[k] = h.resolveValue(v)
	}

	out, err := actions[step.Invoke](ctx, h, h.users[step.As], args)
	ev := TraceEvent{
		Seq:     h.seq,
		Action:  step.Invoke,
		As:      step.As,
		Args:    args,
		Outcome: OutcomeOK,
		Result:  out,
	}
	if err != nil {
		ev.Outcome = outcomeOf(err)
	}
	if step.Save != "" {
		if id, ok := out["id"].(string); ok && id != "" {
			h.saved[step.Save] = id
		}
	}

	h.logger.Info("step completed",
		"seq", ev.Seq,
		"action", ev.Action,
		"as", ev.As,
		"outcome", ev.Outcome,
	)
	return ev
}

func outcomeOf(err error) string {
	if code := domain.CodeOf(err); code != "" {
		return string(code)
	}
	return string(domain.CodeInternal)
}

func (h *Harness) checkExpect(i int, step Step, ev TraceEvent) []string {
	var errs []string
	if ev.Outcome != step.Expect.Outcome {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: expected outcome %s, got %s", i, step.Invoke, step.Expect.Outcome, ev.Outcome))
	}
	want := make(map[string]any, len(step.Expect.Result))
	for k, v := range step.Expect.Result {
		want[k] = h.resolveValue(v)
	}
	if !matchArgs(ev.Result, want) {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: expected result %v, got %v", i, step.Invoke, want, ev.Result))
	}
	return errs
}

// resolve replaces "$name" with a saved id. Unknown names are left as is.
func (h *Harness) resolve(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	if id, ok := h.saved[s[1:]]; ok {
		return id
	}
	return s
}

func (h *Harness) resolveValue(v any) any {
	switch val := v.(type) {
	case string:
		return h.resolve(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = h.resolveValue(e)
		}
		return out
	default:
		return v
	}
}
