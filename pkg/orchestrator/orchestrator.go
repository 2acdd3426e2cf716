// Package orchestrator drives the model exchange for one query: it streams
// fragments, routes tool calls through the proxy and guards the output.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/llm"
	"mcpgateway/pkg/models"
	"mcpgateway/pkg/promptdefense"
	"mcpgateway/pkg/rbac"
	"mcpgateway/pkg/toolproxy"
)

const (
	DefaultMaxToolRounds = 5
	maxParallelTools     = 8
	eventBuffer          = 16
)

type State string

const (
	StateInit                 State = "INIT"
	StateStreaming            State = "STREAMING"
	StateToolCall             State = "TOOL_CALL"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateDone                 State = "DONE"
	StateError                State = "ERROR"
)

var transitions = map[State][]State{
	StateInit:                 {StateStreaming, StateError},
	StateStreaming:            {StateToolCall, StateDone, StateError},
	StateToolCall:             {StateStreaming, StateAwaitingConfirmation, StateError},
	StateAwaitingConfirmation: {StateDone, StateError},
}

func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Invoker executes one authorized tool call.
type Invoker interface {
	Invoke(ctx context.Context, p auth.Principal, server, name string, args json.RawMessage) (models.ToolResponse, error)
}

type Catalog interface {
	Tools(servers []string) []rbac.Tool
}

// Counter receives decision counts; *metrics.Registry satisfies it.
type Counter interface {
	IncReason(reason string)
}

type Orchestrator struct {
	Model         llm.Model
	Tools         Invoker
	Catalog       Catalog
	Guard         *promptdefense.OutputGuard
	Audit         audit.Emitter
	Metrics       Counter
	MaxToolRounds int
}

func New(model llm.Model, tools Invoker, catalog Catalog, emitter audit.Emitter) *Orchestrator {
	return &Orchestrator{
		Model:         model,
		Tools:         tools,
		Catalog:       catalog,
		Guard:         promptdefense.NewOutputGuard(),
		Audit:         emitter,
		MaxToolRounds: DefaultMaxToolRounds,
	}
}

// Run answers q for p in a background goroutine. The returned channel is
// closed when the exchange reaches DONE or ERROR, or as soon as ctx ends;
// the caller writes the stream terminator after that.
func (o *Orchestrator) Run(ctx context.Context, p auth.Principal, q promptdefense.Prepared) <-chan Event {
	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		o.Execute(ctx, p, q, func(ev Event) error {
			select {
			case ch <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return ch
}

// Execute drives the exchange on the calling goroutine and returns the
// terminal state. emit failing aborts the exchange.
func (o *Orchestrator) Execute(ctx context.Context, p auth.Principal, q promptdefense.Prepared, emit func(Event) error) State {
	s := &session{o: o, p: p, q: q, emit: emit, state: StateInit}
	s.run(ctx)
	return s.state
}

type session struct {
	o          *Orchestrator
	p          auth.Principal
	q          promptdefense.Prepared
	emit       func(Event) error
	state      State
	transcript strings.Builder
}

func (s *session) advance(to State) {
	if !CanTransition(s.state, to) {
		log.Printf("orchestrator: invalid transition %s -> %s request_id=%s", s.state, to, s.p.RequestID)
		to = StateError
	}
	s.state = to
}

func (s *session) run(ctx context.Context) {
	var tools []rbac.Tool
	if s.o.Catalog != nil {
		tools = s.o.Catalog.Tools(s.p.AccessibleServers)
	}
	req := llm.Request{
		System: promptdefense.Reinforce(SystemPrompt(s.p), s.q.Boundary),
		Items:  []llm.Item{llm.UserItem(s.q.Framed)},
		Tools:  Manifest(tools),
	}
	permitted := make(map[string]bool, len(req.Tools))
	for _, t := range req.Tools {
		permitted[t.Name] = true
	}

	maxRounds := s.o.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	for round := 0; ; round++ {
		s.advance(StateStreaming)
		turn, blocked, err := s.stream(ctx, req)
		if blocked {
			s.advance(StateError)
			return
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				log.Printf("orchestrator: model stream failed request_id=%s: %v", s.p.RequestID, err)
				_ = s.emit(ErrorEvent(string(apierr.KindUpstreamUnavailable), "The assistant is temporarily unavailable. Please retry.", s.p.RequestID))
			}
			s.advance(StateError)
			return
		}
		if len(turn.ToolCalls) == 0 {
			s.advance(StateDone)
			return
		}
		if round >= maxRounds {
			log.Printf("orchestrator: tool round limit %d reached request_id=%s", maxRounds, s.p.RequestID)
			_ = s.emit(ErrorEvent(string(apierr.KindValidation), "The request needed too many tool calls. Try a narrower question.", s.p.RequestID))
			s.advance(StateError)
			return
		}

		s.advance(StateToolCall)
		if turn.Text != "" {
			req.Items = append(req.Items, llm.AssistantItem(turn.Text))
		}
		results, pending, err := s.callTools(ctx, turn.ToolCalls, permitted)
		if err != nil {
			s.advance(StateError)
			return
		}
		for _, c := range turn.ToolCalls {
			req.Items = append(req.Items, llm.ToolCallItem(c))
		}
		for i, c := range turn.ToolCalls {
			req.Items = append(req.Items, llm.ToolResultItem(c.ID, results[i]))
		}
		if pending {
			s.advance(StateAwaitingConfirmation)
			s.advance(StateDone)
			return
		}
	}
}

// stream runs one model turn, checking the accumulated output after every
// fragment. A detection cancels the turn and replaces what the client saw.
func (s *session) stream(ctx context.Context, req llm.Request) (llm.Turn, bool, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var reason string
	turn, err := s.o.Model.Stream(turnCtx, req, func(fragment string) error {
		s.transcript.WriteString(fragment)
		if bad, why := s.o.Guard.Check(s.transcript.String(), s.q.Boundary); bad {
			reason = why
			return llm.ErrStopped
		}
		return s.emit(textEvent(fragment))
	})
	if reason != "" {
		cancel()
		s.record(ctx, audit.ActionOutputBlocked, "response", audit.OutcomeBlocked, reason)
		s.count("output_blocked")
		_ = s.emit(Event{Type: EventReplace, Text: promptdefense.Refusal})
		return turn, true, nil
	}
	return turn, false, err
}

type plannedCall struct {
	server  string
	tool    string
	refusal string
}

// callTools refuses calls outside the manifest locally and runs the rest
// concurrently. results[i] is what the model sees for calls[i].
func (s *session) callTools(ctx context.Context, calls []llm.ToolCall, permitted map[string]bool) ([]string, bool, error) {
	plans := make([]plannedCall, len(calls))
	for i, c := range calls {
		server, tool, ok := toolproxy.SplitQualifiedName(c.Name)
		plans[i] = plannedCall{server: server, tool: tool}
		switch {
		case !ok || !permitted[c.Name]:
			if ok && !s.p.CanReach(server) {
				plans[i].refusal = "The current user is not permitted to access " + server + ". Do not retry; tell the user this data is outside their access."
			} else {
				plans[i].refusal = "Tool " + c.Name + " does not exist. Use only the tools you were given."
			}
			s.record(ctx, audit.ActionToolRefused, c.Name, audit.OutcomeDenied, "outside manifest")
			s.count("tool_refused")
			continue
		}
		if err := s.emit(Event{Type: EventToolCall, Server: server, Tool: tool}); err != nil {
			return nil, false, err
		}
	}

	responses := make([]models.ToolResponse, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelTools)
	for i, c := range calls {
		if plans[i].refusal != "" {
			responses[i] = models.NewToolError(models.CodeAccessDenied, plans[i].refusal, "")
			continue
		}
		g.Go(func() error {
			responses[i] = s.invoke(gctx, plans[i], c.Arguments)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	results := make([]string, len(calls))
	pending := false
	for i, resp := range responses {
		switch v := resp.(type) {
		case models.Success:
			if v.Metadata.Truncated {
				ev := Event{Type: EventTruncationWarning, Server: plans[i].server, Tool: plans[i].tool, Warning: v.Metadata.Warning}
				if err := s.emit(ev); err != nil {
					return nil, false, err
				}
			}
		case models.PendingConfirmation:
			pending = true
			if err := s.emit(pendingEvent(plans[i].server, plans[i].tool, v)); err != nil {
				return nil, false, err
			}
		}
		results[i] = resultText(resp)
	}
	return results, pending, nil
}

// invoke runs one tool call. A panic is contained to that call and
// reported to the model as an internal error.
func (s *session) invoke(ctx context.Context, plan plannedCall, args json.RawMessage) (resp models.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("orchestrator: tool %s/%s panicked request_id=%s: %v\n%s", plan.server, plan.tool, s.p.RequestID, r, debug.Stack())
			resp = models.NewToolError(models.CodeInternal, "the tool call failed unexpectedly", "")
		}
	}()
	resp, err := s.o.Tools.Invoke(ctx, s.p, plan.server, plan.tool, args)
	if err != nil {
		kind, msg, hint := apierr.Public(err)
		resp = models.NewToolError(string(kind), msg, hint)
	}
	return resp
}

func resultText(resp models.ToolResponse) string {
	raw, err := json.Marshal(resp)
	if err != nil {
		return `{"status":"error","code":"` + models.CodeInternal + `","message":"tool result could not be encoded"}`
	}
	return string(raw)
}

func (s *session) record(ctx context.Context, action, target, outcome, detail string) {
	if s.o.Audit == nil {
		return
	}
	s.o.Audit.Emit(ctx, models.AuditRecord{
		Timestamp: time.Now().UTC(),
		RequestID: s.p.RequestID,
		UserID:    s.p.UserID,
		Roles:     s.p.Roles,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Detail:    detail,
	})
}

func (s *session) count(reason string) {
	if s.o.Metrics != nil {
		s.o.Metrics.IncReason(reason)
	}
}
