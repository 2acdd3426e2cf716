package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ScriptedTurn is one canned model response.
type ScriptedTurn struct {
	Fragments []string
	ToolCalls []ToolCall
	Err       error
	// Delay is slept before each fragment.
	Delay time.Duration
}

// Scripted replays turns in order and records every request. It is used by
// tests and by local runs without a provider key.
type Scripted struct {
	mu       sync.Mutex
	Turns    []ScriptedTurn
	requests []Request
}

func NewScripted(turns ...ScriptedTurn) *Scripted {
	return &Scripted{Turns: turns}
}

func (s *Scripted) Stream(ctx context.Context, req Request, onText OnText) (Turn, error) {
	s.mu.Lock()
	s.requests = append(s.requests, cloneRequest(req))
	if len(s.Turns) == 0 {
		s.mu.Unlock()
		return Turn{}, errors.New("llm: script exhausted")
	}
	st := s.Turns[0]
	s.Turns = s.Turns[1:]
	s.mu.Unlock()

	var turn Turn
	for _, f := range st.Fragments {
		if st.Delay > 0 {
			timer := time.NewTimer(st.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return turn, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return turn, err
		}
		turn.Text += f
		if onText != nil {
			if err := onText(f); err != nil {
				return turn, err
			}
		}
	}
	if st.Err != nil {
		return turn, st.Err
	}
	turn.ToolCalls = append(turn.ToolCalls, st.ToolCalls...)
	return turn, nil
}

func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func cloneRequest(r Request) Request {
	r.Items = append([]Item(nil), r.Items...)
	r.Tools = append([]ToolSpec(nil), r.Tools...)
	return r
}
