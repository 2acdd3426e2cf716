package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestScriptedReplaysTurns(t *testing.T) {
	s := NewScripted(
		ScriptedTurn{Fragments: []string{"a", "b"}, ToolCalls: []ToolCall{{ID: "1", Name: "x__y"}}},
		ScriptedTurn{Fragments: []string{"done"}},
	)
	var got []string
	turn, err := s.Stream(context.Background(), Request{System: "s"}, func(f string) error {
		got = append(got, f)
		return nil
	})
	if err != nil || turn.Text != "ab" || len(turn.ToolCalls) != 1 || len(got) != 2 {
		t.Fatalf("unexpected first turn %+v err=%v", turn, err)
	}
	turn, _ = s.Stream(context.Background(), Request{}, nil)
	if turn.Text != "done" {
		t.Fatalf("unexpected second turn %+v", turn)
	}
	if _, err := s.Stream(context.Background(), Request{}, nil); err == nil {
		t.Fatal("expected exhausted script error")
	}
	if len(s.Requests()) != 3 || s.Requests()[0].System != "s" {
		t.Fatal("requests not recorded")
	}
}

func TestScriptedHonoursCancellation(t *testing.T) {
	s := NewScripted(ScriptedTurn{Fragments: []string{"a", "b", "c"}, Delay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Stream(ctx, Request{}, func(string) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
