package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/codex-core/codex/internal/modelclient"
	"github.com/codex-core/codex/internal/protocol"
)

// fakeStreamer replays a fixed, ordered sequence of stream-call results:
// each call to Stream pops the next slice of Result off turns.
type fakeStreamer struct {
	turns [][]modelclient.Result
	calls int
}

func (f *fakeStreamer) Stream(ctx context.Context, prompt protocol.Prompt, base, userInstructions string, reasoning *modelclient.ReasoningConfig, store bool) (<-chan modelclient.Result, error) {
	out := make(chan modelclient.Result, len(f.turns[f.calls]))
	for _, r := range f.turns[f.calls] {
		out <- r
	}
	close(out)
	f.calls++
	return out, nil
}

type fakeShell struct {
	stdout string
}

func (f *fakeShell) Exec(ctx context.Context, argv []string, cwd string, sandbox protocol.SandboxType) (string, string, int, error) {
	return f.stdout, "", 0, nil
}

func drainEvents(t *testing.T, s *Session, want int, timeout time.Duration) []protocol.Event {
	t.Helper()
	var got []protocol.Event
	deadline := time.After(timeout)
	for len(got) < want {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d: %+v", want, len(got), got)
		}
	}
	return got
}

func configureOp(id string) protocol.Submission {
	return protocol.Submission{ID: id, Op: protocol.Op{
		Type: protocol.OpConfigureSession,
		ConfigureSession: &protocol.ConfigureSessionOp{
			Provider:       "openai",
			Model:          "gpt-5-codex",
			ApprovalPolicy: protocol.ApprovalNever,
			SandboxPolicy:  protocol.NewDangerFullAccessPolicy(),
			Cwd:            "/workspace",
		},
	}}
}

func TestSimpleTurnNoToolCalls(t *testing.T) {
	streamer := &fakeStreamer{turns: [][]modelclient.Result{
		{
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventCreated}},
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventOutputTextDelta, Delta: "hi"}},
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventOutputItemDone, Item: &protocol.ResponseItem{
				Type: protocol.ResponseItemMessage, Role: "assistant", Content: "hi",
			}}},
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventCompleted, ResponseID: "resp_1"}},
		},
	}}

	s := New(Collaborators{Model: streamer})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(configureOp("sub1"))
	s.Submit(protocol.Submission{ID: "sub2", Op: protocol.Op{
		Type:      protocol.OpUserInput,
		UserInput: &protocol.UserInputOp{Items: []protocol.InputItem{{Kind: protocol.InputItemText, Text: "hello"}}},
	}})

	events := drainEvents(t, s, 5, 2*time.Second)

	wantTypes := []protocol.EventType{
		protocol.EventSessionConfigured,
		protocol.EventTaskStarted,
		protocol.EventAgentMessageDelta,
		protocol.EventAgentMessage,
		protocol.EventTaskComplete,
	}
	for i, want := range wantTypes {
		if events[i].Msg.Type != want {
			t.Fatalf("event %d: got %s, want %s", i, events[i].Msg.Type, want)
		}
	}
	if events[4].Msg.TaskComplete.LastAgentMessage != "hi" {
		t.Fatalf("got last agent message %q", events[4].Msg.TaskComplete.LastAgentMessage)
	}
}

func TestTurnWithAutoApprovedShellCall(t *testing.T) {
	args, _ := json.Marshal(map[string]interface{}{"command": []string{"ls"}})

	streamer := &fakeStreamer{turns: [][]modelclient.Result{
		{
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventOutputItemDone, Item: &protocol.ResponseItem{
				Type: protocol.ResponseItemFunctionCall, CallID: "call_1", Name: "shell", Arguments: args,
			}}},
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventCompleted, ResponseID: "resp_1"}},
		},
		{
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventOutputItemDone, Item: &protocol.ResponseItem{
				Type: protocol.ResponseItemMessage, Role: "assistant", Content: "done",
			}}},
			{Event: modelclient.ResponseEvent{Kind: modelclient.EventCompleted, ResponseID: "resp_2"}},
		},
	}}

	s := New(Collaborators{Model: streamer, Shell: &fakeShell{stdout: "file.txt\n"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(configureOp("sub1"))
	s.Submit(protocol.Submission{ID: "sub2", Op: protocol.Op{
		Type:      protocol.OpUserInput,
		UserInput: &protocol.UserInputOp{Items: []protocol.InputItem{{Kind: protocol.InputItemText, Text: "list files"}}},
	}})

	events := drainEvents(t, s, 6, 2*time.Second)

	wantTypes := []protocol.EventType{
		protocol.EventSessionConfigured,
		protocol.EventTaskStarted,
		protocol.EventExecCommandBegin,
		protocol.EventExecCommandEnd,
		protocol.EventAgentMessage,
		protocol.EventTaskComplete,
	}
	for i, want := range wantTypes[:6] {
		if events[i].Msg.Type != want {
			t.Fatalf("event %d: got %s, want %s", i, events[i].Msg.Type, want)
		}
	}
	if events[3].Msg.ExecCommandEnd.Stdout != "file.txt\n" {
		t.Fatalf("got stdout %q", events[3].Msg.ExecCommandEnd.Stdout)
	}
}

func TestInterruptCancelsActiveTurn(t *testing.T) {
	block := make(chan modelclient.Result)
	streamer := &blockingStreamer{ch: block}

	s := New(Collaborators{Model: streamer})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(configureOp("sub1"))
	s.Submit(protocol.Submission{ID: "sub2", Op: protocol.Op{
		Type:      protocol.OpUserInput,
		UserInput: &protocol.UserInputOp{Items: []protocol.InputItem{{Kind: protocol.InputItemText, Text: "hang"}}},
	}})

	// Wait for TaskStarted, then interrupt.
	drainEvents(t, s, 2, 2*time.Second)
	s.Submit(protocol.Submission{ID: "sub3", Op: protocol.Op{Type: protocol.OpInterrupt}})

	events := drainEvents(t, s, 1, 2*time.Second)
	if events[0].Msg.Type != protocol.EventTaskComplete {
		t.Fatalf("got %s, want task_complete after interrupt", events[0].Msg.Type)
	}
}

// blockingStreamer never completes until its context is canceled, modeling
// a turn that is still waiting on the model when Interrupt arrives.
type blockingStreamer struct {
	ch chan modelclient.Result
}

func (b *blockingStreamer) Stream(ctx context.Context, prompt protocol.Prompt, base, userInstructions string, reasoning *modelclient.ReasoningConfig, store bool) (<-chan modelclient.Result, error) {
	out := make(chan modelclient.Result)
	go func() {
		select {
		case <-ctx.Done():
			close(out)
		case v := <-b.ch:
			out <- v
			close(out)
		}
	}()
	return out, nil
}
