package bridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codex-core/codex/internal/protocol"
)

type fakeSession struct {
	sq  chan protocol.Submission
	eq  chan protocol.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		sq: make(chan protocol.Submission, 16),
		eq: make(chan protocol.Event, 16),
	}
}

func (f *fakeSession) Run(ctx context.Context) {
	defer close(f.eq)
	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-f.sq:
			if !ok {
				return
			}
			f.eq <- protocol.Event{ID: sub.ID, Msg: protocol.EventMsg{Type: protocol.EventTaskStarted}}
		}
	}
}

func (f *fakeSession) Submit(sub protocol.Submission)   { f.sq <- sub }
func (f *fakeSession) Events() <-chan protocol.Event    { return f.eq }

func TestServerClientRoundTrip(t *testing.T) {
	srv := NewServer(func() SessionRunner { return newFakeSession() })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Submit(protocol.Submission{ID: "sub-1", Op: protocol.Op{Type: protocol.OpInterrupt}}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-client.Events():
		if ev.ID != "sub-1" || ev.Msg.Type != protocol.EventTaskStarted {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
