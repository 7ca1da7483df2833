// Package bridge serves the Submission/Event protocol over a websocket, as
// an alternate transport alongside the stdio JSON-lines front end in
// cmd/codex — useful for a browser-based or IDE-embedded front end that
// cannot attach to a child process's stdin/stdout directly.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/codex-core/codex/internal/logging"
	"github.com/codex-core/codex/internal/protocol"
)

// SessionRunner is the subset of *session.Session a connection needs. Kept
// as an interface so bridge doesn't import session's concrete collaborator
// wiring, only the shape it drives.
type SessionRunner interface {
	Run(ctx context.Context)
	Submit(sub protocol.Submission)
	Events() <-chan protocol.Event
}

// Server upgrades incoming HTTP requests to websockets, each serving one
// freshly constructed session for the connection's lifetime.
type Server struct {
	upgrader   websocket.Upgrader
	newSession func() SessionRunner
}

// NewServer returns a Server; newSession is called once per accepted
// connection to construct that connection's session actor.
func NewServer(newSession func() SessionRunner) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		newSession: newSession,
	}
}

// Handler returns the http.HandlerFunc to mount at a websocket path (e.g.
// "/ws"), one session per connection.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleWebSocket
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("bridge: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.newSession()
	go sess.Run(ctx)

	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var sub protocol.Submission
			if err := json.Unmarshal(data, &sub); err != nil {
				logging.Warnf("bridge: malformed submission: %v", err)
				continue
			}
			sess.Submit(sub)
		}
	}()

	for ev := range sess.Events() {
		b, err := json.Marshal(ev)
		if err != nil {
			logging.Warnf("bridge: failed to marshal event: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
