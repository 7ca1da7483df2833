package toolexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codex-core/codex/internal/mcp"
)

// Mcp adapts internal/mcp.Hub (which resolves a tool call to its owning
// server by scanning each connection's tool list) to the turn loop's
// McpCaller collaborator interface.
type Mcp struct {
	hub *mcp.Hub
}

func NewMcp(hub *mcp.Hub) *Mcp {
	return &Mcp{hub: hub}
}

func (m *Mcp) Call(ctx context.Context, server, tool string, arguments json.RawMessage) (json.RawMessage, error) {
	var args map[string]interface{}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, fmt.Errorf("mcp call arguments: %w", err)
		}
	}

	result, err := m.hub.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("mcp result marshal: %w", err)
	}
	return out, nil
}
