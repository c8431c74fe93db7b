package extensions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentcore/runtime/pkg/models"
)

// Transport is the RPC connection to a single tool-server process, wire
// protocol abstracted away from the Manager/Extension layer above it.
// Grounded in the teacher's internal/mcp.Transport interface.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Events() <-chan *JSONRPCNotification
	Requests() <-chan *JSONRPCRequest
	Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error
	Connected() bool
	// StderrTail returns the most recent captured stderr lines, used for
	// diagnostic reporting on init failure (spec.md §4.4).
	StderrTail() []string
}

// NewTransport builds a transport for the given extension config variant.
func NewTransport(cfg *models.ExtensionConfig, creds CredentialStore) (Transport, error) {
	switch cfg.Transport {
	case models.ExtensionStdio, models.ExtensionBuiltin, models.ExtensionInlinePython:
		return NewStdioTransport(cfg, creds), nil
	case models.ExtensionSSE:
		return NewSSETransport(cfg), nil
	case models.ExtensionStreamableHTTP:
		return NewStreamableHTTPTransport(cfg), nil
	default:
		return nil, fmt.Errorf("extensions: unsupported transport %q", cfg.Transport)
	}
}
