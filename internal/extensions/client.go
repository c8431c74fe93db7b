package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentcore/runtime/pkg/models"
)

// Extension is a single connected tool-server: its config, the owned RPC
// transport, negotiated server info, and (for InlinePython) a scoped temp
// workspace deleted on removal. Grounded in spec.md §3's Extension type and
// the teacher's mcp.Client.
type Extension struct {
	Config     *models.ExtensionConfig
	transport  Transport
	logger     *slog.Logger
	serverInfo ServerInfo

	mu        sync.RWMutex
	tools     []*WireTool
	resources []*Resource
	prompts   []*Prompt

	tempWorkspace string
}

// NewExtension constructs and connects an Extension over the transport
// appropriate to its config's variant.
func NewExtension(ctx context.Context, cfg *models.ExtensionConfig, transport Transport, tempWorkspace string) (*Extension, error) {
	e := &Extension{
		Config:        cfg,
		transport:     transport,
		logger:        slog.Default().With("extension", cfg.Name),
		tempWorkspace: tempWorkspace,
	}
	if err := transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("extensions: connect %q: %w", cfg.Name, err)
	}

	result, err := transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{"roots": map[string]any{"listChanged": true}},
		"clientInfo":      map[string]any{"name": "agentcore", "version": "1.0.0"},
	})
	if err != nil {
		tail := transport.StderrTail()
		transport.Close()
		if len(tail) > 0 {
			return nil, fmt.Errorf("extensions: initialize %q: %w (stderr: %v)", cfg.Name, err, tail)
		}
		return nil, fmt.Errorf("extensions: initialize %q: %w", cfg.Name, err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		transport.Close()
		return nil, fmt.Errorf("extensions: parse initialize result for %q: %w", cfg.Name, err)
	}
	e.serverInfo = initResult.ServerInfo

	if err := transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		e.logger.Warn("failed to send initialized notification", "error", err)
	}

	return e, nil
}

// Close tears down the transport. Deletion of tempWorkspace is the caller's
// (Manager's) responsibility since it owns the filesystem policy.
func (e *Extension) Close() error { return e.transport.Close() }

// ServerInfo returns the negotiated server identity.
func (e *Extension) ServerInfo() ServerInfo { return e.serverInfo }

// Connected reports whether the underlying transport is live.
func (e *Extension) Connected() bool { return e.transport.Connected() }

// RefreshTools lists tools, paginating until next_cursor is absent.
func (e *Extension) RefreshTools(ctx context.Context) error {
	var all []*WireTool
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := e.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return err
		}
		var resp ListToolsResult
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("extensions: parse tools/list for %q: %w", e.Config.Name, err)
		}
		all = append(all, resp.Tools...)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	e.mu.Lock()
	e.tools = all
	e.mu.Unlock()
	return nil
}

// Tools returns the cached, un-prefixed, un-filtered tool list.
func (e *Extension) Tools() []*WireTool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*WireTool, len(e.tools))
	copy(out, e.tools)
	return out
}

// RefreshResources lists resources, paginating until next_cursor is absent.
func (e *Extension) RefreshResources(ctx context.Context) error {
	var all []*Resource
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := e.transport.Call(ctx, "resources/list", params)
		if err != nil {
			return err
		}
		var resp ListResourcesResult
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("extensions: parse resources/list for %q: %w", e.Config.Name, err)
		}
		all = append(all, resp.Resources...)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	e.mu.Lock()
	e.resources = all
	e.mu.Unlock()
	return nil
}

// Resources returns the cached resource list.
func (e *Extension) Resources() []*Resource {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Resource, len(e.resources))
	copy(out, e.resources)
	return out
}

// RefreshPrompts lists prompts, paginating until next_cursor is absent.
func (e *Extension) RefreshPrompts(ctx context.Context) error {
	var all []*Prompt
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := e.transport.Call(ctx, "prompts/list", params)
		if err != nil {
			return err
		}
		var resp ListPromptsResult
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("extensions: parse prompts/list for %q: %w", e.Config.Name, err)
		}
		all = append(all, resp.Prompts...)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	e.mu.Lock()
	e.prompts = all
	e.mu.Unlock()
	return nil
}

// Prompts returns the cached prompt list.
func (e *Extension) Prompts() []*Prompt {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Prompt, len(e.prompts))
	copy(out, e.prompts)
	return out
}

// CallTool issues tools/call for the extension's own (un-prefixed) tool
// name and translates the wire result into models.ContentBlock form.
func (e *Extension) CallTool(ctx context.Context, name string, arguments json.RawMessage) ([]models.ContentBlock, bool, error) {
	raw, err := e.transport.Call(ctx, "tools/call", CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, false, err
	}
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("extensions: parse tools/call result: %w", err)
	}
	return translateWireContent(result.Content), result.IsError, nil
}

func translateWireContent(blocks []WireContent) []models.ContentBlock {
	out := make([]models.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "image":
			out = append(out, models.Image(b.Data, b.MimeType))
		default:
			out = append(out, models.Text(b.Text))
		}
	}
	return out
}

// ReadResource reads a single resource URI from this extension.
func (e *Extension) ReadResource(ctx context.Context, uri string) ([]*ResourceContent, error) {
	raw, err := e.transport.Call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("extensions: parse resources/read result: %w", err)
	}
	return result.Contents, nil
}

// notificationSubscription is a per-call subscriber handed out by Events.
func (e *Extension) notificationSubscription() <-chan *JSONRPCNotification {
	return e.transport.Events()
}
