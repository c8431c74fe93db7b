package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/agentcore/runtime/pkg/models"
)

// suggestExtensionThreshold and suggestToolThreshold gate
// SuggestDisableExtensionsPrompt (spec.md §4.4 "Suggestion hint").
const (
	suggestExtensionThreshold = 5
	suggestToolThreshold      = 50
)

// TempWorkspaceFactory creates and tears down a scoped temp directory for
// InlinePython extensions. Implemented by the caller's filesystem policy;
// the Manager only calls Create/Remove, never touches the filesystem
// directly.
type TempWorkspaceFactory interface {
	Create(extensionName string) (string, error)
	Remove(path string) error
}

// Manager owns every connected Extension, keyed by sanitised name, behind a
// single mutex that protects only the map itself (spec.md §4.4: "The mutex
// does not cover per-call RPC traffic"). Grounded in the teacher's
// internal/mcp.Manager, generalized from server-ID keying to sanitised-name
// keying plus tool-name-prefix routing.
type Manager struct {
	mu         sync.Mutex
	extensions map[string]*Extension

	creds     CredentialStore
	checker   MalwareChecker
	oauth     OAuthFlow
	workspace TempWorkspaceFactory
	logger    *slog.Logger
}

// NewManager constructs an empty Manager. Any of creds/checker/oauth/
// workspace may be nil to disable the corresponding optional behaviour.
func NewManager(creds CredentialStore, checker MalwareChecker, oauth OAuthFlow, workspace TempWorkspaceFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		extensions: make(map[string]*Extension),
		creds:      creds,
		checker:    checker,
		oauth:      oauth,
		workspace:  workspace,
		logger:     logger.With("component", "extensions"),
	}
}

// cloneHandle returns the extension registered under sanitisedName (if any)
// without holding the map lock across the caller's subsequent RPC traffic.
func (m *Manager) cloneHandle(sanitisedName string) (*Extension, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.extensions[sanitisedName]
	return e, ok
}

// AddExtension connects a new extension and registers it under its
// sanitised name. Returns an error without mutating state if a connection
// of the same sanitised name already exists.
func (m *Manager) AddExtension(ctx context.Context, cfg *models.ExtensionConfig) error {
	sanitised := SanitizeName(cfg.Name)

	m.mu.Lock()
	if _, exists := m.extensions[sanitised]; exists {
		m.mu.Unlock()
		return fmt.Errorf("extensions: %q already connected (sanitised %q)", cfg.Name, sanitised)
	}
	m.mu.Unlock()

	transport, err := NewTransport(cfg, m.creds)
	if err != nil {
		return err
	}
	if st, ok := transport.(*StdioTransport); ok {
		st.WithMalwareChecker(m.checker)
	}
	if ht, ok := transport.(*StreamableHTTPTransport); ok {
		ht.WithOAuthFlow(m.oauth)
	}

	var tempWorkspace string
	if cfg.Transport == models.ExtensionInlinePython && m.workspace != nil {
		tempWorkspace, err = m.workspace.Create(cfg.Name)
		if err != nil {
			return fmt.Errorf("extensions: create temp workspace for %q: %w", cfg.Name, err)
		}
	}

	ext, err := NewExtension(ctx, cfg, transport, tempWorkspace)
	if err != nil {
		if tempWorkspace != "" && m.workspace != nil {
			m.workspace.Remove(tempWorkspace)
		}
		return err
	}

	if err := ext.RefreshTools(ctx); err != nil {
		m.logger.Warn("failed to list tools on connect", "extension", cfg.Name, "error", err)
	}

	m.mu.Lock()
	m.extensions[sanitised] = ext
	m.mu.Unlock()

	m.logger.Info("extension connected", "extension", cfg.Name, "sanitised", sanitised, "server", ext.ServerInfo().Name)
	return nil
}

// RemoveExtension disconnects and forgets the named extension, deleting its
// temp workspace if it owned one.
func (m *Manager) RemoveExtension(name string) error {
	sanitised := SanitizeName(name)

	m.mu.Lock()
	ext, ok := m.extensions[sanitised]
	if ok {
		delete(m.extensions, sanitised)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if ext.tempWorkspace != "" && m.workspace != nil {
		if err := m.workspace.Remove(ext.tempWorkspace); err != nil {
			m.logger.Warn("failed to remove temp workspace", "extension", name, "error", err)
		}
	}
	return ext.Close()
}

// names returns the sanitised names of every connected extension, or just
// the one named by filter if non-empty and connected.
func (m *Manager) selected(filter string) map[string]*Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filter == "" {
		out := make(map[string]*Extension, len(m.extensions))
		for k, v := range m.extensions {
			out[k] = v
		}
		return out
	}
	sanitised := SanitizeName(filter)
	if e, ok := m.extensions[sanitised]; ok {
		return map[string]*Extension{sanitised: e}
	}
	return nil
}

// PrefixedTool is a tool as exposed externally: sanitised-extension-prefixed
// name plus its original schema/annotations, unmodified per spec.md §4.4.
type PrefixedTool struct {
	Name        string
	Description string
	InputSchema []byte
	Annotations map[string]any
	Extension   string
}

// ListTools issues tools/list on every selected extension in parallel,
// filters by per-tool availability, and renames into the prefixed form. On
// any per-extension failure the whole operation fails (spec.md §4.4).
func (m *Manager) ListTools(ctx context.Context, extensionFilter string) ([]PrefixedTool, error) {
	selected := m.selected(extensionFilter)
	if len(selected) == 0 {
		return nil, nil
	}

	type outcome struct {
		sanitised string
		tools     []PrefixedTool
		err       error
	}
	results := make(chan outcome, len(selected))

	for sanitised, ext := range selected {
		go func(sanitised string, ext *Extension) {
			if err := ext.RefreshTools(ctx); err != nil {
				results <- outcome{sanitised: sanitised, err: err}
				return
			}
			var out []PrefixedTool
			for _, tool := range ext.Tools() {
				if !ext.Config.IsToolAvailable(tool.Name) {
					continue
				}
				out = append(out, PrefixedTool{
					Name:        PrefixedToolName(sanitised, tool.Name),
					Description: tool.Description,
					InputSchema: tool.InputSchema,
					Annotations: tool.Annotations,
					Extension:   ext.Config.Name,
				})
			}
			results <- outcome{sanitised: sanitised, tools: out}
		}(sanitised, ext)
	}

	var all []PrefixedTool
	for i := 0; i < len(selected); i++ {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("extensions: list_tools failed for %q: %w", r.sanitised, r.err)
		}
		all = append(all, r.tools...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// DispatchToolCall resolves a prefixed tool name to its owning extension,
// re-checks availability, and dispatches the call. Mirrors spec.md §4.4's
// five-step dispatch algorithm.
func (m *Manager) DispatchToolCall(ctx context.Context, prefixedName string, arguments []byte) (models.ToolCallResult, error) {
	_, ext, toolName, err := m.resolve(prefixedName)
	if err != nil {
		return models.ToolCallResult{}, err
	}
	if !ext.Config.IsToolAvailable(toolName) {
		return models.ToolCallResult{}, fmt.Errorf("RESOURCE_NOT_FOUND: tool '%s' is not available for extension '%s'", toolName, ext.Config.Name)
	}
	if err := validateArguments(toolInputSchema(ext, toolName), arguments); err != nil {
		return models.ToolCallResult{}, fmt.Errorf("INVALID_PARAMS: %w", err)
	}

	resultCh := make(chan models.ToolCallOutcome, 1)
	notifyCh := make(chan models.ServerNotification, 16)
	wireNotif := ext.notificationSubscription()

	go func() {
		defer close(resultCh)
		content, isError, err := ext.CallTool(ctx, toolName, arguments)
		if err != nil {
			resultCh <- models.ToolCallOutcome{Err: &models.ErrorData{Code: -32000, Message: err.Error()}}
			return
		}
		if isError {
			msg := ""
			if len(content) > 0 {
				msg = content[0].Text
			}
			resultCh <- models.ToolCallOutcome{Err: &models.ErrorData{Code: -32000, Message: msg}}
			return
		}
		resultCh <- models.ToolCallOutcome{Content: content}
	}()

	go func() {
		defer close(notifyCh)
		for n := range wireNotif {
			select {
			case notifyCh <- models.ServerNotification{Method: n.Method, Params: n.Params}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return models.ToolCallResult{Result: resultCh, Notifications: notifyCh}, nil
}

// toolInputSchema finds name's advertised InputSchema among ext's cached
// tools, or nil if the tool is unlisted (e.g. RefreshTools hasn't run yet).
func toolInputSchema(ext *Extension, name string) json.RawMessage {
	for _, t := range ext.Tools() {
		if t.Name == name {
			return t.InputSchema
		}
	}
	return nil
}

// resolve implements spec.md §4.4 dispatch steps 1-2: find the unique
// extension whose sanitised name prefixes prefixedName, then strip it and
// the following "__".
func (m *Manager) resolve(prefixedName string) (sanitised string, ext *Extension, toolName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, e := range m.extensions {
		if !strings.HasPrefix(prefixedName, name) {
			continue
		}
		tool, ok := SplitPrefixedToolName(prefixedName, name)
		if !ok {
			continue
		}
		return name, e, tool, nil
	}
	return "", nil, "", fmt.Errorf("RESOURCE_NOT_FOUND: %s", prefixedName)
}

// ReadResource dispatches to the given extension if named, otherwise probes
// extensions in ascending sanitised-name order and returns the first
// success. The ascending-order tie-break is a deliberate, deterministic
// choice over Go's randomized map iteration.
func (m *Manager) ReadResource(ctx context.Context, uri, extensionFilter string) ([]*ResourceContent, error) {
	selected := m.selected(extensionFilter)
	if extensionFilter != "" {
		for _, ext := range selected {
			return ext.ReadResource(ctx, uri)
		}
		return nil, fmt.Errorf("extensions: extension %q not connected", extensionFilter)
	}

	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)

	var lastErr error
	for _, name := range names {
		contents, err := selected[name].ReadResource(ctx, uri)
		if err == nil {
			return contents, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("extensions: no extension could read resource %q", uri)
	}
	return nil, lastErr
}

// ListResources aggregates resources across extensions, best-effort: a
// per-extension failure is logged, not fatal.
func (m *Manager) ListResources(ctx context.Context, extensionFilter string) map[string][]*Resource {
	selected := m.selected(extensionFilter)
	out := make(map[string][]*Resource, len(selected))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, ext := range selected {
		wg.Add(1)
		go func(name string, ext *Extension) {
			defer wg.Done()
			if err := ext.RefreshResources(ctx); err != nil {
				m.logger.Warn("list_resources failed", "extension", name, "error", err)
				return
			}
			mu.Lock()
			out[name] = ext.Resources()
			mu.Unlock()
		}(name, ext)
	}
	wg.Wait()
	return out
}

// ListPrompts aggregates prompts across extensions concurrently,
// best-effort.
func (m *Manager) ListPrompts(ctx context.Context) map[string][]*Prompt {
	selected := m.selected("")
	out := make(map[string][]*Prompt, len(selected))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, ext := range selected {
		wg.Add(1)
		go func(name string, ext *Extension) {
			defer wg.Done()
			if err := ext.RefreshPrompts(ctx); err != nil {
				m.logger.Warn("list_prompts failed", "extension", name, "error", err)
				return
			}
			mu.Lock()
			out[name] = ext.Prompts()
			mu.Unlock()
		}(name, ext)
	}
	wg.Wait()
	return out
}

// SuggestDisableExtensionsPrompt returns a user-facing nudge once the
// enabled-extension or exposed-tool count grows large enough to plausibly
// be crowding the model's tool budget (spec.md §4.4 "Suggestion hint").
func (m *Manager) SuggestDisableExtensionsPrompt(ctx context.Context) string {
	m.mu.Lock()
	extCount := len(m.extensions)
	m.mu.Unlock()

	toolCount := 0
	if tools, err := m.ListTools(ctx, ""); err == nil {
		toolCount = len(tools)
	}

	if extCount <= suggestExtensionThreshold && toolCount <= suggestToolThreshold {
		return ""
	}
	return fmt.Sprintf(
		"You have %d extensions enabled exposing %d tools. Consider disabling extensions you are not actively using to keep the tool list focused.",
		extCount, toolCount,
	)
}
