package extensions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/agentcore/runtime/pkg/models"
)

// OAuthFlow drives an interactive or client-credentials OAuth exchange for a
// server that challenged a request with 401/403, returning a token source to
// retry with. Grounded in the original's oauth::authenticate_service; kept
// as a narrow interface here so the transport has no compile-time dependency
// on a specific OAuth provider.
type OAuthFlow interface {
	Authenticate(ctx context.Context, endpoint string) (oauth2.TokenSource, error)
}

// StreamableHTTPTransport implements the HTTP POST + SSE-notification MCP
// transport (spec.md §4.4 "StreamableHttp"), retrying once with a freshly
// obtained OAuth token on a 401/403 challenge. Grounded in the teacher's
// internal/mcp.HTTPTransport.
type StreamableHTTPTransport struct {
	config *models.ExtensionConfig
	logger *slog.Logger
	client *http.Client
	oauth  OAuthFlow

	tokenMu sync.RWMutex
	token   *oauth2.Token

	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewStreamableHTTPTransport constructs the transport. Call WithOAuthFlow
// before Connect to enable the 401/403 retry path.
func NewStreamableHTTPTransport(cfg *models.ExtensionConfig) *StreamableHTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	return &StreamableHTTPTransport{
		config:   cfg,
		logger:   slog.Default().With("extension", cfg.Name, "transport", "streamable_http"),
		client:   &http.Client{Timeout: timeout},
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
}

// WithOAuthFlow attaches the OAuth driver used on 401/403 retry.
func (t *StreamableHTTPTransport) WithOAuthFlow(flow OAuthFlow) *StreamableHTTPTransport {
	t.oauth = flow
	return t
}

func (t *StreamableHTTPTransport) Connect(ctx context.Context) error {
	if t.config.URI == "" {
		return fmt.Errorf("extensions: uri is required for streamable_http transport")
	}
	t.connected.Store(true)
	t.wg.Add(1)
	go t.sseLoop(ctx)
	return nil
}

func (t *StreamableHTTPTransport) Close() error {
	t.connected.Store(false)
	close(t.stopChan)
	t.wg.Wait()
	return nil
}

func (t *StreamableHTTPTransport) Connected() bool { return t.connected.Load() }

func (t *StreamableHTTPTransport) buildRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URI, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if tok := t.currentToken(); tok != nil {
		tok.SetAuthHeader(req)
	}
	return req, nil
}

func (t *StreamableHTTPTransport) currentToken() *oauth2.Token {
	t.tokenMu.RLock()
	defer t.tokenMu.RUnlock()
	return t.token
}

func (t *StreamableHTTPTransport) setToken(tok *oauth2.Token) {
	t.tokenMu.Lock()
	t.token = tok
	t.tokenMu.Unlock()
}

func isAuthChallenge(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// doWithAuthRetry issues req; on a 401/403 it drives one OAuth round trip
// and retries the request exactly once (spec.md §4.4).
func (t *StreamableHTTPTransport) doWithAuthRetry(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := t.buildRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extensions: http request: %w", err)
	}

	if !isAuthChallenge(resp.StatusCode) || t.oauth == nil {
		return resp, nil
	}
	resp.Body.Close()

	t.logger.Info("authentication challenge received, attempting OAuth flow", "status", resp.StatusCode)
	src, err := t.oauth.Authenticate(ctx, t.config.URI)
	if err != nil {
		return nil, fmt.Errorf("extensions: oauth flow failed after %d challenge: %w", resp.StatusCode, err)
	}
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("extensions: oauth token fetch failed: %w", err)
	}
	t.setToken(tok)

	retryReq, err := t.buildRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	return t.client.Do(retryReq)
}

func (t *StreamableHTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("extensions: not connected")
	}

	req := JSONRPCRequest{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("extensions: marshal params: %w", err)
		}
		req.Params = raw
	}
	body, _ := json.Marshal(req)

	resp, err := t.doWithAuthRetry(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extensions: http %d: %s", resp.StatusCode, string(data))
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("extensions: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("extensions: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (t *StreamableHTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("extensions: not connected")
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("extensions: marshal params: %w", err)
		}
		notif.Params = raw
	}
	body, _ := json.Marshal(notif)
	resp, err := t.doWithAuthRetry(ctx, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (t *StreamableHTTPTransport) Events() <-chan *JSONRPCNotification { return t.events }
func (t *StreamableHTTPTransport) Requests() <-chan *JSONRPCRequest     { return t.requests }

func (t *StreamableHTTPTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.connected.Load() {
		return fmt.Errorf("extensions: not connected")
	}
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("extensions: marshal result: %w", err)
		}
		resp.Result = data
	}
	body, _ := json.Marshal(resp)
	httpResp, err := t.doWithAuthRetry(ctx, body)
	if err != nil {
		return err
	}
	httpResp.Body.Close()
	return nil
}

func (t *StreamableHTTPTransport) StderrTail() []string { return nil }

// sseLoop maintains the server-push side channel for notifications and
// server-initiated requests (sampling/createMessage).
func (t *StreamableHTTPTransport) sseLoop(ctx context.Context) {
	defer t.wg.Done()
	sseURL := strings.TrimSuffix(t.config.URI, "/") + "/sse"
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}
		t.connectSSE(ctx, sseURL)
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *StreamableHTTPTransport) connectSSE(ctx context.Context, sseURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if tok := t.currentToken(); tok != nil {
		tok.SetAuthHeader(req)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("sse connection failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		t.dispatchSSELine(strings.TrimPrefix(line, "data: "))
	}
}

func (t *StreamableHTTPTransport) dispatchSSELine(data string) {
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil || envelope.Method == "" {
		return
	}
	if envelope.ID != nil {
		req := &JSONRPCRequest{JSONRPC: envelope.JSONRPC, ID: envelope.ID, Method: envelope.Method, Params: envelope.Params}
		select {
		case t.requests <- req:
		default:
			t.logger.Warn("request channel full, dropping")
		}
		return
	}
	notif := &JSONRPCNotification{JSONRPC: envelope.JSONRPC, Method: envelope.Method, Params: envelope.Params}
	select {
	case t.events <- notif:
	default:
		t.logger.Warn("notification channel full, dropping")
	}
}
