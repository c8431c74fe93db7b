package extensions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/pkg/models"
)

// SSETransport opens a single long-lived Server-Sent-Events stream and
// issues RPC calls as individual POSTs against the extension's URI, per
// spec.md §4.4 ("SSE: open an SSE stream with an initial GET"). Simpler
// than StreamableHttp: no OAuth retry, matching the original transport's
// legacy SSE variant.
type SSETransport struct {
	config *models.ExtensionConfig
	logger *slog.Logger
	client *http.Client

	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSSETransport constructs the transport.
func NewSSETransport(cfg *models.ExtensionConfig) *SSETransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	return &SSETransport{
		config:   cfg,
		logger:   slog.Default().With("extension", cfg.Name, "transport", "sse"),
		client:   &http.Client{Timeout: timeout},
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 10),
		stopChan: make(chan struct{}),
	}
}

func (t *SSETransport) Connect(ctx context.Context) error {
	if t.config.URI == "" {
		return fmt.Errorf("extensions: uri is required for sse transport")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.URI, nil)
	if err != nil {
		return fmt.Errorf("extensions: build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("extensions: sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("extensions: sse returned status %d", resp.StatusCode)
	}
	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop(resp)
	return nil
}

func (t *SSETransport) readLoop(resp *http.Response) {
	defer t.wg.Done()
	defer resp.Body.Close()
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var notif JSONRPCNotification
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &notif); err == nil && notif.Method != "" {
			select {
			case t.events <- &notif:
			default:
				t.logger.Warn("notification channel full, dropping")
			}
		}
	}
}

func (t *SSETransport) Close() error {
	t.connected.Store(false)
	close(t.stopChan)
	t.wg.Wait()
	return nil
}

func (t *SSETransport) Connected() bool { return t.connected.Load() }

func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
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
	return t.post(ctx, req)
}

func (t *SSETransport) post(ctx context.Context, req JSONRPCRequest) (json.RawMessage, error) {
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URI, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("extensions: http request: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("extensions: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("extensions: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
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
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URI, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("extensions: http request: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (t *SSETransport) Events() <-chan *JSONRPCNotification { return t.events }
func (t *SSETransport) Requests() <-chan *JSONRPCRequest     { return t.requests }

func (t *SSETransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	return fmt.Errorf("extensions: sse transport does not support server-initiated requests")
}

func (t *SSETransport) StderrTail() []string { return nil }
