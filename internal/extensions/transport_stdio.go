package extensions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentcore/runtime/pkg/models"
)

// CredentialStore resolves a named secret for stdio extension env merging
// (spec.md §4.4: "secrets resolved by looking up each name in env_keys
// against a process-wide credential store"). Implemented by internal/config.
type CredentialStore interface {
	Lookup(key string) (value string, found bool, err error)
}

// MalwareChecker consults an injected policy before a stdio command is
// spawned (spec.md §4.4). A nil Checker always allows.
type MalwareChecker interface {
	Check(command string, args []string) error
}

const maxStderrTail = 50

// StdioTransport implements the subprocess MCP-over-stdio transport.
// Grounded in the teacher's internal/mcp.StdioTransport, generalized to
// resolve env_keys against a CredentialStore and to run the malware check
// before spawning.
type StdioTransport struct {
	config  *models.ExtensionConfig
	creds   CredentialStore
	checker MalwareChecker
	logger  *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	nextID    atomic.Int64

	stderrMu   sync.Mutex
	stderrTail []string

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewStdioTransport constructs a stdio transport. checker may be nil.
func NewStdioTransport(cfg *models.ExtensionConfig, creds CredentialStore) *StdioTransport {
	return &StdioTransport{
		config:   cfg,
		creds:    creds,
		logger:   slog.Default().With("extension", cfg.Name, "transport", "stdio"),
		pending:  make(map[int64]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 1),
		stopChan: make(chan struct{}),
	}
}

// WithMalwareChecker attaches a malware checker, returning the transport for
// chaining at construction time.
func (t *StdioTransport) WithMalwareChecker(c MalwareChecker) *StdioTransport {
	t.checker = c
	return t
}

func (t *StdioTransport) resolveEnv() ([]string, error) {
	env := os.Environ()
	for k, v := range t.config.Envs {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for _, key := range t.config.EnvKeys {
		if t.creds == nil {
			t.logger.Warn("no credential store configured, skipping env_key", "key", key)
			continue
		}
		value, found, err := t.creds.Lookup(key)
		if err != nil {
			return nil, fmt.Errorf("extensions: resolve secret %q: %w", key, err)
		}
		if !found {
			t.logger.Warn("secret not found, skipping env_key", "key", key)
			continue
		}
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	return env, nil
}

// Connect runs the malware check, spawns the subprocess, and wires pipes.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("extensions: command is required for stdio transport")
	}

	if t.checker != nil {
		if err := t.checker.Check(t.config.Command, t.config.Args); err != nil {
			return fmt.Errorf("extensions: malware check rejected command: %w", err)
		}
	}

	env, err := t.resolveEnv()
	if err != nil {
		return err
	}

	t.process = exec.CommandContext(ctx, t.config.Command, t.config.Args...)
	t.process.Env = env

	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("extensions: stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("extensions: stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1<<20), 1<<20)

	stderr, err := t.process.StderrPipe()
	if err != nil {
		return fmt.Errorf("extensions: stderr pipe: %w", err)
	}

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("extensions: start process: %w", err)
	}
	t.connected.Store(true)

	t.wg.Add(2)
	go t.readLoop()
	go t.captureStderr(stderr)

	return nil
}

func (t *StdioTransport) Close() error {
	t.connected.Store(false)
	close(t.stopChan)
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
	}
	t.wg.Wait()
	return nil
}

func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("extensions: not connected")
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("extensions: marshal params: %w", err)
		}
		req.Params = raw
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("extensions: write request: %w", err)
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("extensions: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("extensions: request %q timed out after %v", method, timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("extensions: transport closed")
	}
}

func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
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
	data, _ := json.Marshal(notif)
	_, err := t.stdin.Write(append(data, '\n'))
	return err
}

func (t *StdioTransport) Events() <-chan *JSONRPCNotification { return t.events }
func (t *StdioTransport) Requests() <-chan *JSONRPCRequest     { return t.requests }

func (t *StdioTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	// Stdio servers never issue server-initiated requests in this runtime;
	// sampling is only offered over SSE/StreamableHttp.
	return fmt.Errorf("extensions: stdio transport does not support server-initiated requests")
}

func (t *StdioTransport) Connected() bool { return t.connected.Load() }

func (t *StdioTransport) StderrTail() []string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()
	out := make([]string, len(t.stderrTail))
	copy(out, t.stderrTail)
	return out
}

func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := t.stdout.Text()
		if line == "" {
			continue
		}
		t.processLine(line)
	}
}

func (t *StdioTransport) processLine(line string) {
	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(line), &resp); err == nil && resp.ID != nil {
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		case int:
			id = int64(v)
		default:
			return
		}
		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal([]byte(line), &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("notification channel full, dropping")
		}
	}
}

func (t *StdioTransport) captureStderr(stderr io.ReadCloser) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		t.logger.Debug("extension stderr", "line", line)
		t.stderrMu.Lock()
		t.stderrTail = append(t.stderrTail, line)
		if len(t.stderrTail) > maxStderrTail {
			t.stderrTail = t.stderrTail[len(t.stderrTail)-maxStderrTail:]
		}
		t.stderrMu.Unlock()
	}
}
