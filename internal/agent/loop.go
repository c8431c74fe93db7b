// Package agent implements the reply loop: the per-turn orchestration that
// drives a provider.Provider and an extensions.Manager through a
// conversation, producing the spec-mandated models.ReplyEvent stream.
// Grounded in the teacher's internal/agent/runtime.go Run loop, generalized
// from its flat LLMProvider/ToolRegistry/Executor/sessions.Store plumbing to
// the tagged-content-block model and the four external collaborators this
// build settled on: provider.Provider, extensions.Manager, contextmgr, and
// convfix.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentcore/runtime/internal/contextmgr"
	"github.com/agentcore/runtime/internal/convfix"
	"github.com/agentcore/runtime/internal/extensions"
	"github.com/agentcore/runtime/internal/provider"
	"github.com/agentcore/runtime/internal/retry"
	"github.com/agentcore/runtime/pkg/models"
)

// cronParser validates SessionConfig.ScheduleID. The schedule id is passed
// through to whatever external scheduler invoked this run; the loop never
// triggers runs itself, it only warns when the id it was handed isn't a
// schedule cron(3) would accept.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Agent is the reply loop's external handle (spec.md §6 Agent API). One
// Agent owns one provider, one extension manager, and one approval checker;
// a host process may run many Agents concurrently, each with its own.
type Agent struct {
	id string

	mu       sync.RWMutex
	provider provider.Provider

	extMgr   *extensions.Manager
	approval *ApprovalChecker
	sink     EventSink
	pending  *pendingRegistry
	logger   func(msg string)

	compactThreshold float64
	retryConfig      retry.Config
	recipePrompt     string

	runSeq int64
}

// NewAgent constructs an Agent. id identifies this agent for per-agent
// approval policy lookups (ApprovalChecker.PolicyFor); extMgr and approval
// must both be non-nil, sink may be nil (defaults to NopSink via
// NewEventEmitter).
func NewAgent(id string, extMgr *extensions.Manager, approval *ApprovalChecker, sink EventSink) *Agent {
	if id == "" {
		id = "default"
	}
	return &Agent{
		id:               id,
		extMgr:           extMgr,
		approval:         approval,
		sink:             sink,
		pending:          newPendingRegistry(),
		compactThreshold: contextmgr.DefaultThreshold,
		retryConfig:      retry.DefaultConfig(),
	}
}

// SetWarnLogger wires a sink for non-fatal warnings the loop wants surfaced
// (failed best-effort compaction, etc). Optional; warnings are dropped if
// unset.
func (a *Agent) SetWarnLogger(fn func(msg string)) {
	a.mu.Lock()
	a.logger = fn
	a.mu.Unlock()
}

// UpdateProvider swaps the provider driving subsequent Reply calls. Safe to
// call while a Reply is in flight; the in-flight call keeps using the
// provider it captured at call time.
func (a *Agent) UpdateProvider(p provider.Provider) {
	a.mu.Lock()
	a.provider = p
	a.mu.Unlock()
}

func (a *Agent) currentProvider() provider.Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.provider
}

// SetCompactThreshold overrides the auto-compact usage ratio (default
// contextmgr.DefaultThreshold). A value <=0 or >=1 disables auto-compaction
// (contextmgr.Check's I6).
func (a *Agent) SetCompactThreshold(threshold float64) {
	a.mu.Lock()
	a.compactThreshold = threshold
	a.mu.Unlock()
}

// SetRetryConfig overrides the bounded-backoff policy used for retryable
// streaming disconnects (SPEC_FULL.md Open Question 1).
func (a *Agent) SetRetryConfig(cfg retry.Config) {
	a.mu.Lock()
	a.retryConfig = cfg
	a.mu.Unlock()
}

// SetRecipePrompt sets the optional recipe/persona text folded into every
// composed system prompt (spec.md §4.6.a).
func (a *Agent) SetRecipePrompt(prompt string) {
	a.mu.Lock()
	a.recipePrompt = prompt
	a.mu.Unlock()
}

// AddExtension connects a new extension (spec.md §6).
func (a *Agent) AddExtension(ctx context.Context, cfg *models.ExtensionConfig) error {
	return a.extMgr.AddExtension(ctx, cfg)
}

// RemoveExtension disconnects a connected extension (spec.md §6).
func (a *Agent) RemoveExtension(name string) error {
	return a.extMgr.RemoveExtension(name)
}

// ListTools lists tools across connected extensions, optionally filtered to
// one (spec.md §6).
func (a *Agent) ListTools(ctx context.Context, extensionFilter string) ([]extensions.PrefixedTool, error) {
	return a.extMgr.ListTools(ctx, extensionFilter)
}

// HandleConfirmation delivers a user's decision for a previously emitted
// ToolConfirmationRequest. Unknown ids are silently dropped (spec.md §6).
func (a *Agent) HandleConfirmation(id string, decision ApprovalDecision) {
	a.pending.complete(id, decision)
}

// HandleToolResult delivers a host-executed frontend tool's outcome for a
// previously emitted FrontendToolRequest. Unknown ids are silently dropped
// (spec.md §6).
func (a *Agent) HandleToolResult(id string, outcome models.ToolCallOutcome) {
	a.pending.complete(id, outcome)
}

// SummarizeContext compacts messages unconditionally via the current
// provider and returns the replacement conversation plus the token counts
// before/after (spec.md §6 "returns (list<Message>, list<uint>)").
func (a *Agent) SummarizeContext(ctx context.Context, messages []models.Message) ([]models.Message, []int, error) {
	p := a.currentProvider()
	if p == nil {
		return nil, nil, ErrNoProvider
	}
	result, err := contextmgr.CompactNow(ctx, messages, p.ModelConfig().ContextLimit, newProviderSummarizer(p))
	if err != nil {
		return nil, nil, err
	}
	validated, _ := contextmgr.Validated(result)
	return validated, []int{result.TokensBefore, result.TokensAfter}, nil
}

func (a *Agent) nextRunID() string {
	n := atomic.AddInt64(&a.runSeq, 1)
	return fmt.Sprintf("%s-%d-%d", a.id, time.Now().UnixNano(), n)
}

func (a *Agent) now() int64 { return time.Now().UnixNano() }

// Reply drives the per-turn loop of spec.md §4.6 to completion, streaming
// the coarse models.ReplyEvent sequence on the returned channel. A second
// channel carries at most one fatal, non-recoverable error (provider setup
// failure, permanent streaming failure); both channels close once the reply
// is done. cancel may be nil.
func (a *Agent) Reply(ctx context.Context, conversation []models.Message, cfg *models.SessionConfig, cancel <-chan struct{}) (<-chan models.ReplyEvent, <-chan error) {
	events := make(chan models.ReplyEvent, 16)
	errs := make(chan error, 1)

	p := a.currentProvider()
	if p == nil {
		close(events)
		errs <- ErrNoProvider
		close(errs)
		return events, errs
	}

	go a.run(ctx, p, conversation, cfg, cancel, events, errs)
	return events, errs
}

func (a *Agent) run(ctx context.Context, p provider.Provider, conversation []models.Message, cfg *models.SessionConfig, cancel <-chan struct{}, events chan<- models.ReplyEvent, errs chan<- error) {
	defer close(events)
	defer close(errs)
	defer a.pending.abandonAll()

	emitter := NewEventEmitter(a.nextRunID(), a.sink)
	emitter.RunStarted(ctx)

	agentID := a.id
	sessionID := ""
	if cfg != nil {
		sessionID = cfg.ID
		if cfg.ScheduleID != "" {
			if _, err := cronParser.Parse(cfg.ScheduleID); err != nil {
				a.warnf("session config carries an unparseable schedule_id %q: %v", cfg.ScheduleID, err)
			}
		}
	}

	maxTurns := models.DefaultMaxTurns
	if cfg != nil && cfg.MaxTurns != nil {
		maxTurns = *cfg.MaxTurns
	}

	fixed, _ := convfix.Fix(conversation)

	if maxTurns <= 0 {
		notice := models.NewAssistantText(maxTurnsNotice(maxTurns), a.now())
		events <- models.NewMessageReplyEvent(notice)
		emitter.RunFinished(ctx, nil)
		return
	}

	contextLimit := p.ModelConfig().ContextLimit
	a.mu.RLock()
	threshold := a.compactThreshold
	retryCfg := a.retryConfig
	recipePrompt := a.recipePrompt
	a.mu.RUnlock()
	summarizer := newProviderSummarizer(p)

	if cr, err := contextmgr.CheckAndCompact(ctx, fixed, contextLimit, threshold, summarizer); err != nil {
		a.warnf("auto-compact failed, continuing uncompacted: %v", err)
	} else if cr.Compacted {
		validated, _ := contextmgr.Validated(cr)
		fixed = validated
		events <- models.NewHistoryReplacedReplyEvent(append([]models.Message(nil), fixed...))
	}

	for turn := 0; turn < maxTurns; turn++ {
		emitter.SetTurn(turn)

		if isCancelled(ctx, cancel) {
			emitter.RunCancelled(ctx)
			return
		}

		prefixedTools, err := a.extMgr.ListTools(ctx, "")
		if err != nil {
			err = fmt.Errorf("agent: list tools: %w", err)
			errs <- err
			emitter.RunError(ctx, err, false)
			return
		}

		disableHint := a.extMgr.SuggestDisableExtensionsPrompt(ctx)
		system := composeSystemPrompt(recipePrompt, extensionNames(prefixedTools), disableHint)

		req := provider.CompletionRequest{
			System:   system,
			Messages: fixed,
			Tools:    toProviderTools(prefixedTools),
		}

		emitter.IterStarted(ctx)
		assistantMsg, usage, err := a.streamTurn(ctx, p, req, emitter, retryCfg, cancel)
		emitter.IterFinished(ctx)
		if err != nil {
			errs <- err
			emitter.RunError(ctx, err, false)
			return
		}
		emitter.ModelCompleted(ctx, p.Name(), "", usage.InputTokens, usage.OutputTokens)

		fixed = append(fixed, assistantMsg)
		events <- models.NewMessageReplyEvent(assistantMsg)

		contextExceeded := false
		toolWork := false
		for _, c := range assistantMsg.Content {
			switch c.Kind {
			case models.ContentContextLengthExceeded:
				contextExceeded = true
			case models.ContentToolRequest, models.ContentFrontendToolRequest:
				toolWork = true
			}
		}

		if contextExceeded {
			cr, err := contextmgr.CompactNow(ctx, fixed, contextLimit, summarizer)
			if err != nil {
				a.warnf("in-stream compaction failed: %v", err)
				continue
			}
			validated, _ := contextmgr.Validated(cr)
			fixed = validated
			events <- models.NewHistoryReplacedReplyEvent(append([]models.Message(nil), fixed...))
			continue
		}

		if !toolWork {
			emitter.RunFinished(ctx, nil)
			return
		}

		followup := a.dispatchTurn(ctx, agentID, sessionID, assistantMsg, emitter, events, cancel)
		if followup.IsEmpty() {
			emitter.RunFinished(ctx, nil)
			return
		}
		followup.CreatedEpoch = a.now()
		fixed = append(fixed, followup)
		events <- models.NewMessageReplyEvent(followup)
	}

	notice := models.NewAssistantText(maxTurnsNotice(maxTurns), a.now())
	events <- models.NewMessageReplyEvent(notice)
	emitter.RunFinished(ctx, nil)
}

func isCancelled(ctx context.Context, cancel <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-cancel:
		return true
	default:
		return false
	}
}

func (a *Agent) warnf(format string, args ...any) {
	a.mu.RLock()
	logger := a.logger
	a.mu.RUnlock()
	if logger != nil {
		logger(fmt.Sprintf(format, args...))
	}
}

// streamTurn issues one provider call and accumulates its streamed deltas
// into a single Message, retrying the whole call with bounded exponential
// backoff when the failure is classified retryable (SPEC_FULL.md Open
// Question 1; internal/provider.FailoverReason.IsRetryable).
func (a *Agent) streamTurn(ctx context.Context, p provider.Provider, req provider.CompletionRequest, emitter *EventEmitter, retryCfg retry.Config, cancel <-chan struct{}) (models.Message, provider.Usage, error) {
	var msg models.Message
	var usage provider.Usage

	result := retry.Do(ctx, retryCfg, func() error {
		ch, err := p.Stream(ctx, req)
		if errors.Is(err, provider.ErrStreamingUnsupported) {
			ch, err = provider.CompleteAsStream(ctx, p, req)
		}
		if err != nil {
			return classifyStreamError(err)
		}

		m, u, derr := a.drainStream(ctx, ch, emitter, cancel)
		if derr != nil {
			return classifyStreamError(derr)
		}
		msg, usage = m, u
		return nil
	})

	if result.Err != nil {
		return models.Message{}, provider.Usage{}, unwrapPermanent(result.Err)
	}
	return msg, usage, nil
}

// classifyStreamError wraps a streaming/Complete failure as retry.Permanent
// unless its ProviderError classification is retryable.
func classifyStreamError(err error) error {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		if pe.IsRetryable() {
			return err
		}
		return retry.Permanent(err)
	}
	if provider.ClassifyError(err).IsRetryable() {
		return err
	}
	return retry.Permanent(err)
}

func unwrapPermanent(err error) error {
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

// drainStream accumulates CompletionDeltas sharing a BlockID into one live
// Message's content blocks, in the order each BlockID first appears
// (spec.md §4.6.b).
func (a *Agent) drainStream(ctx context.Context, ch <-chan provider.CompletionDelta, emitter *EventEmitter, cancel <-chan struct{}) (models.Message, provider.Usage, error) {
	var content []models.ContentBlock
	index := make(map[string]int)
	var usage provider.Usage

	for {
		select {
		case <-ctx.Done():
			return models.Message{}, usage, ctx.Err()
		case <-cancel:
			return models.Message{}, usage, ErrContextCancelled
		case d, ok := <-ch:
			if !ok {
				return models.Message{Role: models.RoleAssistant, CreatedEpoch: a.now(), Content: content}, usage, nil
			}
			if d.Err != nil {
				return models.Message{}, usage, d.Err
			}
			if d.Usage != nil {
				usage = *d.Usage
			}
			if d.Done {
				return models.Message{Role: models.RoleAssistant, CreatedEpoch: a.now(), Content: content}, usage, nil
			}

			emitter.ModelDelta(ctx, deltaText(d.Block))

			idx, seen := index[d.BlockID]
			if !seen || d.New {
				content = append(content, d.Block)
				index[d.BlockID] = len(content) - 1
			} else {
				content[idx] = mergeBlock(content[idx], d.Block)
			}
		}
	}
}

// deltaText extracts the text payload of a delta block for ModelDelta
// telemetry, regardless of which text-bearing kind it is.
func deltaText(b models.ContentBlock) string {
	switch b.Kind {
	case models.ContentText, models.ContentThinking, models.ContentContextLengthExceeded:
		return b.Text
	default:
		return ""
	}
}

// mergeBlock folds an incoming same-BlockID delta into the existing
// accumulated block. Only Text/Thinking concatenate; every other kind
// (ToolRequest, FrontendToolRequest, ...) replaces wholesale since those
// arrive as a single complete delta, not a character stream.
func mergeBlock(existing, incoming models.ContentBlock) models.ContentBlock {
	switch existing.Kind {
	case models.ContentText, models.ContentContextLengthExceeded:
		existing.Text += incoming.Text
		return existing
	case models.ContentThinking:
		existing.Text += incoming.Text
		if incoming.Signature != "" {
			existing.Signature = incoming.Signature
		}
		return existing
	default:
		return incoming
	}
}

// dispatchTurn resolves every ToolRequest/FrontendToolRequest block in
// assistantMsg concurrently and assembles the single followup User message
// carrying one ToolResponse per dispatched request, in request order
// (spec.md §4.6.c, §5 ordering guarantee). Returns a zero Message if
// assistantMsg carried no tool work.
func (a *Agent) dispatchTurn(ctx context.Context, agentID, sessionID string, assistantMsg models.Message, emitter *EventEmitter, events chan<- models.ReplyEvent, cancel <-chan struct{}) models.Message {
	results := make([]models.ContentBlock, len(assistantMsg.Content))
	have := make([]bool, len(assistantMsg.Content))
	var wg sync.WaitGroup

	for i, c := range assistantMsg.Content {
		switch c.Kind {
		case models.ContentToolRequest:
			wg.Add(1)
			go func(i int, c models.ContentBlock) {
				defer wg.Done()
				results[i] = a.dispatchOneTool(ctx, agentID, sessionID, c, emitter, events, cancel)
				have[i] = true
			}(i, c)
		case models.ContentFrontendToolRequest:
			wg.Add(1)
			go func(i int, c models.ContentBlock) {
				defer wg.Done()
				results[i] = a.awaitFrontendTool(ctx, c, cancel)
				have[i] = true
			}(i, c)
		}
	}
	wg.Wait()

	var responses []models.ContentBlock
	for i := range assistantMsg.Content {
		if have[i] {
			responses = append(responses, results[i])
		}
	}
	if len(responses) == 0 {
		return models.Message{}
	}
	return models.Message{Role: models.RoleUser, Content: responses}
}

// dispatchOneTool runs one ToolRequest through the approval policy and, if
// allowed, dispatches it via the extension manager, forwarding any
// notifications received while the call is outstanding as McpNotification
// events (spec.md §4.6.c, §5).
func (a *Agent) dispatchOneTool(ctx context.Context, agentID, sessionID string, c models.ContentBlock, emitter *EventEmitter, events chan<- models.ReplyEvent, cancel <-chan struct{}) models.ContentBlock {
	id := c.ID
	if c.CallErr != nil {
		return models.ToolResponseErr(id, c.CallErr)
	}
	name := c.Call.Name
	args := c.Call.Arguments

	emitter.ToolStarted(ctx, id, name, args)
	start := time.Now()
	fail := func(code int, msg string) models.ContentBlock {
		emitter.ToolFinished(ctx, id, name, false, nil, time.Since(start))
		return models.ToolResponseErr(id, &models.ErrorData{Code: code, Message: msg})
	}

	decision, reason := a.approval.Check(ctx, agentID, name)
	switch decision {
	case ApprovalDenied:
		return fail(-32001, fmt.Sprintf("denied by policy: %s", reason))

	case ApprovalPending:
		if _, err := a.approval.CreateApprovalRequest(ctx, agentID, sessionID, id, name, args, reason); err != nil {
			return fail(-32001, err.Error())
		}
		events <- models.NewMessageReplyEvent(models.Message{
			Role:    models.RoleAssistant,
			Content: []models.ContentBlock{models.ToolConfirmation(id, name, args, reason)},
		})

		ch := a.pending.register(id, pendingConfirmation)
		select {
		case v := <-ch:
			if dec, _ := v.(ApprovalDecision); dec != ApprovalAllowed {
				return fail(-32001, "denied by user")
			}
		case <-ctx.Done():
			a.pending.abandon(id)
			return fail(-32001, "cancelled while awaiting confirmation")
		case <-cancel:
			a.pending.abandon(id)
			return fail(-32001, "cancelled while awaiting confirmation")
		}
	}

	result, err := a.extMgr.DispatchToolCall(ctx, name, args)
	if err != nil {
		return fail(-32000, err.Error())
	}

	go func() {
		for n := range result.Notifications {
			select {
			case events <- models.NewMcpNotificationReplyEvent(id, n):
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case outcome := <-result.Result:
		if outcome.Err != nil {
			emitter.ToolFinished(ctx, id, name, false, nil, time.Since(start))
			return models.ToolResponseErr(id, outcome.Err)
		}
		emitter.ToolFinished(ctx, id, name, true, nil, time.Since(start))
		return models.ToolResponseOK(id, outcome.Content)
	case <-ctx.Done():
		return fail(-32000, "cancelled")
	}
}

// awaitFrontendTool parks on the pending-registry slot for a frontend tool
// request until HandleToolResult delivers its outcome or the turn is
// cancelled (spec.md §4.6.c "block on completion slot").
func (a *Agent) awaitFrontendTool(ctx context.Context, c models.ContentBlock, cancel <-chan struct{}) models.ContentBlock {
	id := c.ID
	ch := a.pending.register(id, pendingFrontendTool)
	select {
	case v := <-ch:
		outcome, _ := v.(models.ToolCallOutcome)
		if outcome.Err != nil {
			return models.ToolResponseErr(id, outcome.Err)
		}
		return models.ToolResponseOK(id, outcome.Content)
	case <-ctx.Done():
		a.pending.abandon(id)
		return models.ToolResponseErr(id, &models.ErrorData{Code: -32000, Message: "cancelled while awaiting frontend tool result"})
	case <-cancel:
		a.pending.abandon(id)
		return models.ToolResponseErr(id, &models.ErrorData{Code: -32000, Message: "cancelled while awaiting frontend tool result"})
	}
}
