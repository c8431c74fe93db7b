package observability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/runtime/pkg/models"
)

// Sink adapts the reply loop's RunTelemetryEvent stream onto Metrics and
// Tracer, so that the Prometheus collectors and OTel spans they expose are
// actually driven by a running agent instead of sitting unused. It
// implements agent.EventSink structurally (same Emit(ctx, event) signature)
// without importing internal/agent, so it can be installed into a
// MultiSink alongside any other sink a caller wires up.
//
// Sink tracks its own span lineage keyed by RunID, (RunID, TurnIndex), and
// CallID rather than relying on context propagation between Emit calls: the
// reply loop passes the same context.Context to every emitter call within a
// run, so nesting has to be reconstructed here.
type Sink struct {
	metrics *Metrics
	tracer  *Tracer

	mu    sync.Mutex
	runs  map[string]spanEntry
	turns map[string]spanEntry
	tools map[string]toolEntry
}

type spanEntry struct {
	ctx  context.Context
	span trace.Span
}

type toolEntry struct {
	spanEntry
	runID string
}

// NewSink builds a Sink over the given Metrics and Tracer. Either may be
// nil, in which case the corresponding instrumentation is skipped.
func NewSink(metrics *Metrics, tracer *Tracer) *Sink {
	return &Sink{
		metrics: metrics,
		tracer:  tracer,
		runs:    make(map[string]spanEntry),
		turns:   make(map[string]spanEntry),
		tools:   make(map[string]toolEntry),
	}
}

// Emit maps a single telemetry event onto the configured metrics and spans.
func (s *Sink) Emit(ctx context.Context, e models.RunTelemetryEvent) {
	switch e.Type {
	case models.TelemetryRunStarted:
		s.onRunStarted(ctx, e)
	case models.TelemetryRunFinished:
		s.onRunEnded(e, "finished", nil)
	case models.TelemetryRunError:
		s.onRunEnded(e, "error", eventError(e))
	case models.TelemetryRunCancelled:
		s.onRunEnded(e, "cancelled", context.Canceled)
	case models.TelemetryRunTimedOut:
		s.onRunEnded(e, "timed_out", errors.New("run exceeded its wall-time limit"))

	case models.TelemetryIterStarted:
		s.onIterStarted(ctx, e)
	case models.TelemetryIterFinished:
		s.onIterFinished(e, nil)

	case models.TelemetryModelCompleted:
		s.onModelCompleted(e)

	case models.TelemetryToolStarted:
		s.onToolStarted(ctx, e)
	case models.TelemetryToolFinished:
		s.onToolFinished(e)
	case models.TelemetryToolTimedOut:
		s.onToolTimedOut(e)

	case models.TelemetryContextPacked:
		s.onContextPacked(e)
	}
}

func (s *Sink) onRunStarted(ctx context.Context, e models.RunTelemetryEvent) {
	if s.metrics != nil {
		s.metrics.RunStarted()
	}
	if s.tracer == nil {
		return
	}
	rctx, span := s.tracer.Start(ctx, "agent.run", SpanOptions{
		Kind:       trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{attribute.String("run_id", e.RunID)},
	})
	s.mu.Lock()
	s.runs[e.RunID] = spanEntry{ctx: rctx, span: span}
	s.mu.Unlock()
}

func (s *Sink) onRunEnded(e models.RunTelemetryEvent, outcome string, err error) {
	if s.metrics != nil {
		s.metrics.RecordRun(outcome)
		s.metrics.RunEnded()
	}
	s.mu.Lock()
	run, ok := s.runs[e.RunID]
	delete(s.runs, e.RunID)
	// A run that ends mid-turn or mid-tool-call (cancellation, timeout)
	// can leave child spans open; close anything still tracked under it.
	for key, entry := range s.turns {
		if strings.HasPrefix(key, e.RunID+":") {
			endSpan(s.tracer, entry.span, err)
			delete(s.turns, key)
		}
	}
	for key, entry := range s.tools {
		if entry.runID == e.RunID {
			endSpan(s.tracer, entry.span, err)
			delete(s.tools, key)
		}
	}
	s.mu.Unlock()

	if ok {
		endSpan(s.tracer, run.span, err)
	}
}

func (s *Sink) onIterStarted(ctx context.Context, e models.RunTelemetryEvent) {
	if s.tracer == nil {
		return
	}
	parent := s.runContext(e.RunID, ctx)
	ictx, span := s.tracer.TraceTurn(parent, e.RunID, e.TurnIndex)
	s.mu.Lock()
	s.turns[turnKey(e.RunID, e.TurnIndex)] = spanEntry{ctx: ictx, span: span}
	s.mu.Unlock()
}

func (s *Sink) onIterFinished(e models.RunTelemetryEvent, err error) {
	key := turnKey(e.RunID, e.TurnIndex)
	s.mu.Lock()
	entry, ok := s.turns[key]
	delete(s.turns, key)
	s.mu.Unlock()
	if ok {
		endSpan(s.tracer, entry.span, err)
	}
}

// onModelCompleted is not nested under the iteration span: iter.finished
// fires before model.completed in the reply loop, so by the time this
// event arrives the iteration span has already ended. Metrics recording
// doesn't need a live span, so this is independent of span lifetime.
func (s *Sink) onModelCompleted(e models.RunTelemetryEvent) {
	if s.metrics == nil || e.Stream == nil {
		return
	}
	provider, model := e.Stream.Provider, e.Stream.Model
	s.metrics.RecordProviderRequest(provider, model, "ok", 0, e.Stream.InputTokens, e.Stream.OutputTokens)
	if e.Stream.InputTokens > 0 {
		s.metrics.RecordContextWindow(provider, model, e.Stream.InputTokens)
	}
}

func (s *Sink) onToolStarted(ctx context.Context, e models.RunTelemetryEvent) {
	if e.Tool == nil {
		return
	}
	if s.tracer == nil {
		return
	}
	parent := s.runContext(e.RunID, ctx)
	tctx, span := s.tracer.TraceToolDispatch(parent, e.Tool.Name)
	s.mu.Lock()
	s.tools[e.Tool.CallID] = toolEntry{spanEntry: spanEntry{ctx: tctx, span: span}, runID: e.RunID}
	s.mu.Unlock()
}

func (s *Sink) onToolFinished(e models.RunTelemetryEvent) {
	if e.Tool == nil {
		return
	}
	outcome := "ok"
	var err error
	if !e.Tool.Success {
		outcome = "error"
		err = fmt.Errorf("tool %q failed", e.Tool.Name)
	}
	if s.metrics != nil {
		s.metrics.RecordToolDispatch(e.Tool.Name, outcome, e.Tool.Elapsed.Seconds())
	}
	s.endTool(e.Tool.CallID, err)
}

func (s *Sink) onToolTimedOut(e models.RunTelemetryEvent) {
	if e.Tool == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordToolDispatch(e.Tool.Name, "timeout", e.Tool.Elapsed.Seconds())
	}
	s.endTool(e.Tool.CallID, fmt.Errorf("tool %q timed out", e.Tool.Name))
}

func (s *Sink) endTool(callID string, err error) {
	s.mu.Lock()
	entry, ok := s.tools[callID]
	delete(s.tools, callID)
	s.mu.Unlock()
	if ok {
		endSpan(s.tracer, entry.span, err)
	}
}

// onContextPacked records a compaction run. "threshold" is the only trigger
// that exists: internal/contextmgr has no explicit-compaction entry point.
func (s *Sink) onContextPacked(e models.RunTelemetryEvent) {
	if e.Context == nil {
		return
	}
	outcome := "trimmed"
	if e.Context.SummaryUsed {
		outcome = "summarized"
	}
	if s.metrics != nil {
		s.metrics.RecordCompaction("threshold", outcome)
	}

	s.mu.Lock()
	run, ok := s.runs[e.RunID]
	s.mu.Unlock()
	if ok && s.tracer != nil {
		s.tracer.AddEvent(run.span, "context.packed",
			"budget_chars", e.Context.BudgetChars,
			"used_chars", e.Context.UsedChars,
			"dropped", e.Context.Dropped,
			"summary_used", e.Context.SummaryUsed,
		)
	}
}

// runContext returns the stored run span's context to use as a parent for a
// child span, falling back to the context the event carried if the run
// isn't tracked (e.g. Sink was constructed after the run already started).
func (s *Sink) runContext(runID string, fallback context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		return run.ctx
	}
	return fallback
}

func endSpan(tracer *Tracer, span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && tracer != nil {
		tracer.RecordError(span, err)
	}
	span.End()
}

func turnKey(runID string, turnIndex int) string {
	return fmt.Sprintf("%s:%d", runID, turnIndex)
}

func eventError(e models.RunTelemetryEvent) error {
	if e.Error == nil {
		return nil
	}
	if e.Error.Err != nil {
		return e.Error.Err
	}
	return errors.New(e.Error.Message)
}
