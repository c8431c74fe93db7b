package models

// ReplyEventType tags which payload field of ReplyEvent is populated. This
// is the coarse, spec-mandated stream a reply-loop caller consumes — four
// variants, versus the fine-grained RunTelemetryEvent used internally for
// observability (agent_event.go).
type ReplyEventType string

const (
	ReplyEventMessage         ReplyEventType = "Message"
	ReplyEventHistoryReplaced ReplyEventType = "HistoryReplaced"
	ReplyEventModelChange     ReplyEventType = "ModelChange"
	ReplyEventMcpNotification ReplyEventType = "McpNotification"
)

// ReplyEvent is the unit the reply loop (C6) streams to callers (spec §3, §6).
type ReplyEvent struct {
	Type ReplyEventType `json:"type"`

	Message         *Message              `json:"message,omitempty"`
	HistoryReplaced *HistoryReplacedEvent `json:"history_replaced,omitempty"`
	ModelChange     *ModelChangeEvent     `json:"model_change,omitempty"`
	McpNotification *McpNotificationEvent `json:"mcp_notification,omitempty"`
}

// HistoryReplacedEvent carries the full replacement conversation after a
// compaction pass (threshold-triggered or in-stream context-length-exceeded).
type HistoryReplacedEvent struct {
	Messages []Message `json:"messages"`
}

// ModelChangeEvent reports a capability-hook-driven provider/model swap for
// the current (and possibly following) turns.
type ModelChangeEvent struct {
	Model string `json:"model"`
	Mode  string `json:"mode"`
}

// McpNotificationEvent forwards a server notification received while a tool
// call dispatched from RequestID's ToolRequest was in flight.
type McpNotificationEvent struct {
	RequestID string             `json:"request_id"`
	Payload   ServerNotification `json:"payload"`
}

// NewMessageReplyEvent constructs a Message-tagged ReplyEvent.
func NewMessageReplyEvent(m Message) ReplyEvent {
	return ReplyEvent{Type: ReplyEventMessage, Message: &m}
}

// NewHistoryReplacedReplyEvent constructs a HistoryReplaced-tagged ReplyEvent.
func NewHistoryReplacedReplyEvent(messages []Message) ReplyEvent {
	return ReplyEvent{Type: ReplyEventHistoryReplaced, HistoryReplaced: &HistoryReplacedEvent{Messages: messages}}
}

// NewModelChangeReplyEvent constructs a ModelChange-tagged ReplyEvent.
func NewModelChangeReplyEvent(model, mode string) ReplyEvent {
	return ReplyEvent{Type: ReplyEventModelChange, ModelChange: &ModelChangeEvent{Model: model, Mode: mode}}
}

// NewMcpNotificationReplyEvent constructs a McpNotification-tagged ReplyEvent.
func NewMcpNotificationReplyEvent(requestID string, n ServerNotification) ReplyEvent {
	return ReplyEvent{Type: ReplyEventMcpNotification, McpNotification: &McpNotificationEvent{RequestID: requestID, Payload: n}}
}
