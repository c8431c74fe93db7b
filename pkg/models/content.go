// Package models defines the wire and in-memory data model shared by every
// component of the runtime: messages, content blocks, tools, extensions,
// and the agent event stream.
package models

import "encoding/json"

// ContentKind tags the variant carried by a ContentBlock.
type ContentKind string

const (
	ContentText                  ContentKind = "text"
	ContentImage                 ContentKind = "image"
	ContentToolRequest            ContentKind = "tool_request"
	ContentToolResponse           ContentKind = "tool_response"
	ContentToolConfirmationReq    ContentKind = "tool_confirmation_request"
	ContentThinking               ContentKind = "thinking"
	ContentRedactedThinking       ContentKind = "redacted_thinking"
	ContentContextLengthExceeded  ContentKind = "context_length_exceeded"
	ContentSummarizationRequested ContentKind = "summarization_requested"
	ContentFrontendToolRequest    ContentKind = "frontend_tool_request"
)

// ErrorData is the error shape carried inside a Result-typed payload
// (ToolRequest.Call, ToolResponse.Result). Mirrors the MCP JSON-RPC error
// shape so it round-trips over the wire without translation.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorData) Error() string { return e.Message }

// ToolCall is the (name, arguments) pair an assistant requests.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentBlock is a tagged union. Exactly one of the Kind-matching fields is
// populated; the rest are zero. This mirrors the teacher's ToolCall/ToolResult
// flat-struct style (pkg/models/message.go) but generalizes it to the full
// content-block variant set the spec requires instead of a fixed Content
// string plus parallel ToolCalls/ToolResults slices.
type ContentBlock struct {
	Kind ContentKind `json:"kind"`

	// Text / Thinking / RedactedThinking / ContextLengthExceeded
	Text string `json:"text,omitempty"`

	// Image
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	// ToolRequest / ToolConfirmationRequest / FrontendToolRequest
	ID     string     `json:"id,omitempty"`
	Call   *ToolCall  `json:"call,omitempty"`
	CallErr *ErrorData `json:"call_err,omitempty"`

	// ToolConfirmationRequest extra fields
	ConfirmName   string `json:"confirm_name,omitempty"`
	ConfirmPrompt string `json:"confirm_prompt,omitempty"`

	// ToolResponse
	Result    []ContentBlock `json:"result,omitempty"`
	ResultErr *ErrorData     `json:"result_err,omitempty"`

	// Thinking signature / RedactedThinking data
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Text constructs a text content block.
func Text(s string) ContentBlock { return ContentBlock{Kind: ContentText, Text: s} }

// Image constructs an image content block.
func Image(base64Data, mime string) ContentBlock {
	return ContentBlock{Kind: ContentImage, ImageData: base64Data, MimeType: mime}
}

// ToolRequestOK constructs a successful tool request block.
func ToolRequestOK(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Kind: ContentToolRequest, ID: id, Call: &ToolCall{Name: name, Arguments: args}}
}

// ToolRequestErr constructs a failed tool request block (rare: malformed call from the model).
func ToolRequestErr(id string, errData *ErrorData) ContentBlock {
	return ContentBlock{Kind: ContentToolRequest, ID: id, CallErr: errData}
}

// ToolResponseOK constructs a successful tool response block.
func ToolResponseOK(id string, result []ContentBlock) ContentBlock {
	return ContentBlock{Kind: ContentToolResponse, ID: id, Result: result}
}

// ToolResponseErr constructs a failed tool response block.
func ToolResponseErr(id string, errData *ErrorData) ContentBlock {
	return ContentBlock{Kind: ContentToolResponse, ID: id, ResultErr: errData}
}

// ToolConfirmation constructs a tool-confirmation-request block.
func ToolConfirmation(id, name string, args json.RawMessage, prompt string) ContentBlock {
	return ContentBlock{
		Kind:          ContentToolConfirmationReq,
		ID:            id,
		Call:          &ToolCall{Name: name, Arguments: args},
		ConfirmName:   name,
		ConfirmPrompt: prompt,
	}
}

// Thinking constructs a thinking block.
func Thinking(text, signature string) ContentBlock {
	return ContentBlock{Kind: ContentThinking, Text: text, Signature: signature}
}

// RedactedThinking constructs a redacted-thinking block.
func RedactedThinking(data string) ContentBlock {
	return ContentBlock{Kind: ContentRedactedThinking, Data: data}
}

// ContextLengthExceeded constructs the sentinel block signalling the model
// (or a simulated check) hit the provider's context window.
func ContextLengthExceeded(msg string) ContentBlock {
	return ContentBlock{Kind: ContentContextLengthExceeded, Text: msg}
}

// SummarizationRequested constructs the sentinel block requesting a compaction pass.
func SummarizationRequested() ContentBlock {
	return ContentBlock{Kind: ContentSummarizationRequested}
}

// FrontendToolRequest constructs a frontend-delegated tool request block.
func FrontendToolRequest(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Kind: ContentFrontendToolRequest, ID: id, Call: &ToolCall{Name: name, Arguments: args}}
}

// IsToolRelated reports whether the block kind participates in tool-pairing
// invariants (used by the conversation fixer).
func (c ContentBlock) IsToolRelated() bool {
	switch c.Kind {
	case ContentToolRequest, ContentToolResponse, ContentToolConfirmationReq, ContentFrontendToolRequest:
		return true
	default:
		return false
	}
}
