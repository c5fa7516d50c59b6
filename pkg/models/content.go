package models

import "encoding/json"

// ContentType discriminates the closed set of content variants a Message
// can carry. Exactly one of the typed payload fields on Content is
// populated for a given Type.
type ContentType string

const (
	ContentText                    ContentType = "text"
	ContentImage                   ContentType = "image"
	ContentThinking                ContentType = "thinking"
	ContentRedactedThinking        ContentType = "redacted_thinking"
	ContentToolRequest             ContentType = "tool_request"
	ContentToolResponse            ContentType = "tool_response"
	ContentToolConfirmationRequest ContentType = "tool_confirmation_request"
	ContentFrontendToolRequest     ContentType = "frontend_tool_request"
	ContentSystemNotification      ContentType = "system_notification"
	ContentJsonRenderSpec          ContentType = "json_render_spec"
	ContentActionRequired          ContentType = "action_required"
)

// ToolCall is an LLM-issued request to invoke a named tool with a JSON
// object of arguments. Arguments may be nil for zero-argument tools.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall: zero or more content
// items (almost always Text, sometimes Image) plus an error flag.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"is_error,omitempty"`
}

// ToolCallResult is a Rust-style Result<ToolCall, Error>: either a decoded
// call or the reason decoding/resolution failed. Exactly one of Call/Error
// is set.
type ToolCallResult struct {
	Call  *ToolCall `json:"call,omitempty"`
	Error string    `json:"error,omitempty"`
}

// ToolResultOutcome is Result<ToolResult, Error> for the response side of
// a tool round trip.
type ToolResultOutcome struct {
	Result *ToolResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Content is a closed sum type; Type selects which of the fields below is
// meaningful. Construct instances with the NewXxx helpers rather than
// struct literals so the invariant (exactly one payload) holds.
type Content struct {
	Type ContentType `json:"type"`

	// Text
	Text string `json:"text,omitempty"`

	// Image
	ImageData     string `json:"data,omitempty"`
	ImageMimeType string `json:"mime_type,omitempty"`

	// Thinking
	ThinkingText      string `json:"thinking_text,omitempty"`
	ThinkingSignature string `json:"signature,omitempty"`

	// RedactedThinking
	RedactedData string `json:"redacted_data,omitempty"`

	// ToolRequest
	ToolRequestID string          `json:"id,omitempty"`
	ToolCall      *ToolCallResult `json:"tool_call,omitempty"`

	// ToolResponse
	ToolResponseID string             `json:"response_id,omitempty"`
	ToolResultVal  *ToolResultOutcome `json:"tool_result,omitempty"`

	// ToolConfirmationRequest
	ConfirmationID        string          `json:"confirmation_id,omitempty"`
	ConfirmationToolName  string          `json:"tool_name,omitempty"`
	ConfirmationArguments json.RawMessage `json:"arguments,omitempty"`
	ConfirmationPrompt    string          `json:"prompt,omitempty"`

	// FrontendToolRequest
	FrontendRequestID string          `json:"frontend_id,omitempty"`
	FrontendToolCall  *ToolCallResult `json:"frontend_tool_call,omitempty"`

	// SystemNotification
	NotificationKind string `json:"kind,omitempty"`
	NotificationText string `json:"notification_text,omitempty"`

	// JsonRenderSpec
	RenderSpec json.RawMessage `json:"spec,omitempty"`

	// ActionRequired
	ActionData json.RawMessage `json:"action_data,omitempty"`
}

func NewText(text string) Content {
	return Content{Type: ContentText, Text: text}
}

func NewImage(data, mimeType string) Content {
	return Content{Type: ContentImage, ImageData: data, ImageMimeType: mimeType}
}

func NewThinking(text, signature string) Content {
	return Content{Type: ContentThinking, ThinkingText: text, ThinkingSignature: signature}
}

func NewRedactedThinking(data string) Content {
	return Content{Type: ContentRedactedThinking, RedactedData: data}
}

func NewToolRequest(id string, call *ToolCall) Content {
	return Content{Type: ContentToolRequest, ToolRequestID: id, ToolCall: &ToolCallResult{Call: call}}
}

func NewToolRequestError(id string, errMsg string) Content {
	return Content{Type: ContentToolRequest, ToolRequestID: id, ToolCall: &ToolCallResult{Error: errMsg}}
}

func NewToolResponse(id string, result *ToolResult) Content {
	return Content{Type: ContentToolResponse, ToolResponseID: id, ToolResultVal: &ToolResultOutcome{Result: result}}
}

func NewToolResponseError(id string, errMsg string) Content {
	return Content{Type: ContentToolResponse, ToolResponseID: id, ToolResultVal: &ToolResultOutcome{Error: errMsg}}
}

func NewToolConfirmationRequest(id, toolName string, arguments json.RawMessage, prompt string) Content {
	return Content{
		Type:                  ContentToolConfirmationRequest,
		ConfirmationID:        id,
		ConfirmationToolName:  toolName,
		ConfirmationArguments: arguments,
		ConfirmationPrompt:    prompt,
	}
}

func NewFrontendToolRequest(id string, call *ToolCall) Content {
	return Content{Type: ContentFrontendToolRequest, FrontendRequestID: id, FrontendToolCall: &ToolCallResult{Call: call}}
}

func NewSystemNotification(kind, text string) Content {
	return Content{Type: ContentSystemNotification, NotificationKind: kind, NotificationText: text}
}

func NewJsonRenderSpec(spec json.RawMessage) Content {
	return Content{Type: ContentJsonRenderSpec, RenderSpec: spec}
}

func NewActionRequired(data json.RawMessage) Content {
	return Content{Type: ContentActionRequired, ActionData: data}
}

// IsToolRequest reports whether c carries a ToolRequest id, for the
// request/response pairing invariant (§3).
func (c Content) IsToolRequest() bool {
	return c.Type == ContentToolRequest
}

// IsToolResponse reports whether c carries a ToolResponse id.
func (c Content) IsToolResponse() bool {
	return c.Type == ContentToolResponse
}

// RequestID returns the id field relevant to pairing for ToolRequest and
// ToolResponse content, and "" for every other variant.
func (c Content) RequestID() string {
	switch c.Type {
	case ContentToolRequest:
		return c.ToolRequestID
	case ContentToolResponse:
		return c.ToolResponseID
	default:
		return ""
	}
}
