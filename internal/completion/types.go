package completion

import (
	"encoding/json"
	"fmt"
)

// ToolName identifies one of the assistant's callable capabilities.
type ToolName string

const (
	ToolFetchContext    ToolName = "fetch_context"
	ToolUpdateProfile   ToolName = "update_profile"
	ToolEscalateContact ToolName = "escalate_contact"
)

// ToolCall is the transient decision returned by the model for one turn. It
// is never persisted.
type ToolCall struct {
	Name      ToolName
	Arguments json.RawMessage
}

// StreamProtocolError means a streamed chunk carried malformed JSON. Parsing
// is strict: the whole stream aborts and the accumulated partial text stands
// as the final assistant content.
type StreamProtocolError struct {
	Line string
	Err  error
}

func (e *StreamProtocolError) Error() string {
	return fmt.Sprintf("malformed stream chunk %q: %v", e.Line, e.Err)
}

func (e *StreamProtocolError) Unwrap() error { return e.Err }

// Wire types for the OpenAI-compatible chat completions endpoint.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []toolSpec    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
