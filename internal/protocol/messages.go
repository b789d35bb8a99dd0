package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage      MessageType = "client_message"
	TypeClientControl      MessageType = "client_control"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeSuggestions        MessageType = "suggestions"
	TypeProfileUpdated     MessageType = "profile_updated"
	TypeEscalation         MessageType = "escalation"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is one user-submitted chat message.
type ClientMessage struct {
	Type    MessageType `json:"type"`
	GuestID string      `json:"guest_id"`
	Text    string      `json:"text"`
}

// ClientControl carries non-chat actions from the widget.
type ClientControl struct {
	Type    MessageType `json:"type"`
	GuestID string      `json:"guest_id"`
	Action  string      `json:"action"`
}

// AssistantTextDelta is one streamed fragment of the in-flight reply.
type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	GuestID   string      `json:"guest_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantTurnEnd struct {
	Type    MessageType `json:"type"`
	GuestID string      `json:"guest_id"`
	TurnID  string      `json:"turn_id"`
	Reason  string      `json:"reason"`
}

// Suggestions refreshes the widget's quick-prompt chips.
type Suggestions struct {
	Type    MessageType `json:"type"`
	GuestID string      `json:"guest_id"`
	Items   []string    `json:"items"`
}

// ProfileUpdated notifies independent widgets that the guest profile changed.
type ProfileUpdated struct {
	Type    MessageType `json:"type"`
	GuestID string      `json:"guest_id"`
	Name    string      `json:"name,omitempty"`
	Company string      `json:"company,omitempty"`
	Status  string      `json:"status"`
}

// Escalation tells the widget to open the contact form.
type Escalation struct {
	Type    MessageType `json:"type"`
	GuestID string      `json:"guest_id"`
	TurnID  string      `json:"turn_id"`
}

// ErrorEvent renders as a dismissible banner; it never blocks future turns.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	GuestID   string      `json:"guest_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
