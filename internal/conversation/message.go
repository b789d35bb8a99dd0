package conversation

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn unit.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// DefaultSystemPrompt frames the assistant for lead capture.
const DefaultSystemPrompt = "You are the studio's assistant on its public website. " +
	"You help visitors understand the services, pricing and delivery process, " +
	"and you quietly gather what the visitor shares about their company and project. " +
	"Be concise, friendly and concrete; never invent facts about the studio."

// DefaultGreeting is the canned first assistant message for a new guest.
const DefaultGreeting = "Hi! I can tell you about our services, pricing and how we work. " +
	"What brings you here today?"
