package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/junostudio/leadchat/internal/completion"
	"github.com/junostudio/leadchat/internal/conversation"
	"github.com/junostudio/leadchat/internal/guest"
	"github.com/junostudio/leadchat/internal/observability"
	"github.com/junostudio/leadchat/internal/protocol"
	"github.com/junostudio/leadchat/internal/suggest"
)

// TurnState tracks where the single in-flight turn currently is.
type TurnState string

const (
	StateIdle        TurnState = "idle"
	StateDeciding    TurnState = "deciding"
	StateDispatching TurnState = "dispatching"
	StateReplying    TurnState = "replying"
)

// ErrTurnInFlight is returned when a user message arrives while a turn is
// active. Input is rejected, not queued.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// CompletionClient is the completion surface the session needs; satisfied by
// *completion.Client and by test fakes.
type CompletionClient interface {
	DecideTool(ctx context.Context, profileSummary, userMessage string) (*completion.ToolCall, error)
	StreamReply(ctx context.Context, window []conversation.Message, onDelta completion.DeltaHandler) (string, error)
}

// Session orchestrates turns for one guest: append user message, decide a
// tool, dispatch it, stream the reply, persist. At most one turn runs at a
// time, enforced by the state machine rather than a UI flag.
type Session struct {
	guestID    string
	profiles   *guest.ProfileStore
	history    *conversation.Log
	client     CompletionClient
	dispatcher *Dispatcher
	metrics    *observability.Metrics
	window     int

	mu           sync.Mutex
	state        TurnState
	turnCancel   context.CancelFunc
	lastActivity time.Time

	outMu    sync.Mutex
	outbound chan<- any
}

func NewSession(
	guestID string,
	profiles *guest.ProfileStore,
	history *conversation.Log,
	client CompletionClient,
	dispatcher *Dispatcher,
	metrics *observability.Metrics,
	window int,
) *Session {
	if window < 2 {
		window = 15
	}
	s := &Session{
		guestID:      guestID,
		profiles:     profiles,
		history:      history,
		client:       client,
		dispatcher:   dispatcher,
		metrics:      metrics,
		window:       window,
		state:        StateIdle,
		lastActivity: time.Now().UTC(),
	}
	profiles.Subscribe(func(p guest.Profile) {
		s.send(protocol.ProfileUpdated{
			Type:    protocol.TypeProfileUpdated,
			GuestID: guestID,
			Name:    p.Name,
			Company: p.Company,
			Status:  string(p.Status),
		})
	})
	return s
}

func (s *Session) GuestID() string { return s.guestID }

// State returns the current turn state.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity reports when the session last processed anything.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Run drives the session for one websocket connection. Inbound messages are
// parsed protocol values; outbound receives assistant events.
func (s *Session) Run(ctx context.Context, inbound <-chan any, outbound chan<- any) error {
	s.attach(outbound)
	defer s.detach()

	for {
		select {
		case <-ctx.Done():
			s.cancelActiveTurn()
			return nil
		case msg, ok := <-inbound:
			if !ok {
				s.cancelActiveTurn()
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientMessage:
				if err := s.StartTurn(ctx, m.Text); err != nil {
					code := "turn_failed"
					if errors.Is(err, ErrTurnInFlight) {
						code = "turn_in_flight"
					}
					s.send(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						GuestID:   s.guestID,
						Code:      code,
						Source:    "assistant",
						Retryable: true,
						Detail:    err.Error(),
					})
				}
			case protocol.ClientControl:
				s.handleControl(ctx, m)
			}
		}
	}
}

// StartTurn begins processing one user message; it returns ErrTurnInFlight
// while another turn is active. The turn itself runs asynchronously.
func (s *Session) StartTurn(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty message")
	}

	turnCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		cancel()
		s.metrics.TurnEvents.WithLabelValues("rejected_busy").Inc()
		return ErrTurnInFlight
	}
	s.state = StateDeciding
	s.turnCancel = cancel
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()

	turnID := uuid.NewString()
	go func() {
		defer func() {
			s.mu.Lock()
			s.state = StateIdle
			s.turnCancel = nil
			s.lastActivity = time.Now().UTC()
			s.mu.Unlock()
			cancel()
		}()
		s.runTurn(turnCtx, turnID, text)
	}()
	return nil
}

func (s *Session) runTurn(ctx context.Context, turnID, text string) {
	start := time.Now()
	s.metrics.TurnEvents.WithLabelValues("started").Inc()

	persistCtx := context.WithoutCancel(ctx)

	if err := s.history.Append(persistCtx, conversation.NewMessage(conversation.RoleUser, text)); err != nil {
		log.Printf("guest %s: append user message: %v", s.guestID, err)
	}
	s.profiles.RecordQuestion(persistCtx, text)

	// Deciding.
	call, err := s.client.DecideTool(ctx, profileSummary(s.profiles.Current()), text)
	s.metrics.ObserveTurnStage("decide", time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.endTurn(turnID, "cancelled")
			return
		}
		// Ambiguous or failed decision degrades to a plain reply.
		s.metrics.ProviderErrors.WithLabelValues("completion", "tool_decision_failed").Inc()
		log.Printf("guest %s: tool decision failed, replying without tools: %v", s.guestID, err)
		call = nil
	}

	// Dispatching.
	s.setState(StateDispatching)
	out, err := s.dispatcher.Dispatch(ctx, call)
	var unknownCtx *UnknownContextError
	if err != nil {
		if errors.As(err, &unknownCtx) {
			log.Printf("guest %s: %v, replying without context", s.guestID, err)
		} else {
			log.Printf("guest %s: tool dispatch: %v", s.guestID, err)
		}
	}

	if out.Escalated {
		if err := s.history.Append(persistCtx, conversation.NewMessage(conversation.RoleAssistant, out.AckText)); err != nil {
			log.Printf("guest %s: append escalation ack: %v", s.guestID, err)
		}
		s.send(protocol.Escalation{Type: protocol.TypeEscalation, GuestID: s.guestID, TurnID: turnID})
		s.send(protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			GuestID:   s.guestID,
			TurnID:    turnID,
			TextDelta: out.AckText,
		})
		s.endTurn(turnID, "escalated")
		s.metrics.TurnEvents.WithLabelValues("escalated").Inc()
		// The question that triggered the escalation may itself have been a
		// suggestion chip; refresh them like any other finished turn.
		s.sendSuggestions()
		return
	}

	// Replying.
	s.setState(StateReplying)
	window := s.replyWindow(out.ExtraContext)

	replyStart := time.Now()
	prev := ""
	_, streamErr := s.client.StreamReply(ctx, window, func(accumulated string) error {
		fragment := accumulated[len(prev):]
		prev = accumulated
		if err := s.history.UpdateLast(accumulated); err != nil {
			return err
		}
		s.send(protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			GuestID:   s.guestID,
			TurnID:    turnID,
			TextDelta: fragment,
		})
		return nil
	})
	s.metrics.ObserveTurnStage("reply", time.Since(replyStart))

	// Whatever happened, the partial text accumulated so far is the final
	// assistant content for this turn.
	if err := s.history.Persist(persistCtx); err != nil {
		log.Printf("guest %s: persist conversation: %v", s.guestID, err)
	}

	var protoErr *completion.StreamProtocolError
	switch {
	case streamErr == nil:
		s.metrics.TurnEvents.WithLabelValues("completed").Inc()
		s.endTurn(turnID, "completed")
	case errors.Is(streamErr, context.Canceled):
		s.metrics.TurnEvents.WithLabelValues("cancelled").Inc()
		s.endTurn(turnID, "cancelled")
	case errors.As(streamErr, &protoErr):
		s.metrics.ProviderErrors.WithLabelValues("completion", "stream_protocol").Inc()
		log.Printf("guest %s: %v", s.guestID, streamErr)
		s.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			GuestID:   s.guestID,
			Code:      "stream_protocol_error",
			Source:    "completion",
			Retryable: false,
			Detail:    streamErr.Error(),
		})
		s.endTurn(turnID, "aborted")
	default:
		s.metrics.ProviderErrors.WithLabelValues("completion", "stream_failed").Inc()
		log.Printf("guest %s: reply stream failed: %v", s.guestID, streamErr)
		s.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			GuestID:   s.guestID,
			Code:      "reply_failed",
			Source:    "completion",
			Retryable: true,
			Detail:    streamErr.Error(),
		})
		s.endTurn(turnID, "failed")
	}

	s.sendSuggestions()
	s.metrics.ObserveTurnStage("turn_total", time.Since(start))
}

// replyWindow assembles the last N messages, always led by a system message
// augmented with the current profile and any fetched context.
func (s *Session) replyWindow(extraContext string) []conversation.Message {
	window := s.history.Window(s.window)

	system := conversation.DefaultSystemPrompt +
		"\n\nWhat we know about this visitor:\n" + profileSummary(s.profiles.Current())
	if extraContext != "" {
		system += "\n\nRelevant studio information:\n" + extraContext
	}

	sysMsg := conversation.NewMessage(conversation.RoleSystem, system)
	if len(window) > 0 && window[0].Role == conversation.RoleSystem {
		window[0] = sysMsg
		return window
	}
	return append([]conversation.Message{sysMsg}, window...)
}

func (s *Session) handleControl(ctx context.Context, m protocol.ClientControl) {
	switch m.Action {
	case "clear_history":
		if err := s.ClearHistory(ctx); err != nil {
			s.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				GuestID:   s.guestID,
				Code:      "clear_failed",
				Source:    "assistant",
				Retryable: true,
				Detail:    err.Error(),
			})
		}
	case "dismiss_error":
		// Client-side only; nothing to do here.
	default:
		log.Printf("guest %s: unknown control action %q", s.guestID, m.Action)
	}
}

// ClearHistory empties the question history and reseeds the conversation;
// CRM profile fields survive. Rejected while a turn is in flight.
func (s *Session) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()

	if err := s.profiles.Clear(ctx); err != nil {
		return fmt.Errorf("clear profile bookkeeping: %w", err)
	}
	if _, err := s.history.Load(ctx); err != nil {
		return fmt.Errorf("reseed conversation: %w", err)
	}
	s.sendSuggestions()
	return nil
}

// History returns a snapshot of the conversation log.
func (s *Session) History() []conversation.Message {
	return s.history.Messages()
}

// Suggestions returns the quick prompts currently available to the guest.
func (s *Session) Suggestions() []string {
	return suggest.Next(s.profiles.Current().QuestionsAsked)
}

func (s *Session) sendSuggestions() {
	s.send(protocol.Suggestions{
		Type:    protocol.TypeSuggestions,
		GuestID: s.guestID,
		Items:   s.Suggestions(),
	})
}

func (s *Session) endTurn(turnID, reason string) {
	s.send(protocol.AssistantTurnEnd{
		Type:    protocol.TypeAssistantTurnEnd,
		GuestID: s.guestID,
		TurnID:  turnID,
		Reason:  reason,
	})
}

func (s *Session) setState(st TurnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) cancelActiveTurn() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) attach(outbound chan<- any) {
	s.outMu.Lock()
	s.outbound = outbound
	s.outMu.Unlock()
}

func (s *Session) detach() {
	s.outMu.Lock()
	s.outbound = nil
	s.outMu.Unlock()
}

// send forwards an event to the connected widget; events are dropped when no
// connection is attached or the queue is saturated, keeping turns non-blocking.
func (s *Session) send(msg any) {
	s.outMu.Lock()
	out := s.outbound
	s.outMu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
	}
}

// profileSummary renders the known CRM fields for prompt injection.
func profileSummary(p guest.Profile) string {
	var b strings.Builder
	writeLine := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(&b, "- %s: %s\n", label, value)
	}
	writeLine("Name", p.Name)
	writeLine("Company", p.Company)
	writeLine("Industry", p.Industry)
	writeLine("Project types", strings.Join(p.ProjectTypes, ", "))
	writeLine("Budget", p.Budget)
	writeLine("Timeline", p.Timeline)
	writeLine("Contact info", p.ContactInfo)
	writeLine("Pain points", strings.Join(p.PainPoints, ", "))
	writeLine("Current tech", strings.Join(p.CurrentTech, ", "))
	writeLine("Notes", p.AdditionalNotes)
	if b.Len() == 0 {
		return "- nothing yet"
	}
	return strings.TrimRight(b.String(), "\n")
}
