package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/junostudio/leadchat/internal/completion"
	"github.com/junostudio/leadchat/internal/guest"
	"github.com/junostudio/leadchat/internal/observability"
)

// escalationAck is the fixed assistant acknowledgment appended when a guest
// escalates to the human-contact workflow.
const escalationAck = "Of course — I've opened our contact form. Leave your details " +
	"there and someone from the team will get back to you within one business day."

// outcome describes what the reply phase should do after exactly one tool
// has executed.
type outcome struct {
	// ExtraContext is attached to the reply prompt when fetch_context ran.
	ExtraContext string
	// Escalated short-circuits the reply stream; AckText is the canned reply.
	Escalated bool
	AckText   string
}

// Dispatcher executes one tool call per turn: fetch static context, merge
// extracted profile fields, or escalate to the contact workflow.
type Dispatcher struct {
	profiles *guest.ProfileStore
	notifier ContactNotifier
	metrics  *observability.Metrics
}

func NewDispatcher(profiles *guest.ProfileStore, notifier ContactNotifier, metrics *observability.Metrics) *Dispatcher {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Dispatcher{profiles: profiles, notifier: notifier, metrics: metrics}
}

// Dispatch executes the chosen tool. A nil or unrecognized call is a
// soft-fail: the turn proceeds to a plain reply. The returned error is
// informational (already degraded); the outcome is always usable.
func (d *Dispatcher) Dispatch(ctx context.Context, call *completion.ToolCall) (outcome, error) {
	if call == nil {
		d.metrics.ToolDecisions.WithLabelValues("none").Inc()
		return outcome{}, nil
	}

	switch call.Name {
	case completion.ToolFetchContext:
		d.metrics.ToolDecisions.WithLabelValues(string(call.Name)).Inc()
		return d.fetchContext(call.Arguments)
	case completion.ToolUpdateProfile:
		d.metrics.ToolDecisions.WithLabelValues(string(call.Name)).Inc()
		return d.updateProfile(ctx, call.Arguments)
	case completion.ToolEscalateContact:
		d.metrics.ToolDecisions.WithLabelValues(string(call.Name)).Inc()
		return d.escalate(ctx)
	default:
		d.metrics.ToolDecisions.WithLabelValues("unrecognized").Inc()
		log.Printf("unrecognized tool %q, replying without context", call.Name)
		return outcome{}, nil
	}
}

func (d *Dispatcher) fetchContext(args json.RawMessage) (outcome, error) {
	var parsed struct {
		ContextType string `json:"context_type"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return outcome{}, fmt.Errorf("decode fetch_context arguments: %w", err)
	}

	text, err := lookupContext(parsed.ContextType)
	if err != nil {
		// Unknown tag soft-fails to a context-free reply.
		return outcome{}, err
	}
	return outcome{ExtraContext: text}, nil
}

func (d *Dispatcher) updateProfile(ctx context.Context, args json.RawMessage) (outcome, error) {
	var u guest.Update
	if err := json.Unmarshal(args, &u); err != nil {
		return outcome{}, fmt.Errorf("decode update_profile arguments: %w", err)
	}
	if u.IsZero() {
		return outcome{}, nil
	}
	if _, err := d.profiles.Merge(ctx, u); err != nil {
		// The merge already updated memory; a failed cache write shouldn't
		// kill the reply.
		return outcome{}, fmt.Errorf("merge profile: %w", err)
	}
	return outcome{}, nil
}

func (d *Dispatcher) escalate(ctx context.Context) (outcome, error) {
	p := d.profiles.Current()
	if err := d.notifier.Notify(ctx, p); err != nil {
		log.Printf("guest %s: contact workflow notify failed: %v", p.ID, err)
	}
	return outcome{Escalated: true, AckText: escalationAck}, nil
}
