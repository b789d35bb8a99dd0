package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/junostudio/leadchat/internal/conversation"
	"github.com/junostudio/leadchat/internal/reliability"
)

const (
	decideRetryCap = 4 * time.Second
	streamDoneline = "[DONE]"
)

// DeltaHandler receives the accumulated assistant text after each fragment.
type DeltaHandler func(accumulated string) error

// Config controls client construction.
type Config struct {
	URL         string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64

	DecideTimeout   time.Duration
	StreamTimeout   time.Duration
	DecideRetryMax  int
	DecideRetryBase time.Duration
}

// Client issues chat-completion requests: a non-streaming tool-decision call
// and a streaming reply call.
type Client struct {
	cfg          Config
	decideClient *http.Client
	streamClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.DecideTimeout <= 0 {
		cfg.DecideTimeout = 15 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 90 * time.Second
	}
	if cfg.DecideRetryBase <= 0 {
		cfg.DecideRetryBase = 300 * time.Millisecond
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Client{
		cfg:          cfg,
		decideClient: &http.Client{Timeout: cfg.DecideTimeout},
		// The stream timeout bounds the whole body read, not just dialing.
		streamClient: &http.Client{Timeout: cfg.StreamTimeout},
	}
}

const decideInstruction = "You route one visitor message to exactly one tool. " +
	"Call fetch_context when the visitor asks about the studio (services, pricing, process, company). " +
	"Call update_profile when the message reveals anything about the visitor or their project. " +
	"Call escalate_contact when the visitor asks to talk to a person. " +
	"You must choose exactly one tool."

// DecideTool asks the model to pick one tool for the latest user message.
// A response with no tool invocation returns (nil, nil): the caller proceeds
// straight to the reply stream. When the model violates the one-tool rule the
// first call wins and the rest are ignored.
func (c *Client) DecideTool(ctx context.Context, profileSummary, userMessage string) (*ToolCall, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: decideInstruction + "\n\nKnown about this visitor so far:\n" + profileSummary},
			{Role: "user", Content: userMessage},
		},
		Tools:       toolCatalog(),
		ToolChoice:  "required",
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0,
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		call, retryable, err := c.decideOnce(ctx, req)
		if err == nil {
			return call, nil
		}
		lastErr = err
		if !retryable || attempt >= c.cfg.DecideRetryMax {
			return nil, lastErr
		}
		delay := reliability.BackoffWithJitter(attempt, c.cfg.DecideRetryBase, decideRetryCap)
		log.Printf("tool decision attempt %d failed, retrying in %s: %v", attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) decideOnce(ctx context.Context, req chatRequest) (*ToolCall, bool, error) {
	res, err := c.post(ctx, c.decideClient, req)
	if err != nil {
		return nil, true, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("completion status %d: %s", res.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode decision response: %w", err)
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.ToolCalls) == 0 {
		// Protocol violation on the model side; soft-fail to the plain reply path.
		return nil, false, nil
	}

	first := parsed.Choices[0].Message.ToolCalls[0]
	return &ToolCall{
		Name:      ToolName(first.Function.Name),
		Arguments: json.RawMessage(first.Function.Arguments),
	}, false, nil
}

// StreamReply streams the assistant's reply over the given context window and
// returns the final accumulated text. onDelta observes the accumulated text
// after every non-empty fragment, so its argument never shrinks.
func (c *Client) StreamReply(ctx context.Context, window []conversation.Message, onDelta DeltaHandler) (string, error) {
	msgs := make([]chatMessage, 0, len(window))
	for _, m := range window {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Stream:      true,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	res, err := c.post(ctx, c.streamClient, req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("completion status %d: %s", res.StatusCode, string(body))
	}

	return c.consumeStream(res.Body, onDelta)
}

// consumeStream decodes newline-delimited event records. Parsing is strict:
// a record that is neither the done sentinel nor valid JSON aborts the whole
// stream, leaving the accumulated text as the final partial content.
func (c *Client) consumeStream(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == streamDoneline {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return out.String(), &StreamProtocolError{Line: line, Err: err}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(out.String()); err != nil {
				return out.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func (c *Client) post(ctx context.Context, client *http.Client, req chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	res, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return res, nil
}
