package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junostudio/leadchat/internal/conversation"
)

func testClient(url string) *Client {
	return NewClient(Config{
		URL:             url,
		Model:           "test-model",
		DecideRetryMax:  2,
		DecideRetryBase: time.Millisecond,
	})
}

func sseBody(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestConsumeStreamAccumulates(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"content":"We "}}]}`,
		`: heartbeat comment`,
		`data: {"choices":[{"delta":{"content":"build "}}]}`,
		`data: {"choices":[{"delta":{}}]}`,
		`data: {"choices":[{"delta":{"content":"software."}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"ignored after done"}}]}`,
	)

	var seen []string
	got, err := testClient("").consumeStream(strings.NewReader(body), func(acc string) error {
		seen = append(seen, acc)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if got != "We build software." {
		t.Fatalf("consumeStream() = %q", got)
	}

	want := []string{"We ", "We build ", "We build software."}
	if len(seen) != len(want) {
		t.Fatalf("onDelta called %d times, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("onDelta[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
	// Accumulated text never shrinks across callbacks.
	for i := 1; i < len(seen); i++ {
		if !strings.HasPrefix(seen[i], seen[i-1]) {
			t.Fatalf("accumulation shrank: %q then %q", seen[i-1], seen[i])
		}
	}
}

func TestConsumeStreamStrictOnMalformedRecord(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"content":"partial "}}]}`,
		`data: {"choices":[{"delta":{"content":"text"}}]}`,
		`data: {broken json`,
		`data: {"choices":[{"delta":{"content":"never seen"}}]}`,
	)

	got, err := testClient("").consumeStream(strings.NewReader(body), nil)

	var protoErr *StreamProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("consumeStream() error = %v, want *StreamProtocolError", err)
	}
	if got != "partial text" {
		t.Fatalf("partial = %q, want accumulated text before the bad record", got)
	}
}

func TestStreamReplyEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Errorf("stream = false, want true")
		}
		if len(req.Tools) != 0 {
			t.Errorf("reply request carries tools: %v", req.Tools)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`data: {"choices":[{"delta":{"content":"hello"}}]}`,
			`data: [DONE]`,
		))
	}))
	defer srv.Close()

	window := []conversation.Message{
		conversation.NewMessage(conversation.RoleSystem, "prompt"),
		conversation.NewMessage(conversation.RoleUser, "hi"),
	}
	got, err := testClient(srv.URL).StreamReply(context.Background(), window, nil)
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if got != "hello" {
		t.Fatalf("StreamReply() = %q, want %q", got, "hello")
	}
}

func TestDecideToolFirstCallWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ToolChoice != "required" {
			t.Errorf("tool_choice = %q, want required", req.ToolChoice)
		}
		if len(req.Tools) != 3 {
			t.Errorf("len(tools) = %d, want 3", len(req.Tools))
		}

		fmt.Fprint(w, `{"choices":[{"message":{"tool_calls":[`+
			`{"function":{"name":"fetch_context","arguments":"{\"context_type\":\"pricing\"}"}},`+
			`{"function":{"name":"escalate_contact","arguments":"{}"}}`+
			`]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	call, err := testClient(srv.URL).DecideTool(context.Background(), "- nothing yet", "how much?")
	if err != nil {
		t.Fatalf("DecideTool() error = %v", err)
	}
	if call == nil || call.Name != ToolFetchContext {
		t.Fatalf("DecideTool() = %+v, want first tool fetch_context", call)
	}
	var args struct {
		ContextType string `json:"context_type"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		t.Fatalf("decode arguments: %v", err)
	}
	if args.ContextType != "pricing" {
		t.Fatalf("context_type = %q, want pricing", args.ContextType)
	}
}

func TestDecideToolNoToolMeansPlainReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	call, err := testClient(srv.URL).DecideTool(context.Background(), "- nothing yet", "hi")
	if err != nil {
		t.Fatalf("DecideTool() error = %v", err)
	}
	if call != nil {
		t.Fatalf("DecideTool() = %+v, want nil", call)
	}
}

func TestDecideToolRetriesRetryableStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"tool_calls":[`+
			`{"function":{"name":"escalate_contact","arguments":"{}"}}`+
			`]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	call, err := testClient(srv.URL).DecideTool(context.Background(), "- nothing yet", "get me a human")
	if err != nil {
		t.Fatalf("DecideTool() error = %v", err)
	}
	if call == nil || call.Name != ToolEscalateContact {
		t.Fatalf("DecideTool() = %+v, want escalate_contact after retry", call)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2", got)
	}
}

func TestDecideToolGivesUpOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).DecideTool(context.Background(), "", "hi"); err == nil {
		t.Fatalf("DecideTool() error = nil, want status failure")
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits = %d, want 1 (no retry on 400)", got)
	}
}
