package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/localrag/ragproxy-go/internal/retrieval"
)

// newChatTestServer builds a Server wired to a fake querier and, if
// backendHandler is non-nil, a backend client pointed at an httptest
// server running it — bypassing New so tests never open a real socket
// for the proxy itself.
func newChatTestServer(t *testing.T, q *fakeQuerier, rw rewriter, backendHandler http.HandlerFunc) *Server {
	t.Helper()

	var backend backendClient
	if backendHandler != nil {
		ts := httptest.NewServer(backendHandler)
		t.Cleanup(ts.Close)
		backend = newHTTPBackendClient(ts.URL)
	}

	reg := prometheus.NewRegistry()
	return &Server{
		querier:  q,
		rewriter: rw,
		backend:  backend,
		cfg: &Config{
			K:           retrieval.DefaultK,
			Threshold:   retrieval.DefaultThreshold,
			ChatTimeout: 5 * time.Second,
		},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: newServerMetrics(reg),
	}
}

func TestSourceLines(t *testing.T) {
	t.Parallel()

	results := []retrieval.Result{
		{Chunk: "alpha beta gamma", SourceInfo: "fixture.pdf", SourcePosition: 0},
		{Chunk: "delta", SourceInfo: "fixture.pdf", SourcePosition: 3},
	}
	lines := sourceLines(results)
	if lines[0] != "1: fixture.pdf" {
		t.Errorf("position 0: want %q, got %q", "1: fixture.pdf", lines[0])
	}
	if lines[1] != "2: fixture.pdf, Page: 3" {
		t.Errorf("position 3: want %q, got %q", "2: fixture.pdf, Page: 3", lines[1])
	}
}

func TestInjectContext_Exactness(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "what is alpha?"},
		},
	}
	results := []retrieval.Result{
		{Chunk: "alpha beta gamma", SourceInfo: "fixture.pdf", SourcePosition: 0},
	}
	injectContext(payload, results)

	messages := payload["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("want 2 messages after injection, got %d", len(messages))
	}
	first := messages[0].(map[string]any)
	content := first["content"].(string)

	want := contextPrefix + "[\n1:\nalpha beta gamma\n],\n" + contextSuffixNormal
	if content != want {
		t.Errorf("context envelope mismatch:\nwant %q\ngot  %q", want, content)
	}
}

func TestInjectContext_EmptyCase(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"messages": []any{}}
	injectContext(payload, nil)

	messages := payload["messages"].([]any)
	first := messages[0].(map[string]any)
	content := first["content"].(string)

	want := contextPrefix + contextSuffixEmpty
	if content != want {
		t.Errorf("empty-case envelope mismatch:\nwant %q\ngot  %q", want, content)
	}
}

func TestLastUserText(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"messages": []any{
			map[string]any{"role": "system", "content": "you are helpful"},
			map[string]any{"role": "user", "content": "first"},
			map[string]any{"role": "assistant", "content": "reply"},
			map[string]any{"role": "user", "content": "second"},
		},
	}
	if got := lastUserText(payload); got != "second" {
		t.Errorf("want %q, got %q", "second", got)
	}
}

// TestHandleChatCompletions_S1_FileIngestThenQuery mirrors spec §8 scenario
// S1: a query against armed retrieval must inject context and append the
// sources trailer to a non-streaming response.
func TestHandleChatCompletions_S1_FileIngestThenQuery(t *testing.T) {
	t.Parallel()

	var capturedBody []byte
	backend := func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "generic",
			"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": "alpha is the first letter.",
				},
				"finish_reason": "stop",
			}},
		})
	}

	q := &fakeQuerier{
		armed: true,
		queryResult: []retrieval.Result{
			{Chunk: "alpha beta gamma", SourceInfo: "fixture.pdf", SourcePosition: 0},
		},
	}
	s := newChatTestServer(t, q, nil, backend)

	reqBody, _ := json.Marshal(map[string]any{
		"model":  "generic",
		"stream": false,
		"messages": []map[string]any{
			{"role": "user", "content": "what is alpha?"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(reqBody)))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}

	bodyStr := string(capturedBody)
	if !strings.Contains(bodyStr, contextPrefix) {
		t.Errorf("outgoing backend payload missing context prefix: %s", bodyStr)
	}
	if !strings.Contains(bodyStr, "alpha beta gamma") {
		t.Errorf("outgoing backend payload missing chunk text: %s", bodyStr)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	choices := resp["choices"].([]any)
	message := choices[0].(map[string]any)["message"].(map[string]any)
	gotContent := message["content"].(string)

	if !strings.HasSuffix(gotContent, "\n\n---\nSources:\n1: fixture.pdf\n") {
		t.Errorf("response content missing expected sources trailer, got: %q", gotContent)
	}
}

// TestHandleChatCompletions_S2_Disarm mirrors spec §8 scenario S2: once
// disarmed, a chat call forwards unmodified — no injected message, no
// sources trailer — but (per the documented bug fix) the response is
// still always returned.
func TestHandleChatCompletions_S2_Disarm(t *testing.T) {
	t.Parallel()

	var capturedBody []byte
	backend := func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "plain reply"},
				"finish_reason": "stop",
			}},
		})
	}

	q := &fakeQuerier{armed: false}
	s := newChatTestServer(t, q, nil, backend)

	reqBody, _ := json.Marshal(map[string]any{
		"model":  "generic",
		"stream": false,
		"messages": []map[string]any{
			{"role": "user", "content": "hello"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(reqBody)))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200 (disarmed non-streaming must still return the response), got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(string(capturedBody), contextPrefix) {
		t.Errorf("disarmed request must not inject context, got: %s", capturedBody)
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	choices := resp["choices"].([]any)
	message := choices[0].(map[string]any)["message"].(map[string]any)
	content := message["content"].(string)
	if strings.Contains(content, "Sources:") {
		t.Errorf("disarmed response must not carry a sources trailer, got: %q", content)
	}
}

// TestHandleChatCompletions_S3_SlashCommandShortCircuit mirrors spec §8
// scenario S3 and property 9: a recognized slash command never reaches the
// backend, streamed as synthetic chunks reconstructing the fixed string.
func TestHandleChatCompletions_S3_SlashCommandShortCircuit(t *testing.T) {
	t.Parallel()

	backendCalls := 0
	backend := func(w http.ResponseWriter, r *http.Request) {
		backendCalls++
		w.WriteHeader(http.StatusOK)
	}

	q := &fakeQuerier{armed: true}
	s := newChatTestServer(t, q, nil, backend)

	reqBody, _ := json.Marshal(map[string]any{
		"model":  "generic",
		"stream": true,
		"messages": []map[string]any{
			{"role": "user", "content": "/testmessage"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(reqBody)))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if backendCalls != 0 {
		t.Errorf("command must never reach the backend, got %d calls", backendCalls)
	}

	body := w.Body.String()
	var reconstructed strings.Builder
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		payload := strings.TrimPrefix(frame, "data: ")
		if payload == doneSentinel {
			continue
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		reconstructed.WriteString(chunk.Choices[0].Delta.Content)
	}

	got := strings.TrimRight(reconstructed.String(), " ")
	if got != testMessageText {
		t.Errorf("want reconstructed stream %q, got %q", testMessageText, got)
	}
	if !strings.Contains(body, "data: "+doneSentinel) {
		t.Error("expected terminal [DONE] frame")
	}
}

// TestHandleChatCompletions_StreamingOrder verifies spec §8 property 6:
// the client observes the upstream's chunks in order, then the sources
// chunk (since retrieval was armed), then [DONE].
func TestHandleChatCompletions_StreamingOrder(t *testing.T) {
	t.Parallel()

	backend := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, content := range []string{"one", "two"} {
			chunk := completionChunk{
				ID:     "chatcmpl-x",
				Object: "chat.completion.chunk",
				Model:  "generic",
				Choices: []chunkChoice{{
					Index: 0,
					Delta: chunkDelta{Content: content},
				}},
			}
			b, _ := json.Marshal(chunk)
			_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: " + doneSentinel + "\n\n"))
		flusher.Flush()
	}

	q := &fakeQuerier{
		armed:       true,
		queryResult: []retrieval.Result{{Chunk: "x", SourceInfo: "doc", SourcePosition: 0}},
	}
	s := newChatTestServer(t, q, nil, backend)

	reqBody, _ := json.Marshal(map[string]any{
		"model":    "generic",
		"stream":   true,
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(reqBody)))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	var contents []string
	for _, frame := range strings.Split(strings.TrimSpace(w.Body.String()), "\n\n") {
		payload := strings.TrimPrefix(frame, "data: ")
		if payload == doneSentinel {
			contents = append(contents, doneSentinel)
			continue
		}
		var c completionChunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			t.Fatalf("unmarshal frame %q: %v", frame, err)
		}
		contents = append(contents, c.Choices[0].Delta.Content)
	}

	if len(contents) != 4 {
		t.Fatalf("want 4 frames (two upstream + sources + DONE), got %d: %v", len(contents), contents)
	}
	if contents[0] != "one" || contents[1] != "two" {
		t.Errorf("upstream chunks out of order: %v", contents[:2])
	}
	if !strings.HasPrefix(contents[2], "\n\n---\nSources:\n") {
		t.Errorf("third frame must be the sources chunk, got %q", contents[2])
	}
	if contents[3] != doneSentinel {
		t.Errorf("last frame must be [DONE], got %q", contents[3])
	}
}

// TestHandleChatCompletions_QueryRewriteUsed verifies that when query
// optimization is enabled and retrieval is armed, the rewriter's output
// (not the raw user text) is passed to Query.
func TestHandleChatCompletions_QueryRewriteUsed(t *testing.T) {
	t.Parallel()

	backend := func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "ok"},
				"finish_reason": "stop",
			}},
		})
	}

	q := &fakeQuerier{armed: true}
	rw := &fakeRewriter{rewrite: "alpha synonyms key concepts"}
	s := newChatTestServer(t, q, rw, backend)
	s.cfg.EnableQueryOptimization = true

	reqBody, _ := json.Marshal(map[string]any{
		"model":  "generic",
		"stream": false,
		"messages": []map[string]any{
			{"role": "user", "content": "can you tell me about alpha?"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(reqBody)))
	w := httptest.NewRecorder()

	s.handleChatCompletions(w, req)

	if rw.calls != 1 {
		t.Fatalf("want 1 rewrite call, got %d", rw.calls)
	}
	if q.lastQuery != "alpha synonyms key concepts" {
		t.Errorf("want query to use rewritten text, got %q", q.lastQuery)
	}
}
