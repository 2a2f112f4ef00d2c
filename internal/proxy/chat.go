package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/localrag/ragproxy-go/internal/eventlog"
	"github.com/localrag/ragproxy-go/internal/logging"
	"github.com/localrag/ragproxy-go/internal/retrieval"
	"github.com/localrag/ragproxy-go/internal/tracing"
)

// maxChatBodyBytes is the maximum allowed size for a chat-completions request body.
const maxChatBodyBytes = 1 << 20 // 1 MiB

// contextPrefix, contextSuffixNormal, and contextSuffixEmpty are the exact
// envelope strings spec §6 specifies for the injected context message.
const (
	contextPrefix       = "The following parts of a document or website should be considered when generating responses and/or answers to the users questions:\n"
	contextSuffixNormal = "All of the parts of a document or website should only be used if it is helpful in answering the user's question. Do not output filenames or URLs that may be included in the context.\n"
	contextSuffixEmpty  = "There are no information in the document that can answer the user's question. Do not answer anything that you think it may be correct.\n"
	sourcesHeader       = "\n\n---\nSources:\n"
)

// genericModel is used for synthetic chunk objects built locally rather
// than relayed from a real backend response.
const genericModel = "generic"

// handleChatCompletions implements spec §4.G's 9-step algorithm.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	stream := streamOf(payload)
	model := modelOf(payload)
	userText := lastUserText(payload)

	// Step 3: command interception. A recognized command never reaches
	// the backend (spec §8 property 9).
	if resp, handled := s.dispatchCommand(r.Context(), userText); handled {
		s.writeSynthetic(w, r, stream, genericModel, resp)
		s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
		s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		return
	}

	armed := s.querier.IsArmed()
	var results []retrieval.Result
	if armed {
		queryText := userText
		if s.cfg.EnableQueryOptimization && s.rewriter != nil {
			traceCtx := tracing.SetRequestTrace(r.Context(), logging.RequestIDFromContext(r.Context()))
			queryText = s.rewriter.Rewrite(traceCtx, userText, model)
		}

		results, err = s.querier.Query(r.Context(), queryText, s.cfg.K, s.cfg.Threshold)
		if err != nil {
			log.Warn("proxy: retrieval query failed", slog.Any("error", err))
			results = nil
		}
		if err := s.events.Record(r.Context(), eventlog.KindQuery, queryText, err == nil); err != nil {
			log.Warn("proxy: event record failed", slog.Any("error", err))
		}

		injectContext(payload, results)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "failed to marshal augmented request: "+err.Error())
		return
	}

	ctx := r.Context()
	if s.cfg.ChatTimeout > 0 && !stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ChatTimeout)
		defer cancel()
	}

	upstream, err := s.backend.ChatCompletion(ctx, body, stream)
	if err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "backend unreachable: "+err.Error())
		return
	}
	defer upstream.Body.Close()

	if stream {
		s.forwardStreaming(w, r, upstream, armed, results)
	} else {
		s.forwardNonStreaming(w, upstream, armed, results)
	}

	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
}

// forwardStreaming relays the backend's SSE stream verbatim, then appends
// the synthetic sources chunk (when retrieval was armed) and the
// terminating [DONE] line (spec §4.G step 8, §8 property 6).
func (s *Server) forwardStreaming(w http.ResponseWriter, r *http.Request, upstream *http.Response, armed bool, results []retrieval.Result) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	if _, err := relayUpstreamStream(w, flusher, upstream); err != nil {
		logging.FromContext(r.Context()).Warn("proxy: relay upstream stream failed", slog.Any("error", err))
	}

	if armed {
		// Spec §4.G step 8: exactly one additional synthetic chunk containing
		// the sources block, finish_reason="stop" — not split line-by-line
		// like the command/error synthetic streams in §4.G.1.
		trailer := sourcesHeader + strings.Join(sourceLines(results), "\n")
		if err := writeSourcesChunk(w, flusher, genericModel, trailer); err != nil {
			logging.FromContext(r.Context()).Warn("proxy: write sources chunk failed", slog.Any("error", err))
		}
	}

	writeDone(w, flusher)
}

// forwardNonStreaming awaits the full backend response and appends the
// sources trailer to the assistant message content. Always returns the
// response regardless of arming state (spec §9's documented bug fix: "the
// non-streaming branch... returns nothing when retrieval is disarmed...
// treat this as a bug and always return the response").
func (s *Server) forwardNonStreaming(w http.ResponseWriter, upstream *http.Response, armed bool, results []retrieval.Result) {
	raw, err := io.ReadAll(upstream.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read backend response: "+err.Error())
		return
	}

	if upstream.StatusCode < 200 || upstream.StatusCode >= 300 {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("backend returned status %d: %s", upstream.StatusCode, string(raw)))
		return
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		writeError(w, http.StatusInternalServerError, "invalid backend response: "+err.Error())
		return
	}

	if armed && len(results) > 0 {
		appendSourcesTrailer(resp, results)
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeSynthetic renders text as either a single JSON response (non-streaming)
// or a synthetic chunk stream (streaming), used for commands/errors handled
// entirely inside the proxy (spec §4.G.1).
func (s *Server) writeSynthetic(w http.ResponseWriter, r *http.Request, stream bool, model, text string) {
	if !stream {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      newChunkID(),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": text,
				},
				"finish_reason": "stop",
			}},
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := writeSyntheticStream(w, flusher, model, text); err != nil {
		logging.FromContext(r.Context()).Warn("proxy: write synthetic stream failed", slog.Any("error", err))
	}
	writeDone(w, flusher)
}

// lastUserText returns the content of the last message with role "user",
// or the content of the very last message if none has that role.
func lastUserText(payload map[string]any) string {
	messages, _ := payload["messages"].([]any)
	var lastAny, lastUser string
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, _ := msg["content"].(string)
		lastAny = content
		if role, _ := msg["role"].(string); role == "user" {
			lastUser = content
		}
	}
	if lastUser != "" {
		return lastUser
	}
	return lastAny
}

// streamOf reports the payload's "stream" flag, defaulting to false.
func streamOf(payload map[string]any) bool {
	v, _ := payload["stream"].(bool)
	return v
}

// modelOf returns the payload's "model" field, or genericModel if absent.
func modelOf(payload map[string]any) string {
	if v, ok := payload["model"].(string); ok && v != "" {
		return v
	}
	return genericModel
}

// injectContext prepends a context message built from results to the
// payload's messages array (spec §4.G steps 6-7). Mutates payload in place.
func injectContext(payload map[string]any, results []retrieval.Result) {
	messages, _ := payload["messages"].([]any)

	var body strings.Builder
	body.WriteString(contextPrefix)
	for i, res := range results {
		fmt.Fprintf(&body, "[\n%d:\n%s\n],\n", i+1, res.Chunk)
	}
	if len(results) > 0 {
		body.WriteString(contextSuffixNormal)
	} else {
		body.WriteString(contextSuffixEmpty)
	}

	contextMsg := map[string]any{
		"role":    "user",
		"content": body.String(),
	}

	payload["messages"] = append([]any{contextMsg}, messages...)
}

// sourceLines renders results as per-chunk "<n>: <source_info>[, Page: <n>]"
// lines (spec §6's sources trailer format).
func sourceLines(results []retrieval.Result) []string {
	lines := make([]string, len(results))
	for i, res := range results {
		if res.SourcePosition != 0 {
			lines[i] = fmt.Sprintf("%d: %s, Page: %d", i+1, res.SourceInfo, res.SourcePosition)
		} else {
			lines[i] = fmt.Sprintf("%d: %s", i+1, res.SourceInfo)
		}
	}
	return lines
}

// appendSourcesTrailer appends the sources block to the first choice's
// assistant message content, mutating resp in place.
func appendSourcesTrailer(resp map[string]any, results []retrieval.Result) {
	choices, _ := resp["choices"].([]any)
	if len(choices) == 0 {
		return
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return
	}
	content, _ := message["content"].(string)
	message["content"] = content + sourcesHeader + strings.Join(sourceLines(results), "\n") + "\n"
}

// handleModels proxies GET /v1/models, basename-normalizing each
// returned model id (mirrors os.path.basename in the original source).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	upstream, err := s.backend.Models(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "backend unreachable: "+err.Error())
		return
	}
	defer upstream.Body.Close()

	raw, err := io.ReadAll(upstream.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read backend response: "+err.Error())
		return
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "invalid backend response: "+err.Error())
		return
	}

	if data, ok := body["data"].([]any); ok {
		for _, item := range data {
			model, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := model["id"].(string); ok {
				model["id"] = path.Base(id)
			}
		}
	}

	writeJSON(w, http.StatusOK, body)
}

// handleTestMessage implements GET /v1/testmessage: a liveness probe
// independent of the backend and retrieval engine.
func (s *Server) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": testMessageText})
}

// handleDisableRAG implements GET /v1/disablerag (spec §4.G.2, §8 property 8:
// idempotent — repeated calls remain Idle and both return success).
func (s *Server) handleDisableRAG(w http.ResponseWriter, r *http.Request) {
	s.querier.Disarm()
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// ragUpdateRequest is the shared shape of /ragupdatepdf and /ragupdateweb
// request bodies: a single semicolon-separated field.
type ragUpdateRequest struct {
	DocumentPath string `json:"document_path"`
	URL          string `json:"url"`
	Deep         bool   `json:"deep"`
}

// handleRAGUpdatePDF implements POST /v1/ragupdatepdf.
func (s *Server) handleRAGUpdatePDF(w http.ResponseWriter, r *http.Request) {
	var req ragUpdateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "failed"})
		return
	}

	paths := retrieval.SplitSemicolonList(req.DocumentPath)
	ok, err := s.querier.IngestPDFs(r.Context(), paths)
	if logErr := s.events.Record(r.Context(), eventlog.KindIngest, req.DocumentPath, err == nil && ok); logErr != nil {
		logging.FromContext(r.Context()).Warn("proxy: event record failed", slog.Any("error", logErr))
	}

	if err != nil || !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// handleRAGUpdateWeb implements POST /v1/ragupdateweb.
func (s *Server) handleRAGUpdateWeb(w http.ResponseWriter, r *http.Request) {
	var req ragUpdateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "failed"})
		return
	}

	urls := retrieval.SplitSemicolonList(req.URL)
	ok, err := s.querier.IngestWeb(r.Context(), urls, req.Deep)
	if logErr := s.events.Record(r.Context(), eventlog.KindIngest, req.URL, err == nil && ok); logErr != nil {
		logging.FromContext(r.Context()).Warn("proxy: event record failed", slog.Any("error", logErr))
	}

	if err != nil || !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// decodeJSONBody decodes a size-bounded JSON request body into v.
func decodeJSONBody(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxChatBodyBytes))
	if err != nil {
		return fmt.Errorf("proxy: read body: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("proxy: decode body: %w", err)
	}
	return nil
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError implements spec §4.G step 9 and §7's UpstreamError handling:
// any handler-level failure surfaces as HTTP 500 with the message string —
// here generalized to accept the status code callers choose for the
// specific error kind (e.g. 400 for malformed requests).
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
