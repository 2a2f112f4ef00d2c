package proxy

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// doneSentinel is the SSE payload that terminates a chat-completion stream.
const doneSentinel = "[DONE]"

// completionChunk mirrors the OpenAI chat.completion.chunk object (spec
// §4.G.1), built locally for both the synthetic /v1/testmessage/sources
// stream and relayed verbatim (modulo the swallowed upstream [DONE]) for
// real backend streams.
type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

var finishReasonStop = "stop"

// newChunkID returns a unique id for a synthetic chat-completion-chunk
// sequence, in the "chatcmpl-<hex>" shape clients expect.
func newChunkID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "chatcmpl-local"
	}
	return "chatcmpl-" + hex.EncodeToString(b)
}

// splitLinesKeepEnds splits text the way Python's str.splitlines(keepends=True)
// does: each element retains its trailing newline except possibly the last.
func splitLinesKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// writeSSEChunk serializes chunk as an SSE "data:" frame and flushes it.
func writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, chunk completionChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("proxy: marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeDone writes the terminal "data: [DONE]" SSE frame and flushes it.
func writeDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
	flusher.Flush()
}

// writeSyntheticStream emits text as a sequence of chat.completion.chunk
// SSE frames, one per line (spec §4.G.1's generate_chat_completion_chunks
// equivalent): each line's delta.content is "<line> ", finish_reason is
// nil except on the final line where it is "stop". Does not write the
// terminal [DONE] frame — callers append that once all chunks (including
// any sources trailer) have been written.
func writeSyntheticStream(w http.ResponseWriter, flusher http.Flusher, model, text string) error {
	lines := splitLinesKeepEnds(text)
	id := newChunkID()
	created := time.Now().Unix()

	for i, line := range lines {
		chunk := completionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chunkChoice{{
				Index: 0,
				Delta: chunkDelta{Content: line + " "},
			}},
		}
		if i == len(lines)-1 {
			chunk.Choices[0].FinishReason = &finishReasonStop
		}
		if err := writeSSEChunk(w, flusher, chunk); err != nil {
			return err
		}
	}
	return nil
}

// writeSourcesChunk emits a single chat.completion.chunk SSE frame whose
// delta.content is text and whose finish_reason is "stop" (spec §4.G step
// 8: "one additional synthetic chunk... with finish_reason=stop").
func writeSourcesChunk(w http.ResponseWriter, flusher http.Flusher, model, text string) error {
	chunk := completionChunk{
		ID:      newChunkID(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chunkChoice{{
			Index:        0,
			Delta:        chunkDelta{Content: text},
			FinishReason: &finishReasonStop,
		}},
	}
	return writeSSEChunk(w, flusher, chunk)
}

// relayUpstreamStream copies every SSE "data:" line from upstream to w
// verbatim, in order, swallowing the upstream's own terminal
// "data: [DONE]" line so the caller can append a synthetic sources chunk
// before emitting the proxy's own [DONE] (spec §4.G: "the synthetic
// sources chunk is appended strictly after the last upstream chunk").
// Returns the model name seen in the last relayed chunk, if any.
func relayUpstreamStream(w http.ResponseWriter, flusher http.Flusher, upstream *http.Response) (lastModel string, err error) {
	scanner := bufio.NewScanner(upstream.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimPrefix(line, "data: ")
		if trimmed == line {
			// Not a data line (blank separator, comment, etc.) — relay as-is.
			if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
				return lastModel, werr
			}
			flusher.Flush()
			continue
		}
		if strings.TrimSpace(trimmed) == doneSentinel {
			// Swallow upstream's own terminator.
			continue
		}

		var chunk completionChunk
		if jerr := json.Unmarshal([]byte(trimmed), &chunk); jerr == nil && chunk.Model != "" {
			lastModel = chunk.Model
		}

		if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
			return lastModel, werr
		}
		flusher.Flush()
	}
	if serr := scanner.Err(); serr != nil {
		return lastModel, fmt.Errorf("proxy: relay upstream stream: %w", serr)
	}
	return lastModel, nil
}
