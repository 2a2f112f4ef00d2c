// Package rewrite implements spec §4.G step 4's optional query
// rewriting: a single non-streaming chat-completion sub-call to the
// spawned backend, temperature 0.1, using a fixed rewrite prompt to turn
// a conversational user query into one better suited to vector
// similarity search.
//
// Grounded on original_source/llm_kickstart/rag_server.py's query
// optimization block (its literal rewrite prompt is reproduced
// verbatim) and the teacher's internal/provider package: spec §4.G step
// 4 requires the sub-call to go to "the backend" (G's own spawned
// process), so the Rewriter builds a provider.Config with
// Backend=openai and OpenAI.BaseURL pointed at that backend rather than
// the real OpenAI API — the same factory, model construction, and
// reasoning-model handling the teacher uses for its configurable
// OPENAI_* chat backend, repurposed to talk to a locally spawned
// OpenAI-compatible process instead of a hosted one. The caller
// (handleChatCompletions) stamps the context with internal/tracing's
// per-request Langfuse metadata before calling Rewrite, so each
// rewrite sub-call surfaces as its own named trace when Langfuse is
// configured; the global handler registered in cmd/ragproxy traces the
// call either way.
package rewrite

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/localrag/ragproxy-go/internal/provider"
)

// backendAPIKeyPlaceholder satisfies provider.Config.Validate's
// non-empty-API-key requirement for the openai backend; the spawned
// local backend does not check it.
const backendAPIKeyPlaceholder = "local"

// temperature matches spec §4.G step 4 exactly.
const temperature = 0.1

// genericModelSentinel is used when the client didn't specify a model.
const genericModelSentinel = "generic"

// prompt is original_source/llm_kickstart/rag_server.py's query
// optimization instructions, reproduced verbatim so its carefully tuned
// wording for the retrieval model survives the rewrite unchanged.
const prompt = `Task:

- You are a query optimization assistant.
- Your goal is to transform a user's natural-language query into a rewritten query that is optimized for semantic similarity search in a vector database.
Rewrite Requirements:
- Preserve the user's intent.
- Identify the focus topic of the users input and reduce the query to this topic
- Make it more specific, detailed, and semantically rich.
- Add related key concepts, synonyms, and domain-specific terminology.
- Use concise phrases, not full sentences.
- Remove conversational filler (e.g., "Can you tell me...").
Output Format:
- Provide only the rewritten query—no explanations or extra text.
User Query:
%s
Optimized Similarity Search Query:`

// Rewriter issues the query-optimization sub-call against the backend.
type Rewriter struct {
	backendBaseURL string
}

// New constructs a Rewriter targeting the given backend base URL (the
// proxy's own spawned llama-server instance, e.g. http://localhost:8081/v1).
func New(backendBaseURL string) *Rewriter {
	return &Rewriter{backendBaseURL: backendBaseURL}
}

// Rewrite transforms userText into a search-optimized query using
// clientModel if set, falling back to the generic sentinel otherwise
// (spec §4.G step 4). On any failure it returns userText unchanged —
// query rewriting is a best-effort optimization, never a hard dependency.
func (r *Rewriter) Rewrite(ctx context.Context, userText, clientModel string) string {
	modelName := clientModel
	if modelName == "" {
		modelName = genericModelSentinel
	}

	chatModel, err := provider.New(ctx, &provider.Config{
		Backend: provider.BackendOpenAI,
		OpenAI: provider.ProviderOpenAI{
			APIKey:  backendAPIKeyPlaceholder,
			Model:   modelName,
			BaseURL: r.backendBaseURL,
		},
		Tuning: provider.SharedTuning{
			MaxTokens:   512,
			Temperature: temperature,
		},
	})
	if err != nil {
		return userText
	}

	rewritten, err := generate(ctx, chatModel, userText)
	if err != nil || rewritten == "" {
		return userText
	}
	return rewritten
}

func generate(ctx context.Context, chatModel model.ToolCallingChatModel, userText string) (string, error) {
	messages := []*schema.Message{
		schema.UserMessage(fmt.Sprintf(prompt, userText)),
	}
	resp, err := chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("rewrite: generate: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("rewrite: empty response")
	}
	return resp.Content, nil
}
