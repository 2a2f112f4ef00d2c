// commands.go implements the slash commands spec §6 documents
// (/help, /testmessage, /chatwithfile, /chatwithwebsite,
// /forgetcontext). Exact usage/success/failure text is ported verbatim
// from original_source/llm_kickstart/rag_server.py's command handlers;
// /testmessage's response string has no precedent there and is honored
// literally as a spec-only addition.
package proxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/localrag/ragproxy-go/internal/eventlog"
	"github.com/localrag/ragproxy-go/internal/logging"
)

// helpText lists the command set this proxy supports (spec §6's table).
const helpText = `Available commands:
/help                        Show this message.
/testmessage                 Return a fixed test response, bypassing the backend.
/chatwithfile <path>          Ingest a PDF file and arm retrieval against it.
/chatwithwebsite [/deep] <url> Crawl a website and arm retrieval against it.
/forgetcontext                Disarm retrieval, returning to plain chat.
`

// testMessageText is the fixed response to /testmessage (spec §6, scenario S3).
const testMessageText = "This is a test response answering your testmessage!"

// dispatchCommand recognizes and executes a slash command embedded in
// userText. It returns (response, true) when userText was a recognized
// command, or ("", false) when userText is ordinary chat content that
// should continue through the normal augmentation pipeline.
func (s *Server) dispatchCommand(ctx context.Context, userText string) (string, bool) {
	trimmed := strings.TrimSpace(userText)
	switch {
	case trimmed == "/help":
		return helpText, true
	case trimmed == "/testmessage":
		return testMessageText, true
	case trimmed == "/forgetcontext":
		s.querier.Disarm()
		return "Context forgotten, you are now chatting without retrieval augmentation.", true
	case strings.HasPrefix(trimmed, "/chatwithfile"):
		return s.handleChatWithFile(ctx, trimmed), true
	case strings.HasPrefix(trimmed, "/chatwithwebsite"):
		return s.handleChatWithWebsite(ctx, trimmed), true
	default:
		return "", false
	}
}

// handleChatWithFile implements /chatwithfile <path>.
func (s *Server) handleChatWithFile(ctx context.Context, cmd string) string {
	arg := strings.TrimSpace(strings.TrimPrefix(cmd, "/chatwithfile"))
	if arg == "" {
		return "Usage: /chatwithfile <Path to PDF or txt file>"
	}

	ok, err := s.querier.IngestPDFs(ctx, []string{arg})
	s.recordIngest(ctx, eventlog.KindIngest, arg, err == nil && ok)
	if err != nil || !ok {
		return fmt.Sprintf("There was an error while reading the document %s, please try again.", arg)
	}
	return fmt.Sprintf("Ready, you can now chat with %s!", arg)
}

// handleChatWithWebsite implements /chatwithwebsite [/deep] <url>.
func (s *Server) handleChatWithWebsite(ctx context.Context, cmd string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(cmd, "/chatwithwebsite"))

	deep := false
	if strings.HasPrefix(rest, "/deep") {
		deep = true
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "/deep"))
	}

	if rest == "" {
		if deep {
			return "Usage: /chatwithwebsite /deep <URL>"
		}
		return "Usage: /chatwithwebsite <URL>"
	}

	ok, err := s.querier.IngestWeb(ctx, []string{rest}, deep)
	s.recordIngest(ctx, eventlog.KindIngest, rest, err == nil && ok)
	if err != nil || !ok {
		return fmt.Sprintf("There was an error while reading the document %s, please try again.", rest)
	}
	return fmt.Sprintf("Ready, you can now chat with %s!", rest)
}

// recordIngest logs an ingest event. s.events is nil-safe — a nil *eventlog.Log
// silently discards every record, so callers need no separate nil check.
func (s *Server) recordIngest(ctx context.Context, kind eventlog.Kind, detail string, ok bool) {
	if err := s.events.Record(ctx, kind, detail, ok); err != nil {
		logging.FromContext(ctx).Warn("proxy: event record failed", "error", err)
	}
}
