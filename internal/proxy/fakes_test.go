package proxy

import (
	"context"
	"sync"

	"github.com/localrag/ragproxy-go/internal/retrieval"
)

// fakeQuerier is a minimal in-memory querier used by proxy unit tests —
// it never touches a real vector index or embedder.
type fakeQuerier struct {
	mu sync.Mutex

	armed       bool
	queryResult []retrieval.Result
	queryErr    error
	lastQuery   string

	ingestPDFCalls [][]string
	ingestWebCalls [][]string
	ingestOK       bool
	ingestErr      error
}

func (f *fakeQuerier) Query(_ context.Context, text string, _ int, _ float32) ([]retrieval.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = text
	return f.queryResult, f.queryErr
}

func (f *fakeQuerier) IsArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *fakeQuerier) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
}

func (f *fakeQuerier) IngestPDFs(_ context.Context, paths []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestPDFCalls = append(f.ingestPDFCalls, paths)
	if f.ingestErr == nil && f.ingestOK {
		f.armed = true
	}
	return f.ingestOK, f.ingestErr
}

func (f *fakeQuerier) IngestWeb(_ context.Context, urls []string, _ bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestWebCalls = append(f.ingestWebCalls, urls)
	if f.ingestErr == nil && f.ingestOK {
		f.armed = true
	}
	return f.ingestOK, f.ingestErr
}

// fakeRewriter records every call and returns a fixed rewritten query.
type fakeRewriter struct {
	mu       sync.Mutex
	calls    int
	lastText string
	rewrite  string
}

func (f *fakeRewriter) Rewrite(_ context.Context, userText, _ string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = userText
	if f.rewrite == "" {
		return userText
	}
	return f.rewrite
}
