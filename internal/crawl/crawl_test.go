package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCrawlSinglePageNoFollow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><main>Hello, this is the main content.</main>
			<p>short</p>
			<a href="/other">next page</a>
		</body></html>`))
	}))
	defer srv.Close()

	c := New(0)
	pages := c.Crawl(context.Background(), srv.URL, 1)

	if len(pages) != 1 {
		t.Fatalf("expected 1 page at depth 1, got %d: %+v", len(pages), pages)
	}
	if !strings.Contains(pages[0].Text, "Hello, this is the main content.") {
		t.Errorf("page text = %q, want it to contain the main element's text", pages[0].Text)
	}
}

func TestCrawlFollowsLinksWhenDeep(t *testing.T) {
	var otherURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div>Root page content here.</div>
			<a href="` + otherURL + `">other</a>
		</body></html>`))
	})
	mux.HandleFunc("/other", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div>Other page content here.</div></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	otherURL = srv.URL + "/other"

	c := New(0)
	pages := c.Crawl(context.Background(), srv.URL+"/", 2)

	if len(pages) != 2 {
		t.Fatalf("expected 2 pages at depth 2, got %d: %+v", len(pages), pages)
	}
}

func TestCrawlSkipsPDFContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	c := New(0)
	pages := c.Crawl(context.Background(), srv.URL, 1)

	if len(pages) != 0 {
		t.Fatalf("expected PDF content type to be skipped, got %d pages", len(pages))
	}
}

func TestCrawlPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("plain\ntext\twith\nwhitespace"))
	}))
	defer srv.Close()

	c := New(0)
	pages := c.Crawl(context.Background(), srv.URL, 1)

	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if strings.Contains(pages[0].Text, "\n") || strings.Contains(pages[0].Text, "\t") {
		t.Errorf("expected whitespace to be normalized, got %q", pages[0].Text)
	}
}
