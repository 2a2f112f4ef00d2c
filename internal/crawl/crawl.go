// Package crawl implements the depth-limited web crawler (spec §4.C),
// grounded on original_source/llm_kickstart/utils_rag.py's crawl_website:
// same content-type branching, same target-tag selection heuristic, same
// "longest text among article/div/main/p" rule, and the same recursive
// link-following up to max_depth (every http(s) link, on any host).
package crawl

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Page is one successfully crawled page.
type Page struct {
	URL  string
	Text string
}

// Crawler fetches a page and, for HTML content, recursively follows its
// links up to a configured depth.
type Crawler struct {
	Client  *http.Client
	Timeout time.Duration
}

// New constructs a Crawler with the given per-request timeout.
func New(timeout time.Duration) *Crawler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Crawler{
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

// Crawl starts at start and follows every http(s) link it finds, on any
// host, up to maxDepth (1 = just the seed page, matching spec's non-deep
// default; 2 = one hop of links, matching the "/deep" flag). A page whose
// fetch or parse fails is skipped without logging and the crawl goes on;
// its absence from the returned slice is the only trace of the failure.
func (c *Crawler) Crawl(ctx context.Context, start string, maxDepth int) []Page {
	if maxDepth < 1 {
		maxDepth = 1
	}
	visited := make(map[string]bool)
	var pages []Page
	c.crawl(ctx, start, 1, maxDepth, visited, &pages)
	return pages
}

func (c *Crawler) crawl(ctx context.Context, current string, depth, maxDepth int, visited map[string]bool, pages *[]Page) {
	if depth > maxDepth || visited[current] {
		return
	}
	visited[current] = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
	if err != nil {
		return
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}

	switch {
	case strings.Contains(contentType, "text/html"):
		c.handleHTML(ctx, current, string(body), depth, maxDepth, visited, pages)
	case strings.Contains(contentType, "text/plain"):
		text := normalizeWhitespace(string(body))
		if text != "" {
			*pages = append(*pages, Page{URL: current, Text: text})
		}
	case strings.Contains(contentType, "application/pdf"):
		// PDF-by-URL crawling is intentionally a no-op (spec §9 / SPEC_FULL §13
		// Open Question decisions), matching the original's own TODO.
		return
	default:
		return
	}
}

func (c *Crawler) handleHTML(ctx context.Context, current, body string, depth, maxDepth int, visited map[string]bool, pages *[]Page) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return
	}

	if content := largestTextContainer(doc); content != "" {
		if text := normalizeWhitespace(content); text != "" {
			*pages = append(*pages, Page{URL: current, Text: text})
		}
	}

	if depth >= maxDepth {
		return
	}

	for _, link := range sameSchemeLinks(doc, current) {
		c.crawl(ctx, link, depth+1, maxDepth, visited, pages)
	}
}

// largestTextContainer walks the parsed document and returns the rendered
// text of whichever of article/div/main/p has the most text content —
// the same heuristic utils_rag.py uses to pick "main_content" before
// converting it to markdown.
func largestTextContainer(doc *html.Node) string {
	targets := map[string]bool{"article": true, "div": true, "main": true, "p": true}

	var best string
	var bestLen int

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && targets[n.Data] {
			text := renderText(n)
			if len(text) > bestLen {
				bestLen = len(text)
				best = text
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return best
}

// renderText flattens an element's visible text, skipping <script> and
// <style> subtrees and keeping only an <a> link's inner text — anchors are
// stripped the way markdownify's strip=['a'] drops them, rather than
// reintroduced as inline markdown (spec §4.C: "convert to Markdown
// (anchors stripped)").
func renderText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
			if n.Data == "a" {
				var inner strings.Builder
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					innerWalk(c, &inner)
				}
				b.WriteString(strings.TrimSpace(inner.String()))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func innerWalk(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		innerWalk(c, b)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// sameSchemeLinks resolves every <a href> against base and keeps only
// http(s) absolute links, deduplicated — matching utils_rag.py's urljoin +
// scheme check.
func sameSchemeLinks(doc *html.Node, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			if href != "" {
				if resolved, err := baseURL.Parse(href); err == nil {
					if resolved.Scheme == "http" || resolved.Scheme == "https" {
						s := resolved.String()
						if !seen[s] {
							seen[s] = true
							links = append(links, s)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// normalizeWhitespace collapses newlines and tabs and trims the result —
// the original strips all '\n'/'\t' from the markdown output before
// storing it; we apply the equivalent flattening directly to extracted text.
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	fields := strings.Fields(s)
	return strings.TrimSpace(strings.Join(fields, " "))
}
