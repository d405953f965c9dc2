// Package scraper turns HTML product manuals into plain-text sections.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Section is the text under one heading of a manual.
type Section struct {
	Heading string
	Text    string
}

const headings = "h1, h2, h3"

var spaces = regexp.MustCompile(`\s+`)

// FetchManual downloads a manual page and splits it into sections.
func FetchManual(ctx context.Context, url string) ([]Section, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manual: bad status %d", resp.StatusCode)
	}
	return ChunkHTML(resp.Body, resp.Header.Get("Content-Type"))
}

// ChunkHTML splits an HTML document by h1-h3 headings. Text before the first
// heading becomes an "overview" section. contentType may be empty; it is only
// used to pick the character set.
func ChunkHTML(r io.Reader, contentType string) ([]Section, error) {
	utf8Reader, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(utf8Reader)
	if err != nil {
		return nil, err
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find("script, style, nav, footer").Remove()

	var out []Section
	body := doc.Find("body")
	first := body.Find(headings).First()
	if first.Length() > 0 {
		lead := first.PrevAll().Text()
		if t := clean(lead); t != "" {
			out = append(out, Section{Heading: "overview", Text: t})
		}
	} else if t := extractText(root); t != "" {
		return []Section{{Heading: "overview", Text: t}}, nil
	}

	body.Find(headings).Each(func(_ int, h *goquery.Selection) {
		text := clean(h.NextUntil(headings).Text())
		if text == "" {
			return
		}
		out = append(out, Section{Heading: clean(h.Text()), Text: text})
	})
	return out, nil
}

// extractText collects every text node under n.
func extractText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data + " ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return clean(sb.String())
}

func clean(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
