package tooling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"spellcast/internal/domain"
)

const (
	// maxPageChars caps the text fetchPage hands back to the model.
	maxPageChars = 16000
	// maxBodyBytes caps what a fetch reads off the wire.
	maxBodyBytes = 10 << 20

	fetchTimeout   = 30 * time.Second
	fetchUserAgent = "Spellcast/1.0 (+fetchPage)"

	// noise is removed before any text is extracted.
	noise = "script, style, noscript, template"
)

var errNoContent = errors.New("page has no readable text")

// HTTPFetcher returns the body of a GET request.
type HTTPFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Seams for failures well-formed HTML never produces.
var (
	renderHTML     = func(doc *goquery.Document) (string, error) { return doc.Html() }
	extractArticle = readability.FromReader
)

// FetchPageTool returns the fetchPage spell. A nil fetcher uses NewDefaultHTTPFetcher.
func FetchPageTool(fetcher HTTPFetcher) domain.ToolDescriptor {
	if fetcher == nil {
		fetcher = NewDefaultHTTPFetcher()
	}
	return domain.ToolDescriptor{
		Name:        "fetchPage",
		Description: "Fetches a web page and returns its main readable text",
		Args:        []domain.ArgSpec{{Name: "url", Required: true, Description: "absolute http(s) URL"}},
		Func: func(ctx context.Context, args []string) (string, error) {
			if err := checkArgs("fetchPage", args, 1, 1); err != nil {
				return "", err
			}
			u, err := url.Parse(args[0])
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return "", fmt.Errorf("fetchPage: %q is not an absolute http(s) URL", args[0])
			}
			raw, err := fetcher.Fetch(ctx, u.String())
			if err != nil {
				return "", fmt.Errorf("fetchPage: %w", err)
			}
			text, err := readPage(raw, u)
			if err != nil {
				return "", fmt.Errorf("fetchPage: %s: %w", u.Host, err)
			}
			return truncateRunes(text, maxPageChars), nil
		},
	}
}

// readPage strips noise elements, then prefers the readability article and
// falls back to every visible text node when no article is found.
func readPage(raw []byte, pageURL *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noise).Remove()

	cleaned, err := renderHTML(doc)
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	if article, err := extractArticle(strings.NewReader(cleaned), pageURL); err == nil {
		if text := squeezeLines(article.TextContent); text != "" {
			return text, nil
		}
	}
	if text := squeezeLines(doc.Text()); text != "" {
		return text, nil
	}
	return "", errNoContent
}

// squeezeLines trims every line and drops the empty ones.
func squeezeLines(s string) string {
	var kept []string
	for line := range strings.Lines(s) {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[truncated]"
}

// DefaultHTTPFetcher fetches over net/http with a fixed timeout and user agent.
type DefaultHTTPFetcher struct {
	client *http.Client
}

func NewDefaultHTTPFetcher() *DefaultHTTPFetcher {
	return &DefaultHTTPFetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch fails on any status other than 200 and reads at most maxBodyBytes.
func (f *DefaultHTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", req.URL.Host, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", req.URL.Host, err)
	}
	return body, nil
}
