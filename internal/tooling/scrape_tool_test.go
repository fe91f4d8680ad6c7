package tooling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// =============================================================================
// fixtures
// =============================================================================

type stubFetcher struct {
	body []byte
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(ctx context.Context, u string) ([]byte, error) {
	s.urls = append(s.urls, u)
	return s.body, s.err
}

// articlePage is long enough for readability to find an article.
var articlePage = `<!DOCTYPE html>
<html>
<head>
  <title>Spell casting</title>
  <style>body { color: red; }</style>
  <script>console.log('tracking');</script>
</head>
<body>
  <nav><a href="/">Home</a> | <a href="/about">About</a></nav>
  <article>
    <h1>On casting spells inline</h1>
` + strings.Repeat(`    <p>A marker opens an invocation and the same marker closes it again.
    Text outside the markers streams through to the reader untouched, while the
    text between them names a tool and its arguments.</p>
`, 5) + `  </article>
  <footer>Copyright 2026</footer>
  <script>trackPageView();</script>
</body>
</html>`

func castFetchPage(f HTTPFetcher, args ...string) (string, error) {
	return FetchPageTool(f).Func(context.Background(), args)
}

func withArticleExtractor(t *testing.T, fn func(io.Reader, *url.URL) (readability.Article, error)) {
	t.Helper()
	prev := extractArticle
	extractArticle = fn
	t.Cleanup(func() { extractArticle = prev })
}

func noArticle(io.Reader, *url.URL) (readability.Article, error) {
	return readability.Article{}, errors.New("no article")
}

// =============================================================================
// fetchPage
// =============================================================================

func TestFetchPage_WhenArticle_ShouldReturnTextWithoutNoise(t *testing.T) {
	f := &stubFetcher{body: []byte(articlePage)}
	out, err := castFetchPage(f, "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "A marker opens an invocation") {
		t.Errorf("article text missing: %q", out)
	}
	for _, junk := range []string{"console.log", "trackPageView", "color: red"} {
		if strings.Contains(out, junk) {
			t.Errorf("output contains %q", junk)
		}
	}
	if len(f.urls) != 1 || f.urls[0] != "https://example.com/post" {
		t.Errorf("fetched %q", f.urls)
	}
}

func TestFetchPage_WhenURLNotAbsoluteHTTP_ShouldRejectWithoutFetching(t *testing.T) {
	for _, u := range []string{"file:///etc/passwd", "example.com", "https://", "ftp://example.com", "http://[::1"} {
		t.Run(u, func(t *testing.T) {
			f := &stubFetcher{}
			if _, err := castFetchPage(f, u); err == nil {
				t.Fatal("expected an error")
			}
			if len(f.urls) != 0 {
				t.Error("fetcher should not be called")
			}
		})
	}
}

func TestFetchPage_WhenFetchFails_ShouldWrap(t *testing.T) {
	timeout := errors.New("timeout")
	_, err := castFetchPage(&stubFetcher{err: timeout}, "http://example.com")
	if !errors.Is(err, timeout) || !strings.HasPrefix(err.Error(), "fetchPage: ") {
		t.Errorf("got %v", err)
	}
}

func TestFetchPage_WhenArgCountWrong_ShouldReturnErrBadArgs(t *testing.T) {
	for _, args := range [][]string{nil, {"http://a", "http://b"}} {
		if _, err := castFetchPage(&stubFetcher{}, args...); !errors.Is(err, ErrBadArgs) {
			t.Errorf("args %q: want ErrBadArgs, got %v", args, err)
		}
	}
}

func TestFetchPage_WhenPageEmpty_ShouldReportNoContent(t *testing.T) {
	withArticleExtractor(t, noArticle)
	_, err := castFetchPage(&stubFetcher{body: []byte("<script>only()</script>")}, "http://example.com")
	if !errors.Is(err, errNoContent) || !strings.Contains(err.Error(), "example.com") {
		t.Errorf("got %v", err)
	}
}

func TestFetchPage_WhenPageHuge_ShouldTruncate(t *testing.T) {
	body := "<html><body><p>" + strings.Repeat("word ", maxPageChars) + "</p></body></html>"
	out, err := castFetchPage(&stubFetcher{body: []byte(body)}, "http://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out, "\n[truncated]") || len([]rune(out)) != maxPageChars+len("\n[truncated]") {
		t.Errorf("unexpected truncation, %d runes", len([]rune(out)))
	}
}

// =============================================================================
// readPage
// =============================================================================

func TestReadPage_WhenNoArticle_ShouldFallBackToVisibleText(t *testing.T) {
	withArticleExtractor(t, noArticle)
	out, err := readPage([]byte("<p>short  \n\n  note</p><noscript>enable js</noscript><script>x()</script>"), &url.URL{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "short\nnote" {
		t.Errorf("got %q", out)
	}
}

func TestReadPage_WhenArticleBlank_ShouldFallBackToVisibleText(t *testing.T) {
	withArticleExtractor(t, func(io.Reader, *url.URL) (readability.Article, error) {
		return readability.Article{TextContent: " \n "}, nil
	})
	out, err := readPage([]byte("<p>visible</p>"), &url.URL{})
	if err != nil || out != "visible" {
		t.Errorf("got %q, %v", out, err)
	}
}

func TestReadPage_WhenRenderFails_ShouldFail(t *testing.T) {
	prev := renderHTML
	renderHTML = func(*goquery.Document) (string, error) { return "", errors.New("render boom") }
	t.Cleanup(func() { renderHTML = prev })

	_, err := readPage([]byte("<p>x</p>"), &url.URL{})
	if err == nil || !strings.Contains(err.Error(), "render html: render boom") {
		t.Errorf("got %v", err)
	}
}

func TestSqueezeLines(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"a":                 "a",
		"  a  \n\n\t b\n":   "a\nb",
		"\n\n x \r\n y \n ": "x\ny",
	}
	for in, want := range tests {
		if got := squeezeLines(in); got != want {
			t.Errorf("squeezeLines(%q) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// DefaultHTTPFetcher
// =============================================================================

func TestDefaultHTTPFetcher_WhenOK_ShouldReturnBodyAndSendUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	body, err := NewDefaultHTTPFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != articlePage {
		t.Error("body mismatch")
	}
	if ua != fetchUserAgent {
		t.Errorf("User-Agent: %q", ua)
	}
}

func TestDefaultHTTPFetcher_WhenStatusNotOK_ShouldFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewDefaultHTTPFetcher().Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "404 Not Found") {
		t.Errorf("got %v", err)
	}
}

func TestDefaultHTTPFetcher_WhenContextCancelled_ShouldFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDefaultHTTPFetcher().Fetch(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestDefaultHTTPFetcher_WhenBodyCutShort_ShouldFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort")
		buf.Flush()
	}))
	defer srv.Close()

	_, err := NewDefaultHTTPFetcher().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, io.ErrUnexpectedEOF) || !strings.Contains(err.Error(), "read body") {
		t.Errorf("got %v", err)
	}
}
