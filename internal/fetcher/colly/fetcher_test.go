package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><body>trace="+r.Header.Get("X-Trace")+" ua="+r.UserAgent()+"</body></html>")
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "secret")
	})
	mux.HandleFunc("/notes.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "just some notes")
	})
	mux.HandleFunc("/report.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(make([]byte, 64<<10))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcherFetchesPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgent: "evaluator-test", Timeout: time.Second})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := string(resp.Body)
	if !strings.Contains(body, "trace=yes") || !strings.Contains(body, "ua=evaluator-test") {
		t.Fatalf("expected request headers to reach the server, got %q", body)
	}
	if resp.Headers.Get("Content-Type") != "text/html" {
		t.Fatalf("expected content type copied, got %q", resp.Headers.Get("Content-Type"))
	}

	// repeated fetches of one URL are allowed
	if _, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/"}); err != nil {
		t.Fatalf("second Fetch returned error: %v", err)
	}
}

func TestFetcherReturnsErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFetcherRespectsRobots(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{RespectRobots: true})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private"})
	if !errors.Is(err, colly.ErrRobotsTxtBlocked) {
		t.Fatalf("expected robots block, got %v", err)
	}

	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private"})
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected fetch to ignore robots, got %d %v", resp.StatusCode, err)
	}
}

func TestFetcherHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFetcherSkipsNonDocumentBodies(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/report.pdf"})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Headers.Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected content type kept, got %q", resp.Headers.Get("Content-Type"))
	}
	if len(resp.Body) != 0 {
		t.Fatalf("expected body to be skipped, got %d bytes", len(resp.Body))
	}
}

func TestFetcherSkipsPlainTextBodies(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/notes.txt"})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(resp.Body) != 0 {
		t.Fatalf("expected plain text body to be skipped, got %d bytes", len(resp.Body))
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	state := &fetchState{}

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Now(), state)
	if hooks.onRequest == nil || hooks.onHeaders == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}
	if !strings.HasPrefix(collyReq.Headers.Get("Accept"), "text/html") {
		t.Fatalf("expected html accept header, got %q", collyReq.Headers.Get("Accept"))
	}

	hooks.onHeaders(&colly.Response{
		StatusCode: http.StatusOK,
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if state.skipped {
		t.Fatal("html response must not be skipped")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if state.result.StatusCode != http.StatusCreated || string(state.result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", state.result)
	}
	if state.result.Headers.Get("X-Resp") != "ok" {
		t.Fatalf("expected headers copied, got %+v", state.result.Headers)
	}

	hooks.onHeaders(&colly.Response{
		StatusCode: http.StatusOK,
		Headers:    &http.Header{"Content-Type": {"image/png"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/logo.png")},
	})
	if !state.skipped || state.result.Body != nil {
		t.Fatalf("expected image response skipped without body, got %+v", state.result)
	}

	hooks.onError(nil, errors.New("boom"))
	if state.err == nil || state.err.Error() != "boom" {
		t.Fatalf("expected state error set, got %v", state.err)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onHeaders  colly.ResponseHeadersCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)                 { s.onRequest = cb }
func (s *stubHooks) OnResponseHeaders(cb colly.ResponseHeadersCallback) { s.onHeaders = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback)               { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)                     { s.onError = cb }
