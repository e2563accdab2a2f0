package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
)

func htmlResponse(status int, body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	article := "<html><body><article>" + strings.Repeat("Server rendered prose. ", 20) + "</article></body></html>"
	tests := []struct {
		name string
		resp crawler.FetchResponse
		want bool
	}{
		{name: "empty body", resp: htmlResponse(200, "  "), want: true},
		{name: "next shell", resp: htmlResponse(200, `<html><body><div id="__next"></div></body></html>`), want: true},
		{name: "vue shell", resp: htmlResponse(200, `<html><body><div data-v-app></div></body></html>`), want: true},
		{name: "noscript plea", resp: htmlResponse(200, `<html><body><noscript>Please enable JavaScript.</noscript><p>Hi</p></body></html>`), want: true},
		{name: "script heavy", resp: htmlResponse(200, `<html><body><script>window.__STATE__={"a":1,"b":2,"c":3};boot();</script><p>t</p></body></html>`), want: true},
		{name: "server rendered", resp: htmlResponse(200, article), want: false},
		{name: "server rendered with mount point", resp: htmlResponse(200, strings.Replace(article, "<article>", `<article id="root">`, 1)), want: false},
		{name: "thin but static", resp: htmlResponse(200, `<html><body><h1>Hello</h1><p>Small page.</p></body></html>`), want: false},
		{name: "not found", resp: htmlResponse(404, ""), want: false},
		{name: "json", resp: crawler.FetchResponse{StatusCode: 200, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte("{}")}, want: false},
	}

	h := NewHeuristic(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldPromote(tt.resp))
		})
	}
}

func TestNewHeuristicDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultMinTextChars, NewHeuristic(-1).MinTextChars)
	require.Equal(t, 50, NewHeuristic(50).MinTextChars)
}
