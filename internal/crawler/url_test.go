package crawler

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "HTTPS://Example.COM", want: "https://example.com/"},
		{in: "http://example.com:80/a#frag", want: "http://example.com/a"},
		{in: "https://example.com:443/a?b=2&a=1", want: "https://example.com/a?a=1&b=2"},
		{in: "https://example.com:8443/x", want: "https://example.com:8443/x"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, tt.in)
	}

	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	a, _ := url.Parse("https://example.com/a")
	b, _ := url.Parse("https://EXAMPLE.com/b")
	c, _ := url.Parse("http://example.com/a")
	d, _ := url.Parse("https://example.com:8443/a")
	require.True(t, SameOrigin(a, b))
	require.False(t, SameOrigin(a, c))
	require.False(t, SameOrigin(a, d))
	require.False(t, SameOrigin(a, nil))
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/about">About</a>
		<a href="contact?b=1&a=2">Contact</a>
		<a href="/about#team">Team</a>
		<a href="#top">Top</a>
		<a href="https://other.example.com/">Elsewhere</a>
		<a href="mailto:hi@example.com">Mail</a>
		<a href="/brochure.PDF">Brochure</a>
		<a href="">Empty</a>
		<a>No href</a>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	base, _ := url.Parse("https://example.com/docs/")
	origin, _ := url.Parse("https://example.com/")

	got := ExtractLinks(base, origin, doc)
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/docs/contact?a=2&b=1",
	}, got)
}
