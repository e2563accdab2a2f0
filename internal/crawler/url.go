package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NormalizeURL standardizes a URL so equivalent spellings share one visited
// entry: scheme and host are lowercased, default ports and the fragment are
// dropped, an empty path becomes "/" and query parameters are sorted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalize(u).String(), nil
}

func normalize(u *url.URL) *url.URL {
	out := *u
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	if out.Scheme == "http" {
		out.Host = strings.TrimSuffix(out.Host, ":80")
	}
	if out.Scheme == "https" {
		out.Host = strings.TrimSuffix(out.Host, ":443")
	}
	out.Fragment = ""
	out.RawFragment = ""
	if out.Path == "" {
		out.Path = "/"
	}
	if out.RawQuery != "" {
		out.RawQuery = out.Query().Encode()
	}
	return &out
}

// SameOrigin reports whether a and b share scheme and host (including port).
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// skippedExtensions are link targets that never hold an HTML page.
var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".zip": {}, ".gz": {}, ".png": {}, ".jpg": {}, ".jpeg": {},
	".gif": {}, ".svg": {}, ".webp": {}, ".ico": {}, ".css": {}, ".js": {},
	".mp4": {}, ".mp3": {}, ".woff": {}, ".woff2": {}, ".xml": {}, ".json": {},
}

// ExtractLinks returns the normalized same-origin page links in doc, resolved
// against base, in document order without duplicates.
func ExtractLinks(base, origin *url.URL, doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !SameOrigin(abs, origin) {
			return
		}
		if _, skip := skippedExtensions[strings.ToLower(path.Ext(abs.Path))]; skip {
			return
		}
		norm := normalize(abs).String()
		if _, dup := seen[norm]; dup {
			return
		}
		seen[norm] = struct{}{}
		links = append(links, norm)
	})
	return links
}
