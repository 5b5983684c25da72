package crawler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// resolveReference resolves raw against base and drops the fragment. It
// rejects empty and data: references and anything that is not http(s).
func resolveReference(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || isDataURL(raw) {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

// originKey is scheme plus host, lowercased, with a leading "www." removed.
func originKey(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return strings.ToLower(u.Scheme) + "://" + host
}

// sameOrigin reports whether rawURL belongs to the origin key.
func sameOrigin(origin string, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return originKey(u) == origin
}

// collectLinks returns the same-origin anchor targets of doc in document order.
func collectLinks(doc *goquery.Document, base *url.URL, origin string) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		raw, _ := sel.Attr("href")
		abs, ok := resolveReference(base, raw)
		if !ok || !sameOrigin(origin, abs) {
			return
		}
		links = append(links, abs)
	})
	return links
}

// canonicalPageURL strips the fragment so a page is visited once however it is linked.
func canonicalPageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
