// Package extract pulls ticket download links out of an email body.
package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Links returns every anchor href in body whose host matches host, in
// document order with duplicates removed. A body with no matching links
// returns an empty result; that is not an error. The scan tolerates the
// malformed HTML that marketing emails are made of.
func Links(body, host string) []string {
	var links []string
	seen := make(map[string]struct{})

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// Tokenizer reports EOF as an error token.
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "href" {
					continue
				}
				link := strings.TrimSpace(attr.Val)
				if !matchesHost(link, host) {
					continue
				}
				if _, dup := seen[link]; dup {
					continue
				}
				seen[link] = struct{}{}
				links = append(links, link)
			}
		}
	}
}

func matchesHost(link, host string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
