package trainline

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// loginForm describes a login form found on a ticket page.
type loginForm struct {
	action        string
	emailField    string
	passwordField string
	hidden        map[string]string
}

// findLoginForm returns the first form containing a password input, or nil.
func findLoginForm(doc *html.Node) *loginForm {
	var found *loginForm
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "form" {
			return true
		}
		if form := parseForm(n); form != nil && found == nil {
			found = form
		}
		return found == nil
	})
	return found
}

func parseForm(formNode *html.Node) *loginForm {
	form := &loginForm{hidden: make(map[string]string)}
	form.action = attrValue(formNode, "action")

	walk(formNode, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "input" {
			return true
		}
		name := attrValue(n, "name")
		if name == "" {
			return true
		}
		switch strings.ToLower(attrValue(n, "type")) {
		case "password":
			if form.passwordField == "" {
				form.passwordField = name
			}
		case "hidden":
			form.hidden[name] = attrValue(n, "value")
		case "email":
			if form.emailField == "" {
				form.emailField = name
			}
		case "text", "":
			if form.emailField == "" {
				form.emailField = name
			}
		}
		return true
	})

	if form.passwordField == "" {
		return nil
	}
	if form.emailField == "" {
		form.emailField = "email"
	}
	return form
}

// findPDFLinks returns the PDF download targets on a page, resolved against
// base, in document order. A link counts if its href path ends in .pdf or
// the anchor carries a download attribute.
func findPDFLinks(doc *html.Node, base *url.URL) []*url.URL {
	var links []*url.URL
	seen := make(map[string]struct{})

	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return true
		}
		href := attrValue(n, "href")
		if href == "" {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		if !strings.HasSuffix(strings.ToLower(ref.Path), ".pdf") && !hasAttr(n, "download") {
			return true
		}
		u := base.ResolveReference(ref)
		if u.Scheme != "http" && u.Scheme != "https" {
			return true
		}
		if _, dup := seen[u.String()]; dup {
			return true
		}
		seen[u.String()] = struct{}{}
		links = append(links, u)
		return true
	})
	return links
}

// walk visits n and its descendants depth-first; visit returning false
// prunes the subtree.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
