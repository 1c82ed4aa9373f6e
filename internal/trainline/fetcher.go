// Package trainline turns a ticket download link from an email into the
// final PDF bytes. The site interaction is deliberately contained here:
// when the page layout changes, this is the only package that needs work.
package trainline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/cmenon12/download-trainline-tickets/internal/ticket"
)

// AuthError means the site rejected (or required and was not given) the
// configured credentials.
type AuthError struct {
	URL string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("trainline auth %s: %v", e.URL, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError means the link no longer resolves to a ticket, typically
// because it expired or the tickets were already claimed.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("trainline ticket not found: %s", e.URL)
}

// ParseError means the site responded but not in the shape this package
// expects. That signals the scraping logic is stale, not a transient fault.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trainline parse %s: %s", e.URL, e.Reason)
}

const pdfMagic = "%PDF"

// Fetcher downloads ticket PDFs from the Trainline download site.
type Fetcher struct {
	email    string
	password string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Fetcher. baseURL, when non-empty, replaces the scheme and
// host of every ticket link before fetching (used to point at a test
// server). The underlying HTTP client keeps cookies, so a login survives
// across the requests for one link.
func New(email, password, baseURL string, logger *slog.Logger) *Fetcher {
	jar, _ := cookiejar.New(nil)
	return &Fetcher{
		email:    email,
		password: password,
		baseURL:  baseURL,
		client: &http.Client{
			Jar:     jar,
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Fetch resolves one ticket link to its PDFs. A single link may yield
// several tickets (one per leg of the journey).
func (f *Fetcher) Fetch(ctx context.Context, link string) ([]ticket.PDF, error) {
	link, err := f.rewrite(link)
	if err != nil {
		return nil, &ParseError{URL: link, Reason: err.Error()}
	}

	body, finalURL, contentType, err := f.get(ctx, link)
	if err != nil {
		return nil, err
	}

	// Some links resolve straight to the file.
	if isPDF(contentType, body) {
		name := filenameFromURL(finalURL)
		return []ticket.PDF{{Filename: name, Data: body}}, nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: link, Reason: fmt.Sprintf("parse page: %v", err)}
	}

	if form := findLoginForm(doc); form != nil {
		doc, finalURL, err = f.login(ctx, finalURL, form)
		if err != nil {
			return nil, err
		}
	}

	downloads := findPDFLinks(doc, finalURL)
	if len(downloads) == 0 {
		return nil, &ParseError{URL: link, Reason: "no ticket downloads on page"}
	}
	f.logger.Debug("found ticket downloads", "link", link, "count", len(downloads))

	pdfs := make([]ticket.PDF, 0, len(downloads))
	for i, dl := range downloads {
		pdf, err := f.download(ctx, dl, i+1)
		if err != nil {
			return nil, err
		}
		pdfs = append(pdfs, pdf)
	}
	return pdfs, nil
}

// rewrite redirects a link at the configured base URL, if any.
func (f *Fetcher) rewrite(link string) (string, error) {
	if f.baseURL == "" {
		return link, nil
	}
	base, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("bad base url %q: %w", f.baseURL, err)
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("bad link %q: %w", link, err)
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String(), nil
}

// get fetches a page, following redirects, and maps HTTP status codes onto
// the error taxonomy.
func (f *Fetcher) get(ctx context.Context, link string) (body []byte, finalURL *url.URL, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, nil, "", &ParseError{URL: link, Reason: err.Error()}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, "", fmt.Errorf("get %s: %w", link, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, link); err != nil {
		return nil, nil, "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, "", fmt.Errorf("read %s: %w", link, err)
	}
	return data, resp.Request.URL, resp.Header.Get("Content-Type"), nil
}

func statusError(code int, link string) error {
	switch {
	case code == http.StatusNotFound, code == http.StatusGone:
		return &NotFoundError{URL: link}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return &AuthError{URL: link, Err: fmt.Errorf("status %d", code)}
	case code != http.StatusOK:
		return fmt.Errorf("get %s: unexpected status %d", link, code)
	}
	return nil
}

// login submits the site's login form and returns the page it lands on.
func (f *Fetcher) login(ctx context.Context, pageURL *url.URL, form *loginForm) (*html.Node, *url.URL, error) {
	if f.email == "" || f.password == "" {
		return nil, nil, &AuthError{URL: pageURL.String(), Err: fmt.Errorf("site requires login but no credentials configured")}
	}

	action := pageURL
	if form.action != "" {
		ref, err := url.Parse(form.action)
		if err != nil {
			return nil, nil, &ParseError{URL: pageURL.String(), Reason: fmt.Sprintf("bad form action %q", form.action)}
		}
		action = pageURL.ResolveReference(ref)
	}

	values := url.Values{}
	for k, v := range form.hidden {
		values.Set(k, v)
	}
	values.Set(form.emailField, f.email)
	values.Set(form.passwordField, f.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.String(), strings.NewReader(values.Encode()))
	if err != nil {
		return nil, nil, &ParseError{URL: action.String(), Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("post login %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, &AuthError{URL: action.String(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("post login %s: unexpected status %d", action, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read login response: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &ParseError{URL: action.String(), Reason: fmt.Sprintf("parse login response: %v", err)}
	}

	// Landing back on a login form means the credentials were rejected.
	if findLoginForm(doc) != nil {
		return nil, nil, &AuthError{URL: action.String(), Err: fmt.Errorf("credentials rejected")}
	}

	f.logger.Debug("logged in to ticket site", "url", action.String())
	return doc, resp.Request.URL, nil
}

// download retrieves one PDF and derives its filename: the server's
// Content-Disposition wins, then the URL path, then ticket<n>.pdf.
func (f *Fetcher) download(ctx context.Context, dl *url.URL, n int) (ticket.PDF, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.String(), nil)
	if err != nil {
		return ticket.PDF{}, &ParseError{URL: dl.String(), Reason: err.Error()}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return ticket.PDF{}, fmt.Errorf("download %s: %w", dl, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, dl.String()); err != nil {
		return ticket.PDF{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ticket.PDF{}, fmt.Errorf("read %s: %w", dl, err)
	}
	if !bytes.HasPrefix(data, []byte(pdfMagic)) {
		return ticket.PDF{}, &ParseError{URL: dl.String(), Reason: "download is not a PDF"}
	}

	name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = filenameFromURL(resp.Request.URL)
	}
	if name == "" {
		name = fmt.Sprintf("ticket%d.pdf", n)
	}
	return ticket.PDF{Filename: name, Data: data}, nil
}

func isPDF(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/pdf" {
		return true
	}
	return bytes.HasPrefix(body, []byte(pdfMagic))
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := path.Base(params["filename"])
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return name
	}
	return ""
}

func filenameFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	name := path.Base(u.Path)
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return name
	}
	return ""
}
