package trainline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPDF = []byte("%PDF-1.4 fake ticket body")

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFetchPageWithTwoTickets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/resource/abc":
			fmt.Fprint(w, `<html><body>
<a href="/files/outbound.pdf">Outbound</a>
<a href="/files/return.pdf">Return</a>
</body></html>`)
		case "/files/outbound.pdf", "/files/return.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Write(testPDF)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New("", "", "", discardLogger())
	pdfs, err := f.Fetch(context.Background(), srv.URL+"/resource/abc")
	require.NoError(t, err)
	require.Len(t, pdfs, 2)
	assert.Equal(t, "outbound.pdf", pdfs[0].Filename)
	assert.Equal(t, "return.pdf", pdfs[1].Filename)
	assert.Equal(t, testPDF, pdfs[0].Data)
}

func TestFetchDirectPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(testPDF)
	}))
	defer srv.Close()

	f := New("", "", "", discardLogger())
	pdfs, err := f.Fetch(context.Background(), srv.URL+"/tickets/journey.pdf")
	require.NoError(t, err)
	require.Len(t, pdfs, 1)
	assert.Equal(t, "journey.pdf", pdfs[0].Filename)
}

func TestFetchLoginFlow(t *testing.T) {
	loggedIn := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/resource/abc":
			if !loggedIn {
				fmt.Fprint(w, `<html><body><form action="/login" method="post">
<input type="hidden" name="token" value="t0k3n">
<input type="email" name="email">
<input type="password" name="password">
</form></body></html>`)
				return
			}
			fmt.Fprint(w, `<a href="/files/ticket.pdf">Download</a>`)
		case "/login":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "t0k3n", r.PostForm.Get("token"))
			if r.PostForm.Get("email") == "me@example.com" && r.PostForm.Get("password") == "secret" {
				loggedIn = true
				fmt.Fprint(w, `<a href="/files/ticket.pdf">Download</a>`)
				return
			}
			// Credentials rejected: serve the login form again.
			fmt.Fprint(w, `<form action="/login"><input type="password" name="password"></form>`)
		case "/files/ticket.pdf":
			w.Header().Set("Content-Disposition", `attachment; filename="london-to-leeds.pdf"`)
			w.Write(testPDF)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New("me@example.com", "secret", "", discardLogger())
	pdfs, err := f.Fetch(context.Background(), srv.URL+"/resource/abc")
	require.NoError(t, err)
	require.Len(t, pdfs, 1)
	assert.Equal(t, "london-to-leeds.pdf", pdfs[0].Filename)
}

func TestFetchBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form action="/login"><input type="text" name="email"><input type="password" name="password"></form>`)
	}))
	defer srv.Close()

	f := New("me@example.com", "wrong", "", discardLogger())
	_, err := f.Fetch(context.Background(), srv.URL+"/resource/abc")
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestFetchLoginRequiredWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form><input type="password" name="password"></form>`)
	}))
	defer srv.Close()

	f := New("", "", "", discardLogger())
	_, err := f.Fetch(context.Background(), srv.URL+"/resource/abc")
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestFetchExpiredLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	f := New("", "", "", discardLogger())
	_, err := f.Fetch(context.Background(), srv.URL+"/resource/expired")
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func TestFetchPageWithoutDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Nothing to see here.</p></body></html>`)
	}))
	defer srv.Close()

	f := New("", "", "", discardLogger())
	_, err := f.Fetch(context.Background(), srv.URL+"/resource/abc")
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestFetchRejectsNonPDFDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/resource/abc":
			fmt.Fprint(w, `<a href="/files/ticket.pdf">Download</a>`)
		case "/files/ticket.pdf":
			fmt.Fprint(w, "<html>surprise, not a pdf</html>")
		}
	}))
	defer srv.Close()

	f := New("", "", "", discardLogger())
	_, err := f.Fetch(context.Background(), srv.URL+"/resource/abc")
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestFetchRewritesBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resource/abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(testPDF)
	}))
	defer srv.Close()

	f := New("", "", srv.URL, discardLogger())
	pdfs, err := f.Fetch(context.Background(), "https://download.thetrainline.com/resource/abc")
	require.NoError(t, err)
	require.Len(t, pdfs, 1)
}
