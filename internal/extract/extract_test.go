package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const ticketHost = "download.thetrainline.com"

func TestLinksFindsTicketAnchors(t *testing.T) {
	body := `<html><body>
<p>Your tickets are ready.</p>
<a href="https://download.thetrainline.com/resource/abc123">Download</a>
<a href="https://www.thetrainline.com/help">Help</a>
<a href="https://download.thetrainline.com/resource/def456">Return leg</a>
</body></html>`

	assert.Equal(t, []string{
		"https://download.thetrainline.com/resource/abc123",
		"https://download.thetrainline.com/resource/def456",
	}, Links(body, ticketHost))
}

func TestLinksDeduplicatesPreservingOrder(t *testing.T) {
	body := `
<a href="https://download.thetrainline.com/r/one">first</a>
<a href="https://download.thetrainline.com/r/two">second</a>
<a href="https://download.thetrainline.com/r/one">first again</a>`

	assert.Equal(t, []string{
		"https://download.thetrainline.com/r/one",
		"https://download.thetrainline.com/r/two",
	}, Links(body, ticketHost))
}

func TestLinksEmptyCases(t *testing.T) {
	assert.Empty(t, Links("", ticketHost))
	assert.Empty(t, Links("plain text, no markup at all", ticketHost))
	assert.Empty(t, Links(`<a href="https://other.example.com/x.pdf">x</a>`, ticketHost))
	assert.Empty(t, Links(`<a href="mailto:download.thetrainline.com">x</a>`, ticketHost))
	assert.Empty(t, Links(`<a name="anchor">no href</a>`, ticketHost))
}

func TestLinksSurvivesBrokenMarkup(t *testing.T) {
	body := `<table><tr><td><a href="https://download.thetrainline.com/r/x">go<a></td></table>`
	assert.Equal(t, []string{"https://download.thetrainline.com/r/x"}, Links(body, ticketHost))
}

func TestLinksIsCaseInsensitiveOnHost(t *testing.T) {
	body := `<a href="https://Download.TheTrainline.com/r/x">go</a>`
	assert.Equal(t, []string{"https://Download.TheTrainline.com/r/x"}, Links(body, ticketHost))
}
