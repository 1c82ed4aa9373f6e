package mailbox

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmenon12/download-trainline-tickets/internal/ticket"
)

func TestBuildReplyRoundTrip(t *testing.T) {
	cand := Candidate{
		UID:       42,
		MessageID: "eticket-123@info.thetrainline.com",
		Subject:   "Your eticket",
		Date:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	pdfs := []ticket.PDF{
		{Filename: "outbound.pdf", Data: []byte("%PDF-1.4 out")},
		{Filename: "return.pdf", Data: []byte("%PDF-1.4 back")},
	}

	raw, err := BuildReply(cand, pdfs, "me@example.com", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer reader.Close()

	subject, err := reader.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Your eticket", subject)

	inReplyTo, err := reader.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"eticket-123@info.thetrainline.com"}, inReplyTo)

	references, err := reader.Header.MsgIDList("References")
	require.NoError(t, err)
	assert.Equal(t, []string{"eticket-123@info.thetrainline.com"}, references)

	msgID, err := reader.Header.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	var attachments []string
	var contents [][]byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		if header, ok := part.Header.(*mail.AttachmentHeader); ok {
			filename, err := header.Filename()
			require.NoError(t, err)
			attachments = append(attachments, filename)
			data, err := io.ReadAll(part.Body)
			require.NoError(t, err)
			contents = append(contents, data)
		}
	}

	assert.Equal(t, []string{"outbound.pdf", "return.pdf"}, attachments)
	require.Len(t, contents, 2)
	assert.Equal(t, []byte("%PDF-1.4 out"), contents[0])
	assert.Equal(t, []byte("%PDF-1.4 back"), contents[1])
}

func TestBuildReplyKeepsExistingRePrefix(t *testing.T) {
	raw, err := BuildReply(Candidate{Subject: "Re: Your eticket"}, nil, "me@example.com", time.Now())
	require.NoError(t, err)

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer reader.Close()

	subject, err := reader.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Your eticket", subject)
}

func TestBuildReplyWithoutOriginalMessageID(t *testing.T) {
	raw, err := BuildReply(Candidate{UID: 7, Subject: "Your eticket"}, nil, "me@example.com", time.Now())
	require.NoError(t, err)

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer reader.Close()

	assert.Empty(t, reader.Header.Get("In-Reply-To"))
}

func TestMessageBodyPrefersHTML(t *testing.T) {
	raw := []byte("Mime-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=BOUND\r\n" +
		"\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<a href=\"https://download.thetrainline.com/r/x\">go</a>\r\n" +
		"--BOUND--\r\n")

	body, err := messageBody(raw)
	require.NoError(t, err)
	assert.Contains(t, body, "download.thetrainline.com")
}

func TestMessageBodySinglePartPlain(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\n" +
		"\r\n" +
		"just text\r\n")

	body, err := messageBody(raw)
	require.NoError(t, err)
	assert.Contains(t, body, "just text")
}
