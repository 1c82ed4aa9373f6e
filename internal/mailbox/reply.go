package mailbox

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/cmenon12/download-trainline-tickets/internal/ticket"
)

// BuildReply constructs the raw reply message for cand: threaded via
// In-Reply-To/References, addressed from and to the mailbox owner, with one
// application/pdf attachment per PDF in order.
func BuildReply(cand Candidate, pdfs []ticket.PDF, owner string, now time.Time) ([]byte, error) {
	var header mail.Header
	header.SetDate(now)
	header.SetAddressList("From", []*mail.Address{{Name: "Ticket Downloader", Address: owner}})
	header.SetAddressList("To", []*mail.Address{{Address: owner}})
	header.SetSubject(replySubject(cand.Subject))
	header.SetMsgIDList("Message-Id", []string{replyMessageID(cand, owner, now)})
	if cand.MessageID != "" {
		header.SetMsgIDList("In-Reply-To", []string{cand.MessageID})
		header.SetMsgIDList("References", []string{cand.MessageID})
	}

	var buf bytes.Buffer
	writer, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	inline, err := writer.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline part: %w", err)
	}
	var textHeader mail.InlineHeader
	textHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	text, err := inline.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	fmt.Fprintf(text, "Downloaded %d ticket(s):\r\n", len(pdfs))
	for _, pdf := range pdfs {
		fmt.Fprintf(text, "- %s\r\n", pdf.Filename)
	}
	text.Close()
	inline.Close()

	for _, pdf := range pdfs {
		var attHeader mail.AttachmentHeader
		attHeader.SetContentType("application/pdf", nil)
		attHeader.SetFilename(pdf.Filename)
		att, err := writer.CreateAttachment(attHeader)
		if err != nil {
			return nil, fmt.Errorf("create attachment %s: %w", pdf.Filename, err)
		}
		if _, err := att.Write(pdf.Data); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", pdf.Filename, err)
		}
		att.Close()
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// replyMessageID derives a unique Message-Id in the owner's domain.
func replyMessageID(cand Candidate, owner string, now time.Time) string {
	domain := owner
	if at := strings.LastIndex(owner, "@"); at >= 0 {
		domain = owner[at+1:]
	}
	return fmt.Sprintf("tickets-%d-%d.%s", cand.UID, now.UnixNano(), domain)
}
