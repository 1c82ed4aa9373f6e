// Package mailbox is the only code that talks to the IMAP server: it lists
// candidate ticket emails, fetches their bodies and injects the reply that
// carries the downloaded PDFs.
package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/cmenon12/download-trainline-tickets/internal/ticket"
)

// FetchError covers failures reading from the mailbox, including a message
// disappearing between listing and fetching.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("mailbox fetch (%s): %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError covers the mailbox rejecting the reply append.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("mailbox write (%s): %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Candidate is one inbox message matching the sender/subject/date filter.
type Candidate struct {
	UID       imap.UID
	MessageID string
	Subject   string
	Date      time.Time
	From      string
}

// Options configures the connection and the candidate filter.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Folder   string
	Sender   string
	Subject  string
}

// Client is an authenticated IMAP session with the configured folder
// selected.
type Client struct {
	client *imapclient.Client
	opts   Options
	logger *slog.Logger
}

// Connect dials the server, logs in and selects the folder. Connection or
// authentication failure here is fatal to the run; the caller should exit.
func Connect(opts Options, logger *slog.Logger) (*Client, error) {
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))

	var client *imapclient.Client
	var err error

	if opts.UseTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: opts.Host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login %s: %w", opts.Username, err)
	}

	if _, err := client.Select(opts.Folder, nil).Wait(); err != nil {
		client.Logout().Wait()
		return nil, fmt.Errorf("imap select %s: %w", opts.Folder, err)
	}

	logger.Info("connected to mailbox", "host", opts.Host, "folder", opts.Folder)
	return &Client{client: client, opts: opts, logger: logger}, nil
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	if err := c.client.Logout().Wait(); err != nil {
		return c.client.Close()
	}
	return nil
}

// ListCandidates returns messages from the configured sender and subject
// received at or after since, oldest first by mailbox order. An empty
// result is not an error.
func (c *Client) ListCandidates(ctx context.Context, since time.Time) ([]Candidate, error) {
	criteria := &imap.SearchCriteria{
		Since: since,
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: c.opts.Sender},
			{Key: "Subject", Value: c.opts.Subject},
		},
	}
	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &FetchError{Op: "search", Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		c.logger.Info("no candidate messages in window", "since", since)
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)
	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}

	buffers, err := c.client.Fetch(uidSet, fetchOptions).Collect()
	if err != nil {
		return nil, &FetchError{Op: "fetch envelopes", Err: err}
	}

	candidates := make([]Candidate, 0, len(buffers))
	for _, buf := range buffers {
		cand := Candidate{UID: buf.UID}
		if env := buf.Envelope; env != nil {
			cand.MessageID = strings.Trim(env.MessageID, "<>")
			cand.Subject = env.Subject
			cand.Date = env.Date
			if len(env.From) > 0 {
				cand.From = fmt.Sprintf("%s@%s", env.From[0].Mailbox, env.From[0].Host)
			}
		}
		if cand.MessageID == "" {
			// No Message-ID header; synthesise a stable identity.
			cand.MessageID = fmt.Sprintf("imap-%d-%s", buf.UID, c.opts.Username)
		}
		candidates = append(candidates, cand)
	}

	c.logger.Info("found candidate messages", "count", len(candidates), "since", since)
	return candidates, nil
}

// FetchBody retrieves the message body for link extraction, preferring the
// HTML part.
func (c *Client) FetchBody(ctx context.Context, cand Candidate) (string, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := c.client.Fetch(imap.UIDSetNum(cand.UID), fetchOptions).Collect()
	if err != nil {
		return "", &FetchError{Op: "fetch body", Err: err}
	}
	if len(buffers) == 0 {
		return "", &FetchError{Op: "fetch body", Err: fmt.Errorf("message %s no longer in mailbox", cand.MessageID)}
	}

	raw := buffers[0].FindBodySection(bodySection)
	if len(raw) == 0 {
		return "", &FetchError{Op: "fetch body", Err: fmt.Errorf("message %s has no body", cand.MessageID)}
	}

	body, err := messageBody(raw)
	if err != nil {
		return "", &FetchError{Op: "parse body", Err: err}
	}
	return body, nil
}

// AttachReply builds a reply to cand carrying each PDF as an attachment and
// appends it to the folder with the \Seen flag, so it arrives already read.
// The reply never touches outbound mail transport.
func (c *Client) AttachReply(ctx context.Context, cand Candidate, pdfs []ticket.PDF) error {
	now := time.Now()
	msg, err := BuildReply(cand, pdfs, c.opts.Username, now)
	if err != nil {
		return &WriteError{Op: "build reply", Err: err}
	}

	cmd := c.client.Append(c.opts.Folder, int64(len(msg)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
		Time:  now,
	})
	if _, err := cmd.Write(msg); err != nil {
		cmd.Close()
		return &WriteError{Op: "append", Err: err}
	}
	if err := cmd.Close(); err != nil {
		return &WriteError{Op: "append", Err: err}
	}
	if _, err := cmd.Wait(); err != nil {
		return &WriteError{Op: "append", Err: err}
	}

	c.logger.Info("attached reply", "msg_id", cand.MessageID, "attachments", len(pdfs))
	return nil
}

// messageBody extracts the text from a raw RFC 5322 message, preferring
// text/html over text/plain.
func messageBody(raw []byte) (string, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	defer reader.Close()

	var plain, htmlBody string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read message part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}
		switch contentType {
		case "text/html":
			if htmlBody == "" {
				data, err := io.ReadAll(part.Body)
				if err != nil {
					return "", fmt.Errorf("read html part: %w", err)
				}
				htmlBody = string(data)
			}
		case "text/plain":
			if plain == "" {
				data, err := io.ReadAll(part.Body)
				if err != nil {
					return "", fmt.Errorf("read text part: %w", err)
				}
				plain = string(data)
			}
		}
	}

	if htmlBody != "" {
		return htmlBody, nil
	}
	return plain, nil
}
