// Package pipeline drives each candidate message through extraction,
// download, reply injection and ledger recording.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmenon12/download-trainline-tickets/internal/ledger"
	"github.com/cmenon12/download-trainline-tickets/internal/mailbox"
	"github.com/cmenon12/download-trainline-tickets/internal/ticket"
)

// Mailbox lists candidates, fetches bodies and injects replies.
type Mailbox interface {
	ListCandidates(ctx context.Context, since time.Time) ([]mailbox.Candidate, error)
	FetchBody(ctx context.Context, cand mailbox.Candidate) (string, error)
	AttachReply(ctx context.Context, cand mailbox.Candidate, pdfs []ticket.PDF) error
}

// Fetcher resolves one ticket link to its PDFs.
type Fetcher interface {
	Fetch(ctx context.Context, link string) ([]ticket.PDF, error)
}

// Notifier pushes one PDF to the notification service.
type Notifier interface {
	Push(ctx context.Context, pdf ticket.PDF) error
}

// LinkFunc extracts ticket links from a message body.
type LinkFunc func(body string) []string

// Options wires a Runner.
type Options struct {
	Ledger   *ledger.Ledger
	Mailbox  Mailbox
	Links    LinkFunc
	Fetcher  Fetcher
	Notifier Notifier // nil disables notifications

	// RecordSkipped marks messages without ticket links as processed
	// instead of leaving them eligible for a retry with better extraction.
	RecordSkipped bool

	Logger *slog.Logger
}

// Summary counts the outcomes of one run.
type Summary struct {
	Candidates  int
	AlreadySeen int
	Processed   int
	Skipped     int
	Failed      int
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
)

// Runner executes one pass over the mailbox. Messages are handled one at a
// time, each to completion before the next.
type Runner struct {
	opts Options
}

// New creates a Runner.
func New(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run lists candidates in the window and processes each unseen one. A
// listing failure aborts the run; a failure on one message is logged and
// the loop moves on, leaving that message unrecorded for the next run.
func (r *Runner) Run(ctx context.Context, since time.Time) (Summary, error) {
	candidates, err := r.opts.Mailbox.ListCandidates(ctx, since)
	if err != nil {
		return Summary{}, fmt.Errorf("list candidates: %w", err)
	}

	summary := Summary{Candidates: len(candidates)}
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if r.opts.Ledger.Contains(cand.MessageID) {
			r.opts.Logger.Debug("already processed", "msg_id", cand.MessageID)
			summary.AlreadySeen++
			continue
		}

		result, err := r.process(ctx, cand)
		switch {
		case err != nil:
			r.opts.Logger.Error("processing failed",
				"msg_id", cand.MessageID,
				"subject", cand.Subject,
				"error", err,
			)
			summary.Failed++
		case result == outcomeSkipped:
			summary.Skipped++
		default:
			summary.Processed++
		}
	}
	return summary, nil
}

// process drives one candidate through the pipeline. Nothing is written to
// the mailbox until every link has fetched, so a message either gets all
// its tickets attached or none.
func (r *Runner) process(ctx context.Context, cand mailbox.Candidate) (outcome, error) {
	body, err := r.opts.Mailbox.FetchBody(ctx, cand)
	if err != nil {
		return 0, err
	}

	links := r.opts.Links(body)
	if len(links) == 0 {
		r.opts.Logger.Info("no ticket links, skipping",
			"msg_id", cand.MessageID,
			"subject", cand.Subject,
		)
		if r.opts.RecordSkipped {
			if err := r.record(cand); err != nil {
				return 0, err
			}
		}
		return outcomeSkipped, nil
	}

	var pdfs []ticket.PDF
	for _, link := range links {
		got, err := r.opts.Fetcher.Fetch(ctx, link)
		if err != nil {
			return 0, fmt.Errorf("fetch %s: %w", link, err)
		}
		pdfs = append(pdfs, got...)
	}
	ticket.UniqueNames(pdfs)

	if err := r.opts.Mailbox.AttachReply(ctx, cand, pdfs); err != nil {
		return 0, err
	}

	if err := r.record(cand); err != nil {
		return 0, err
	}

	r.opts.Logger.Info("processed message",
		"msg_id", cand.MessageID,
		"subject", cand.Subject,
		"tickets", len(pdfs),
	)

	r.notify(ctx, cand, pdfs)
	return outcomeProcessed, nil
}

// record makes the outcome durable; after this the message is never
// touched again.
func (r *Runner) record(cand mailbox.Candidate) error {
	err := r.opts.Ledger.Add(ledger.Record{
		MessageID: cand.MessageID,
		Subject:   cand.Subject,
		Date:      cand.Date,
	})
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	if err := r.opts.Ledger.Persist(); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// notify is best-effort: the tickets are already in the mailbox, so a
// notification failure only gets a warning.
func (r *Runner) notify(ctx context.Context, cand mailbox.Candidate, pdfs []ticket.PDF) {
	if r.opts.Notifier == nil {
		return
	}
	for _, pdf := range pdfs {
		if err := r.opts.Notifier.Push(ctx, pdf); err != nil {
			r.opts.Logger.Warn("notification failed",
				"msg_id", cand.MessageID,
				"filename", pdf.Filename,
				"error", err,
			)
		}
	}
}
