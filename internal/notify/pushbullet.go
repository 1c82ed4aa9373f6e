// Package notify pushes downloaded tickets to Pushbullet. Notification is
// strictly additive: by the time it runs the tickets are already in the
// mailbox, so callers treat any Error here as non-fatal.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cmenon12/download-trainline-tickets/internal/ticket"
)

// Error wraps a failure in one of the push stages.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pushbullet %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pushbullet pushes files via the Pushbullet v2 API: request an upload
// slot, upload the bytes, then create the push.
type Pushbullet struct {
	token  string
	apiURL string
	client *http.Client
	logger *slog.Logger
}

// NewPushbullet creates a notifier. apiURL is the API base, normally
// https://api.pushbullet.com.
func NewPushbullet(token, apiURL string, logger *slog.Logger) *Pushbullet {
	return &Pushbullet{
		token:  token,
		apiURL: apiURL,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

type uploadRequest struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

type uploadSlot struct {
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	FileURL   string `json:"file_url"`
	UploadURL string `json:"upload_url"`
}

type filePush struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileURL  string `json:"file_url"`
}

// Push sends one ticket PDF to all of the account's devices.
func (p *Pushbullet) Push(ctx context.Context, pdf ticket.PDF) error {
	slot, err := p.requestUpload(ctx, pdf.Filename)
	if err != nil {
		return &Error{Stage: "upload-request", Err: err}
	}
	if err := p.upload(ctx, slot, pdf.Data); err != nil {
		return &Error{Stage: "upload", Err: err}
	}
	if err := p.createPush(ctx, slot); err != nil {
		return &Error{Stage: "push", Err: err}
	}
	p.logger.Info("pushed ticket", "filename", pdf.Filename)
	return nil
}

func (p *Pushbullet) requestUpload(ctx context.Context, filename string) (*uploadSlot, error) {
	body, err := json.Marshal(uploadRequest{FileName: filename, FileType: "application/pdf"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v2/upload-request", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Access-Token", p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var slot uploadSlot
	if err := json.NewDecoder(resp.Body).Decode(&slot); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if slot.UploadURL == "" || slot.FileURL == "" {
		return nil, fmt.Errorf("response missing upload_url")
	}
	return &slot, nil
}

func (p *Pushbullet) upload(ctx context.Context, slot *uploadSlot, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", slot.FileName)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slot.UploadURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (p *Pushbullet) createPush(ctx context.Context, slot *uploadSlot) error {
	body, err := json.Marshal(filePush{
		Type:     "file",
		Title:    "Train ticket",
		Body:     slot.FileName,
		FileName: slot.FileName,
		FileType: slot.FileType,
		FileURL:  slot.FileURL,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v2/pushes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Access-Token", p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
