package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPDiarizer calls a diarization endpoint that accepts a multipart audio
// upload and returns speaker turns. Gated models (e.g. pyannote weights
// behind an access agreement) are unlocked with a bearer credential.
type HTTPDiarizer struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPDiarizer creates a diarization client. token may be empty for
// ungated endpoints.
func NewHTTPDiarizer(url, token string, timeout time.Duration) *HTTPDiarizer {
	return &HTTPDiarizer{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Diarize runs a full diarization pass over the audio file and returns the
// speaker turns in temporal order.
func (d *HTTPDiarizer) Diarize(ctx context.Context, audioPath string) ([]SpeakerTurn, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diarizer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("diarizer returned %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Turns []SpeakerTurn `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode diarizer response: %w", err)
	}
	return out.Turns, nil
}
