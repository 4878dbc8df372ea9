// Package whisper talks to the local transcription sidecar over HTTP.
// The sidecar owns the speech-to-text and diarization models; this
// client only carries paths in and timed segments out, plus the explicit
// unload call that releases the sidecar's in-memory model between
// batches.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Segment is one transcribed span with its timestamps in seconds.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Turn is one diarized speaker interval.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Client communicates with the transcription sidecar.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the sidecar's base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Transcribing a 30 minute segment on CPU can take a while.
			Timeout: 30 * time.Minute,
		},
	}
}

// IsRunning reports whether the sidecar responds to GET /health.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type transcribeRequest struct {
	AudioPath string `json:"audio_path"`
}

type transcribeResponse struct {
	Segments []Segment `json:"segments"`
}

// Transcribe returns the timed transcript segments for one audio file.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	var out transcribeResponse
	if err := c.post(ctx, "/transcribe", transcribeRequest{AudioPath: audioPath}, &out); err != nil {
		return nil, fmt.Errorf("transcribing %s: %w", audioPath, err)
	}
	return out.Segments, nil
}

type diarizeResponse struct {
	Turns []Turn `json:"turns"`
}

// Diarize returns speaker turns for one audio file. A sidecar without a
// diarization model returns an empty list, not an error.
func (c *Client) Diarize(ctx context.Context, audioPath string) ([]Turn, error) {
	var out diarizeResponse
	if err := c.post(ctx, "/diarize", transcribeRequest{AudioPath: audioPath}, &out); err != nil {
		return nil, fmt.Errorf("diarizing %s: %w", audioPath, err)
	}
	return out.Turns, nil
}

// Unload asks the sidecar to release its in-memory model. Called after a
// batch of transcriptions so later pipeline stages don't compete with the
// model for memory.
func (c *Client) Unload(ctx context.Context) error {
	if err := c.post(ctx, "/unload", struct{}{}, nil); err != nil {
		return fmt.Errorf("unloading model: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sidecar returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
