// Package image renders the daily illustration through a local Stable
// Diffusion server speaking the A1111 txt2img API.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/config"
)

// Client communicates with the image generation server.
type Client struct {
	cfg        config.ImageConfig
	baseURL    string
	httpClient *http.Client
}

// New creates a client from the image configuration.
func New(cfg config.ImageConfig) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			// Diffusion on modest hardware is slow.
			Timeout: 15 * time.Minute,
		},
	}
}

type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           int     `json:"seed"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// Generate renders prompt into a PNG at outPath. The file appears under
// its final name only after the whole image is on disk.
func (c *Client) Generate(ctx context.Context, prompt, negativePrompt, outPath string) error {
	reqBody := txt2imgRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		Width:          c.cfg.Width,
		Height:         c.cfg.Height,
		Steps:          c.cfg.Steps,
		CFGScale:       c.cfg.GuidanceScale,
		Seed:           c.cfg.Seed,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
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
		return fmt.Errorf("image server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Images) == 0 {
		return fmt.Errorf("image server returned no images")
	}

	png, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		return fmt.Errorf("decoding image data: %w", err)
	}
	if err := artifact.WriteFile(outPath, png); err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// BuildPrompt folds the extracted scene text into the configured prompt
// template ({text} placeholder) and pairs it with the negative prompt.
func (c *Client) BuildPrompt(sceneText string) (prompt, negative string) {
	return strings.ReplaceAll(c.cfg.PromptTemplate, "{text}", sceneText), c.cfg.NegativePrompt
}
