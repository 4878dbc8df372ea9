// Package gemini is the cloud text-generation client behind the summary,
// narrative chapter, and image-prompt stages.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultTimeout = 120 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond

	// Chapter text is truncated to this many runes before prompt
	// extraction; the visual prompt only needs the opening scene.
	promptSourceLimit = 2000
)

// Client communicates with the Gemini generateContent API.
type Client struct {
	apiKey          string
	model           string
	novelModel      string
	maxOutputTokens int
	baseURL         string
	httpClient      *http.Client
}

// New creates a client. model serves summaries and image prompts,
// novelModel serves chapter generation.
func New(apiKey, model, novelModel string, maxOutputTokens int) *Client {
	return &Client{
		apiKey:          apiKey,
		model:           model,
		novelModel:      novelModel,
		maxOutputTokens: maxOutputTokens,
		baseURL:         defaultBaseURL,
		httpClient:      &http.Client{Timeout: defaultTimeout},
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewWithBaseURL(apiKey, model, novelModel string, maxOutputTokens int, baseURL string) *Client {
	c := New(apiKey, model, novelModel, maxOutputTokens)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

const summaryPrompt = `You are writing a diary entry from a day's conversation transcript.
Date: %s, session %s to %s.
Summarize what happened, who was talked to, and what mattered, in first
person, as a compact diary entry.

Transcript:
%s`

// Summarize produces the daily summary for a transcript. date is the
// YYYY-MM-DD day, start and end are HH:MM session bounds.
func (c *Client) Summarize(ctx context.Context, transcript, date, start, end string) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, date, start, end, strings.TrimSpace(transcript))
	return c.generate(ctx, c.model, prompt, 0.7)
}

const chapterPrompt = `Continue the following serialized novel with one new chapter based on
today's diary entry. Match the established tone. Output only the chapter
text, starting with a markdown heading.

Novel so far:
%s

Today's diary entry:
%s`

const chapterPromptFresh = `Write the opening chapter of a serialized novel based on this diary
entry. Output only the chapter text, starting with a markdown heading.

Diary entry:
%s`

// GenerateChapter produces the next narrative chapter from a daily
// summary, given the novel written so far (may be empty).
func (c *Client) GenerateChapter(ctx context.Context, summary, novelSoFar string) (string, error) {
	var prompt string
	if strings.TrimSpace(novelSoFar) == "" {
		prompt = fmt.Sprintf(chapterPromptFresh, summary)
	} else {
		prompt = fmt.Sprintf(chapterPrompt, novelSoFar, summary)
	}
	return c.generate(ctx, c.novelModel, prompt, 0.7)
}

const imagePromptTemplate = `Analyze the following novel chapter text and generate a concise, English
prompt optimized for Stable Diffusion XL (Anime Style).
Focus on the main character's appearance, the setting, the lighting, and the mood.
Keep it under 40 words.
Do not include negative prompts or quality tags (like 'best quality').

Novel Text:
%s

Output format: Just the comma-separated keywords.`

// ImagePrompt derives a visual prompt from chapter text, using only a
// bounded prefix of the chapter.
func (c *Client) ImagePrompt(ctx context.Context, chapterText string) (string, error) {
	runes := []rune(chapterText)
	if len(runes) > promptSourceLimit {
		runes = runes[:promptSourceLimit]
	}
	return c.generate(ctx, c.model, fmt.Sprintf(imagePromptTemplate, string(runes)), 0.4)
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("gemini api key not configured")
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			MaxOutputTokens: c.maxOutputTokens,
			Temperature:     temperature,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		text, err := c.doGenerate(ctx, model, body)
		if err == nil {
			return text, nil
		}
		if !isRateLimit(err) {
			return "", err
		}
		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", fmt.Errorf("rate limited after %d attempts: %w", maxRetries, lastErr)
}

type rateLimitError struct{ body string }

func (e *rateLimitError) Error() string { return "rate limited: " + e.body }

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *Client) doGenerate(ctx context.Context, model string, body []byte) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &rateLimitError{body: strings.TrimSpace(string(data))}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gemini returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text), nil
}
