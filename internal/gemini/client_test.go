package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func candidateJSON(text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	})
	return b
}

func newTestClient(url string) *Client {
	return NewWithBaseURL("test-key", "flash", "flash-novel", 8192, url)
}

func TestSummarize(t *testing.T) {
	var gotModel string
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotModel = strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":generateContent")
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotPrompt = req.Contents[0].Parts[0].Text
		w.Write(candidateJSON("  a quiet day, mostly chatting  "))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Summarize(context.Background(), "hello world", "2025-01-01", "10:00", "11:30")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "a quiet day, mostly chatting" {
		t.Errorf("summary = %q, want trimmed text", got)
	}
	if gotModel != "flash" {
		t.Errorf("model = %q, want flash", gotModel)
	}
	for _, want := range []string{"2025-01-01", "10:00", "11:30", "hello world"} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateChapterUsesNovelModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotModel = strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":generateContent")
		w.Write(candidateJSON("## Chapter 1"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.GenerateChapter(context.Background(), "summary", ""); err != nil {
		t.Fatalf("GenerateChapter: %v", err)
	}
	if gotModel != "flash-novel" {
		t.Errorf("model = %q, want flash-novel", gotModel)
	}
}

func TestImagePromptTruncatesChapter(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotPrompt = req.Contents[0].Parts[0].Text
		w.Write(candidateJSON("girl, rooftop, sunset"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	long := strings.Repeat("scene ", 1000) // 6000 chars
	got, err := c.ImagePrompt(context.Background(), long)
	if err != nil {
		t.Fatalf("ImagePrompt: %v", err)
	}
	if got != "girl, rooftop, sunset" {
		t.Errorf("prompt = %q", got)
	}
	if len(gotPrompt) > len(imagePromptTemplate)+promptSourceLimit+100 {
		t.Errorf("chapter text not truncated, prompt length %d", len(gotPrompt))
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "quota", http.StatusTooManyRequests)
			return
		}
		w.Write(candidateJSON("ok"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Summarize(context.Background(), "t", "d", "s", "e")
	if err != nil {
		t.Fatalf("Summarize after retries: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestNonRetryableErrorFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Summarize(context.Background(), "t", "d", "s", "e"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("made %d calls, want 1 (no retry on 403)", calls)
	}
}

func TestMissingAPIKey(t *testing.T) {
	c := NewWithBaseURL("", "m", "m", 0, "http://127.0.0.1:0")
	if _, err := c.Summarize(context.Background(), "t", "d", "s", "e"); err == nil {
		t.Error("expected error without api key")
	}
}
