package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/config"
)

const readConcurrency = 4

// Client syncs daily summaries and chapters to the remote store.
type Client struct {
	cfg        config.SupabaseConfig
	layout     artifact.Layout
	index      *Index
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a sync client. index may not be nil.
func NewClient(cfg config.SupabaseConfig, layout artifact.Layout, index *Index) *Client {
	return &Client{
		cfg:        cfg,
		layout:     layout,
		index:      index,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
}

type row struct {
	FilePath string   `json:"file_path"`
	Date     string   `json:"date"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
}

// Sync upserts every changed summary and chapter. Calling it with
// nothing new is free apart from local stat/hash work; an unconfigured
// remote makes it a logged no-op.
func (c *Client) Sync(ctx context.Context) error {
	if c.baseURL == "" {
		c.logger.Info("remote sync disabled, no supabase url configured")
		return nil
	}

	candidates, err := c.collect()
	if err != nil {
		return err
	}

	rows, hashes, err := c.changedRows(ctx, candidates)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		c.logger.Debug("remote sync: nothing changed")
		return nil
	}

	if err := c.upsert(ctx, rows); err != nil {
		return err
	}
	for path, hash := range hashes {
		if err := c.index.Record(path, hash); err != nil {
			return err
		}
	}
	c.logger.Info("remote sync complete", "rows", len(rows))
	return nil
}

type candidate struct {
	path string
	tag  string
}

func (c *Client) collect() ([]candidate, error) {
	var out []candidate

	summaryDates, err := c.layout.SummaryDates()
	if err != nil {
		return nil, err
	}
	for _, d := range summaryDates {
		out = append(out, candidate{path: c.layout.SummaryPath(d), tag: "summary"})
	}

	chapterDates, err := c.layout.ChapterDates()
	if err != nil {
		return nil, err
	}
	for _, d := range chapterDates {
		out = append(out, candidate{path: c.layout.ChapterPath(d), tag: "novel"})
	}
	return out, nil
}

// changedRows reads and hashes candidates concurrently, keeping only
// files whose content differs from the last synced hash.
func (c *Client) changedRows(ctx context.Context, candidates []candidate) ([]row, map[string]string, error) {
	var mu sync.Mutex
	var rows []row
	hashes := make(map[string]string)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for _, cand := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(cand.path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", cand.path, err)
			}
			sum := sha256.Sum256(data)
			hash := hex.EncodeToString(sum[:])

			last, err := c.index.LastHash(cand.path)
			if err != nil {
				return err
			}
			if last == hash {
				return nil
			}

			r, err := buildRow(cand, data)
			if err != nil {
				return err
			}
			mu.Lock()
			rows = append(rows, r)
			hashes[cand.path] = hash
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return rows, hashes, nil
}

func buildRow(cand candidate, data []byte) (row, error) {
	key := artifact.DateOf(cand.path)
	if key == "" {
		return row{}, fmt.Errorf("no date key in %s", cand.path)
	}
	day, err := time.Parse("20060102", key)
	if err != nil {
		return row{}, fmt.Errorf("bad date key in %s: %w", cand.path, err)
	}
	return row{
		FilePath: cand.path,
		Date:     day.Format("2006-01-02"),
		Title:    artifact.Stem(cand.path),
		Content:  string(data),
		Tags:     []string{cand.tag},
	}, nil
}

func (c *Client) upsert(ctx context.Context, rows []row) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshaling rows: %w", err)
	}

	url := fmt.Sprintf("%s/rest/v1/%s?on_conflict=file_path", c.baseURL, c.cfg.Table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceRoleKey)
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upserting rows: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("remote store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
