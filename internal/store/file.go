// Package store provides the Storage plugins (JSON file output as
// the default, MongoDB as an alternate) plus the checkpoint-based
// MetadataStore the engine uses for pause/resume durability.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// JSONStorage is the default Storage plugin: it buffers every
// CrawlResult and writes the whole set as a JSON array to OutputPath
// on SaveStatistics. Save only buffers; the file is rewritten on each
// periodic statistics write and once more by Shutdown, which calls
// SaveStatistics.
type JSONStorage struct {
	logger     *slog.Logger
	outputPath string

	mu      sync.Mutex
	results []resultRecord
}

type resultRecord struct {
	URL         string         `json:"url"`
	StatusCode  int            `json:"status_code"`
	Title       string         `json:"title,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Images      []string       `json:"images,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	ProcessedAt string         `json:"processed_at"`
}

// NewJSONStorage builds a JSONStorage writing to outputPath.
func NewJSONStorage(outputPath string, logger *slog.Logger) *JSONStorage {
	return &JSONStorage{
		logger:     logger.With("component", "json_storage"),
		outputPath: outputPath,
	}
}

func (s *JSONStorage) Name() string  { return "json" }
func (s *JSONStorage) Priority() int { return 0 }

func (s *JSONStorage) Initialize(ctx context.Context) error {
	dir := filepath.Dir(s.outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return nil
}

func (s *JSONStorage) Save(ctx context.Context, result *crawltypes.CrawlResult) error {
	rec := resultRecord{
		URL:         result.Request.URL.String(),
		ProcessedAt: result.ProcessedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if result.Download != nil {
		rec.StatusCode = result.Download.StatusCode
	}
	if result.Parse != nil {
		rec.Title = result.Parse.Title
		rec.Links = result.Parse.Links
		rec.Images = result.Parse.Images
		rec.Data = result.Parse.ExtractedData
	}

	s.mu.Lock()
	s.results = append(s.results, rec)
	s.mu.Unlock()
	return nil
}

// SaveStatistics flushes the buffered results to disk via an atomic
// temp-file-then-rename, so a crash mid-write never truncates a
// previously complete results file.
func (s *JSONStorage) SaveStatistics(ctx context.Context, stats map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.outputPath)
	tmp, err := os.CreateTemp(dir, "results-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp results file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.results); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp results file: %w", err)
	}
	if err := os.Rename(tmpPath, s.outputPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename results file: %w", err)
	}

	s.logger.Info("results written", "path", s.outputPath, "items", len(s.results))
	return nil
}

func (s *JSONStorage) Shutdown() error {
	return s.SaveStatistics(context.Background(), nil)
}

// CheckpointMetadataStore implements plugin.MetadataStore with
// atomic JSON checkpoint files: one file per job plus one file per
// URL, so GetURLState/GetCrawlState can be served by JobID/URL
// independently instead of only ever restoring everything at once.
type CheckpointMetadataStore struct {
	logger *slog.Logger
	dir    string
	mu     sync.Mutex
}

// NewCheckpointMetadataStore builds a MetadataStore rooted at dir,
// creating it if necessary.
func NewCheckpointMetadataStore(dir string, logger *slog.Logger) (*CheckpointMetadataStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointMetadataStore{
		logger: logger.With("component", "checkpoint_store"),
		dir:    dir,
	}, nil
}

func (c *CheckpointMetadataStore) jobPath(jobID string) string {
	return filepath.Join(c.dir, "job-"+sanitizeKey(jobID)+".json")
}

func (c *CheckpointMetadataStore) urlPath(url string) string {
	return filepath.Join(c.dir, "url-"+sanitizeKey(url)+".json")
}

func (c *CheckpointMetadataStore) SaveCrawlState(ctx context.Context, state *crawltypes.CrawlState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeAtomicJSON(c.jobPath(state.JobID), state)
}

func (c *CheckpointMetadataStore) GetCrawlState(ctx context.Context, jobID string) (*crawltypes.CrawlState, error) {
	var state crawltypes.CrawlState
	if err := readJSON(c.jobPath(jobID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *CheckpointMetadataStore) SaveURLState(ctx context.Context, state *crawltypes.UrlState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeAtomicJSON(c.urlPath(state.URL), state)
}

func (c *CheckpointMetadataStore) GetURLState(ctx context.Context, url string) (*crawltypes.UrlState, error) {
	var state crawltypes.UrlState
	if err := readJSON(c.urlPath(url), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func writeAtomicJSON(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

// sanitizeKey turns an arbitrary job ID or URL into a filesystem-safe
// fragment without needing a hashing dependency for what is, in
// practice, a handful of checkpoint files per run.
func sanitizeKey(key string) string {
	b := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b = append(b, r)
		default:
			b = append(b, '_')
		}
	}
	if len(b) > 120 {
		b = b[:120]
	}
	if len(b) == 0 {
		return "root"
	}
	return string(b)
}
