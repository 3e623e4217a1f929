// Package batches loads description batches from JSON files.
//
// Layout under the store root:
//
//	<root>/<item_type>/*.json                  human batches
//	<root>/_llm_generated/<item_type>/*.json   LLM batches
package batches

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"golang.org/x/text/cases"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// LLMGeneratedDir is the subdirectory holding LLM batches.
const LLMGeneratedDir = "_llm_generated"

var _ ports.BatchStore = (*FileStore)(nil)

// FileStore reads batches from a directory tree.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// LoadHumanBatches returns the human batches of itemType in file name order.
func (s *FileStore) LoadHumanBatches(ctx context.Context, itemType string, titleLike []string) ([]domain.HumanBatch, error) {
	paths, err := s.list(filepath.Join(s.root, itemType))
	if err != nil {
		return nil, err
	}

	var out []domain.HumanBatch
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var b domain.HumanBatch
		if err := readJSON(p, &b); err != nil {
			return nil, err
		}
		if b.ItemType == "" {
			b.ItemType = itemType
		}
		if b.Origin == "" {
			b.Origin = domain.OriginHuman
		}
		if b.ItemType != itemType || !titleMatches(b.Title, titleLike) {
			continue
		}
		out = append(out, b)
	}

	clog.FromContext(ctx).With("item_type", itemType, "batches", len(out)).Debug("Loaded human batches")
	return out, nil
}

// LoadLLMBatches returns the LLM batches matching q in file name order.
// Titles match exactly after case folding.
func (s *FileStore) LoadLLMBatches(ctx context.Context, q ports.LLMBatchQuery) ([]domain.LLMBatch, error) {
	dir := filepath.Join(s.root, LLMGeneratedDir)
	if q.ItemType != "" {
		dir = filepath.Join(dir, q.ItemType)
	}
	paths, err := s.list(dir)
	if err != nil {
		return nil, err
	}

	var out []domain.LLMBatch
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var b domain.LLMBatch
		if err := readJSON(p, &b); err != nil {
			return nil, err
		}
		if b.Origin == "" {
			b.Origin = domain.OriginLLM
		}
		if !llmMatches(b, q) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// SaveHumanBatch writes b to <root>/<item_type>/<safe title>.json and
// returns the path.
func (s *FileStore) SaveHumanBatch(b domain.HumanBatch) (string, error) {
	if b.ItemType == "" || b.Title == "" {
		return "", fmt.Errorf("human batch needs item_type and title: %w", domain.ErrEmptyValue)
	}
	if b.Origin == "" {
		b.Origin = domain.OriginHuman
	}
	path := filepath.Join(s.root, b.ItemType, domain.SafeTitle(b.Title)+".json")
	return path, writeJSON(path, b)
}

// SaveLLMBatch writes b to its canonical path and returns it.
func (s *FileStore) SaveLLMBatch(b domain.LLMBatch) (string, error) {
	if b.ItemType == "" || b.Title == "" || b.Engine == "" || b.GenerationPromptKey == "" {
		return "", fmt.Errorf("llm batch needs item_type, title, engine and prompt key: %w", domain.ErrEmptyValue)
	}
	if b.Origin == "" {
		b.Origin = domain.OriginLLM
	}

	name := fmt.Sprintf("%s-%s-%s.json", domain.SafeTitle(b.Title), b.Engine, b.GenerationPromptKey)
	path := filepath.Join(s.root, LLMGeneratedDir, b.ItemType, name)
	return path, writeJSON(path, b)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

// list returns the sorted *.json files in dir. A missing dir is empty.
func (s *FileStore) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// titleMatches reports whether title contains any fragment, ignoring case.
// No fragments matches everything.
func titleMatches(title string, fragments []string) bool {
	if len(fragments) == 0 {
		return true
	}
	t := fold(title)
	for _, f := range fragments {
		if strings.Contains(t, fold(f)) {
			return true
		}
	}
	return false
}

func llmMatches(b domain.LLMBatch, q ports.LLMBatchQuery) bool {
	if q.ItemType != "" && b.ItemType != q.ItemType {
		return false
	}
	if q.Title != "" && fold(b.Title) != fold(q.Title) {
		return false
	}
	if q.Engine != "" && b.Engine != q.Engine {
		return false
	}
	if q.PromptKey != "" && b.GenerationPromptKey != q.PromptKey {
		return false
	}
	return true
}
