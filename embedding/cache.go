package embedding

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Cache maps normalized text to its embedding vector. Vectors are expensive
// to repopulate, so the cache persists independently of the learning store;
// corruption of one file degrades only its own subsystem.
type Cache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	model   string
	path    string

	flushEvery int
	dirty      int

	// flushMu serializes snapshot writes so a slow flush cannot rename an
	// older snapshot over a newer one.
	flushMu sync.Mutex
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// Path is the JSON snapshot location. Empty means in-memory only.
	Path string

	// Model identifies the embedding model. A loaded snapshot produced by a
	// different model is discarded wholesale: vectors from two models must
	// never end up in one comparison set.
	Model string

	// FlushEvery persists after this many new vectors (default: 20).
	FlushEvery int
}

// cacheDocument is the on-disk layout.
type cacheDocument struct {
	Model   string               `json:"model"`
	Vectors map[string][]float32 `json:"vectors"`
}

// NewCache opens (or creates) an embedding cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 20
	}

	c := &Cache{
		vectors:    make(map[string][]float32),
		model:      cfg.Model,
		path:       cfg.Path,
		flushEvery: cfg.FlushEvery,
	}

	if cfg.Path == "" {
		return c
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("embedding: cache unreadable, starting empty", "path", cfg.Path, "error", err)
		}
		return c
	}

	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("embedding: cache corrupt, starting empty", "path", cfg.Path, "error", err)
		return c
	}
	if doc.Model != cfg.Model {
		slog.Info("embedding: cache model changed, discarding",
			"path", cfg.Path, "cached_model", doc.Model, "model", cfg.Model)
		return c
	}
	if doc.Vectors != nil {
		c.vectors = doc.Vectors
	}
	slog.Info("embedding: cache loaded", "path", cfg.Path, "vectors", len(c.vectors))
	return c
}

// Get returns the cached vector for text.
func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.vectors[text]
	return vec, ok
}

// Put stores a vector, flushing on the debounce schedule.
func (c *Cache) Put(text string, vec []float32) {
	c.mu.Lock()
	c.vectors[text] = vec
	c.dirty++
	flush := c.dirty >= c.flushEvery
	c.mu.Unlock()

	if flush {
		c.Flush()
	}
}

// Size returns the number of cached vectors.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Flush rewrites the snapshot atomically. Failures are logged; in-memory
// state stays authoritative.
func (c *Cache) Flush() {
	if c.path == "" {
		return
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	doc := cacheDocument{Model: c.model, Vectors: make(map[string][]float32, len(c.vectors))}
	for text, vec := range c.vectors {
		doc.Vectors[text] = vec
	}
	c.dirty = 0
	c.mu.Unlock()

	if err := writeCacheFile(c.path, &doc); err != nil {
		slog.Warn("embedding: cache write failed", "path", c.path, "error", err)
	}
}

func writeCacheFile(path string, doc *cacheDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode embedding cache")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create cache directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write cache temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "rename cache into place")
	}
	return nil
}
