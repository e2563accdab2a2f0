// Package cache implements the disk-backed result cache. Each entry lives in
// its own JSON file named after a stable hash of (url, analyzer id, version),
// so entries written by one process are reused by the next within their TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
)

const (
	defaultTTL    = 24 * time.Hour
	entrySuffix   = ".json"
	tempPattern   = ".entry-*.tmp"
	dirPermission = 0o750
)

// Key identifies one cached analyzer result.
type Key struct {
	URL        string `json:"url"`
	AnalyzerID string `json:"analyzer_id"`
	Version    string `json:"version"`
}

// Entry is a cached value plus its bookkeeping.
type Entry struct {
	Key      Key
	Value    json.RawMessage
	StoredAt time.Time
	TTL      time.Duration
}

// record is the on-disk layout of one entry.
type record struct {
	Key       Key             `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	TTLMillis int64           `json:"ttl_ms"`
	Value     json.RawMessage `json:"value"`
}

// KeyHasher derives file names from key parts.
type KeyHasher interface {
	HashParts(parts ...string) (string, error)
}

// Config controls the disk cache.
type Config struct {
	Dir string
	TTL time.Duration
}

// DiskCache stores entries as files under a directory. Reads take the shared
// lock; writes, invalidation and purges take the exclusive lock.
type DiskCache struct {
	dir    string
	ttl    time.Duration
	hasher KeyHasher
	clock  evaluation.Clock
	logger *zap.Logger

	mu sync.RWMutex
}

// New creates the cache directory if needed and returns a DiskCache.
func New(cfg Config, hasher KeyHasher, clock evaluation.Clock, logger *zap.Logger) (*DiskCache, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("cache hasher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("cache clock is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.Dir, dirPermission); mkErr != nil {
			return nil, fmt.Errorf("create cache directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat cache directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("cache path %q is not a directory", cfg.Dir)
	}
	return &DiskCache{
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		hasher: hasher,
		clock:  clock,
		logger: logger.Named("cache"),
	}, nil
}

// Get returns the entry for key when it exists, is within its TTL and carries
// the requested version. Misses never return an error; corrupt files are
// deleted and reported as misses.
func (c *DiskCache) Get(_ context.Context, key Key) (Entry, bool) {
	path, err := c.pathFor(key)
	if err != nil {
		c.logger.Warn("cache key hash failed", zap.String("url", key.URL), zap.Error(err))
		metrics.ObserveCache("get", "error")
		return Entry{}, false
	}

	c.mu.RLock()
	data, err := os.ReadFile(path)
	c.mu.RUnlock()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache read failed", zap.String("path", path), zap.Error(err))
			metrics.ObserveCache("get", "error")
			return Entry{}, false
		}
		metrics.ObserveCache("get", "miss")
		return Entry{}, false
	}

	rec, err := decodeRecord(data)
	if err != nil {
		c.logger.Warn("discarding corrupt cache entry", zap.String("path", path), zap.Error(err))
		c.remove(path)
		metrics.ObserveCache("get", "corrupt")
		return Entry{}, false
	}
	if rec.Key != key {
		metrics.ObserveCache("get", "miss")
		return Entry{}, false
	}
	entry := rec.entry()
	if c.expired(entry) {
		metrics.ObserveCache("get", "expired")
		return Entry{}, false
	}
	metrics.ObserveCache("get", "hit")
	return entry, true
}

// Set marshals value and replaces any existing entry for key. Failures are
// logged and swallowed.
func (c *DiskCache) Set(_ context.Context, key Key, value any) {
	if err := c.write(key, value); err != nil {
		c.logger.Warn("cache write failed",
			zap.String("url", key.URL),
			zap.String("analyzer", key.AnalyzerID),
			zap.Error(err),
		)
		metrics.ObserveCache("set", "error")
		return
	}
	metrics.ObserveCache("set", "ok")
}

func (c *DiskCache) write(key Key, value any) error {
	path, err := c.pathFor(key)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	data, err := json.Marshal(record{
		Key:       key,
		Timestamp: c.clock.Now(),
		TTLMillis: c.ttl.Milliseconds(),
		Value:     payload,
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tmp, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename entry: %w", err)
	}
	return nil
}

// Invalidate deletes every entry whose key satisfies pred and returns how many
// were removed. Corrupt entries are removed as well.
func (c *DiskCache) Invalidate(_ context.Context, pred func(Key) bool) int {
	if pred == nil {
		return 0
	}
	return c.sweep(func(rec record, corrupt bool) bool {
		return corrupt || pred(rec.Key)
	})
}

// Purge deletes expired and corrupt entries and returns how many were removed.
func (c *DiskCache) Purge(_ context.Context) int {
	return c.sweep(func(rec record, corrupt bool) bool {
		return corrupt || c.expired(rec.entry())
	})
}

func (c *DiskCache) sweep(shouldDelete func(rec record, corrupt bool) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("cache directory scan failed", zap.Error(err))
		return 0
	}
	removed := 0
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), entrySuffix) {
			continue
		}
		path := filepath.Join(c.dir, dirEntry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("cache read failed", zap.String("path", path), zap.Error(err))
			continue
		}
		rec, decodeErr := decodeRecord(data)
		if !shouldDelete(rec, decodeErr != nil) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache delete failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func (c *DiskCache) remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("cache delete failed", zap.String("path", path), zap.Error(err))
	}
}

func (c *DiskCache) expired(entry Entry) bool {
	return c.clock.Now().Sub(entry.StoredAt) > entry.TTL
}

func (c *DiskCache) pathFor(key Key) (string, error) {
	name, err := c.hasher.HashParts(key.URL, key.AnalyzerID, key.Version)
	if err != nil {
		return "", fmt.Errorf("hash cache key: %w", err)
	}
	return filepath.Join(c.dir, name+entrySuffix), nil
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode cache record: %w", err)
	}
	if rec.Timestamp.IsZero() || len(rec.Value) == 0 {
		return record{}, fmt.Errorf("cache record is incomplete")
	}
	return rec, nil
}

func (r record) entry() Entry {
	return Entry{
		Key:      r.Key,
		Value:    r.Value,
		StoredAt: r.Timestamp,
		TTL:      time.Duration(r.TTLMillis) * time.Millisecond,
	}
}
