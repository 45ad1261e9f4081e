package facerec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
)

const cacheVersion = 1

// cacheRecord is the on-disk encoding cache format: one versioned record
// per fingerprint. The explicit schema (instead of an opaque blob) makes
// drift detectable: any decode problem or fingerprint mismatch is a miss,
// never a crash.
type cacheRecord struct {
	Version     int        `json:"version"`
	Fingerprint string     `json:"fingerprint"`
	Provider    string     `json:"provider"`
	CreatedAt   time.Time  `json:"created_at"`
	Encodings   []Encoding `json:"encodings"`
}

// Cache persists reference encodings between runs so the expensive
// reference build can be skipped when neither the photos nor the matching
// parameters changed.
type Cache struct {
	path string
	log  logr.Logger
}

// NewCache creates a cache backed by the given file. An empty path
// disables caching.
func NewCache(path string, log logr.Logger) *Cache {
	return &Cache{path: path, log: log}
}

// Enabled reports whether a cache file is configured.
func (c *Cache) Enabled() bool {
	return c.path != ""
}

// Load returns the cached reference set when the stored fingerprint
// exactly equals the given one. Missing, corrupt or mismatched files are
// treated as a miss.
func (c *Cache) Load(fingerprint string) (*ReferenceSet, bool) {
	if !c.Enabled() {
		return nil, false
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}

	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.log.Info("encoding cache unreadable, rebuilding", "path", c.path, "error", err.Error())
		return nil, false
	}

	if rec.Version != cacheVersion {
		c.log.Info("encoding cache version mismatch, rebuilding", "found", rec.Version, "want", cacheVersion)
		return nil, false
	}
	if rec.Fingerprint != fingerprint {
		c.log.Info("encoding cache fingerprint mismatch, rebuilding")
		return nil, false
	}
	if len(rec.Encodings) == 0 {
		return nil, false
	}

	c.log.Info("loaded reference encodings from cache",
		"count", len(rec.Encodings), "created_at", rec.CreatedAt.Format(time.RFC3339))

	return &ReferenceSet{
		Provider:    rec.Provider,
		Fingerprint: rec.Fingerprint,
		Encodings:   rec.Encodings,
	}, true
}

// Save writes the reference set under its fingerprint. The record is
// written to a temp file and renamed so concurrent readers never observe a
// partial entry.
func (c *Cache) Save(set *ReferenceSet) error {
	if !c.Enabled() {
		return nil
	}
	if set == nil || len(set.Encodings) == 0 {
		return errors.New("refusing to cache an empty reference set")
	}

	rec := cacheRecord{
		Version:     cacheVersion,
		Fingerprint: set.Fingerprint,
		Provider:    set.Provider,
		CreatedAt:   time.Now().UTC(),
		Encodings:   set.Encodings,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("could not marshal cache record: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("could not write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not close cache file: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not replace cache file: %w", err)
	}

	c.log.Info("saved reference encodings to cache", "count", len(set.Encodings), "path", c.path)
	return nil
}

// Clear deletes the cache file. A missing file is not an error.
func (c *Cache) Clear() error {
	if !c.Enabled() {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete cache file: %w", err)
	}
	return nil
}

// Info returns the record header of the current cache file, for the CLI.
func (c *Cache) Info() (fingerprint, provider string, createdAt time.Time, count int, err error) {
	if !c.Enabled() {
		return "", "", time.Time{}, 0, errors.New("caching disabled (no cache file configured)")
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", "", time.Time{}, 0, err
	}
	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", "", time.Time{}, 0, fmt.Errorf("cache file unreadable: %w", err)
	}
	return rec.Fingerprint, rec.Provider, rec.CreatedAt, len(rec.Encodings), nil
}
