// Package cache is a small disk cache for expensive upstream fetches
// (market data panels, ticker universes). Entries are JSON files keyed by
// (name, key); callers encode the as-of date into the key so a new trading
// day naturally misses. A refresh run clears the name bucket first.
package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

type Cache struct {
	dir string
}

func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Key builds a filesystem-safe cache key from its parts.
func Key(parts ...string) string {
	h := fnv.New64a()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func (c *Cache) path(name, key string) string {
	return filepath.Join(c.dir, name, key+".json")
}

// Get loads the entry into out and reports whether it was present and
// decodable. A corrupt entry is treated as a miss.
func (c *Cache) Get(name, key string, out any) bool {
	data, err := os.ReadFile(c.path(name, key))
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// Put writes the entry, creating the bucket directory if needed.
func (c *Cache) Put(name, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(c.dir, name), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	return os.WriteFile(c.path(name, key), data, 0o644)
}

// Clear drops every entry under name.
func (c *Cache) Clear(name string) error {
	return os.RemoveAll(filepath.Join(c.dir, name))
}
