// Package cache provides short-lived caching of reaction counts so page
// loads don't hammer the Discussions API for data that just got fetched.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/log"
)

// Cacher is the cache surface the reaction client uses. The interface
// enables substituting an in-memory fake in unit tests.
type Cacher interface {
	Get(key Key) (*github.DiscussionReactions, bool)
	Set(key Key, reactions *github.DiscussionReactions) error
	Invalidate(key Key) error
	Clear() error
}

var _ Cacher = (*Cache)(nil)

// Cache stores reaction snapshots on disk, one file per discussion.
type Cache struct {
	dir string
	ttl time.Duration
}

// New creates a cache rooted under the user cache directory.
func New() (*Cache, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	return NewAt(filepath.Join(cacheDir, "gallerist", "reactions"))
}

// NewAt creates a cache rooted at an explicit directory.
func NewAt(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{dir: dir, ttl: defaultTTL}, nil
}

// WithTTL overrides the entry lifetime. Counts go stale fast; anything
// beyond a couple of minutes shows visibly wrong numbers.
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	c.ttl = ttl
	return c
}

// Key identifies one discussion's reaction snapshot.
type Key struct {
	RepoFullName   string
	DiscussionTerm string
}

// path generates a file name for a cache key. Slashes and spaces are
// replaced to keep one flat directory.
func (c *Cache) path(key Key) string {
	safe := func(s string) string {
		s = strings.ReplaceAll(s, "/", "_")
		return strings.ReplaceAll(s, " ", "-")
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.json", safe(key.RepoFullName), safe(key.DiscussionTerm)))
}

// Get retrieves a cached snapshot if present, current, and unexpired.
func (c *Cache) Get(key Key) (*github.DiscussionReactions, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false
	}
	if e.Version != entryVersion {
		log.Debug("cache version mismatch", "cached", e.Version, "current", entryVersion)
		return nil, false
	}
	if time.Since(e.CachedAt) > c.ttl {
		return nil, false
	}

	return &e.Reactions, true
}

// Set stores a snapshot.
func (c *Cache) Set(key Key, reactions *github.DiscussionReactions) error {
	if reactions == nil {
		return nil
	}

	data, err := json.Marshal(entry{
		Reactions: *reactions,
		CachedAt:  time.Now(),
		Version:   entryVersion,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(key), data, 0600)
}

// Invalidate drops one snapshot. Called after a toggle succeeds so the
// next read reflects the server's truth rather than a pre-toggle count.
func (c *Cache) Invalidate(key Key) error {
	err := os.Remove(c.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clear removes all cached snapshots.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
