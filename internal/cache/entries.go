package cache

import (
	"time"

	"github.com/gallerist/gallerist/internal/github"
)

// entryVersion should be incremented when the entry format changes to
// invalidate old files.
const entryVersion = 1

// defaultTTL keeps counts fresh enough that a viewer reloading a page
// within a minute reuses the snapshot instead of refetching.
const defaultTTL = time.Minute

// entry is one discussion's reaction snapshot on disk.
type entry struct {
	Reactions github.DiscussionReactions `json:"reactions"`
	CachedAt  time.Time                  `json:"cachedAt"`
	Version   int                        `json:"version"`
}
