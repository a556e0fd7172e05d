package domain

import (
	"hash/fnv"
	"strconv"
	"time"
)

// PostID is an opaque, stable identifier for a post. It comes from the
// feed's own entry id when one is present, otherwise from FallbackID.
type PostID string

// Post is one entry within a feed. Two posts are the same post iff their
// IDs are equal; Published orders them but does not identify them. The Read
// flag is mutated only through Collection.
type Post struct {
	ID        PostID
	Title     string
	URLs      []string
	Published time.Time
	Read      bool
}

// FallbackID derives a deterministic id for an entry that carries no native
// guid. The same published time and title always hash to the same id, so
// re-fetching a feed does not mint fresh ids for items we already know.
// Nanosecond precision keeps undated same-titled items in one batch apart,
// since each of them falls back to its own time.Now.
func FallbackID(published time.Time, title string) PostID {
	h := fnv.New64a()
	h.Write([]byte(published.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(" "))
	h.Write([]byte(title))

	return PostID(strconv.FormatUint(h.Sum64(), 10))
}
