package domain

import (
	"iter"
	"sort"
)

// Collection holds the posts of a single feed, newest first. It owns the
// invariants the rest of the system leans on: the slice stays sorted by
// Published descending, no two posts share an ID, and the unread counter
// always equals the number of contained posts with Read == false.
//
// A Collection is not safe for concurrent use. Each one belongs to exactly
// one feed and is only ever touched from the coordinating goroutine.
type Collection struct {
	posts  []Post
	ids    map[PostID]struct{}
	unread int
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{ids: make(map[PostID]struct{})}
}

// Insert places p at its sorted position. Posts with the same timestamp
// keep arrival order: the new one goes after the ones already present.
// A post whose ID is already in the collection is skipped (first write
// wins), so Insert reports whether p was actually added.
func (c *Collection) Insert(p Post) bool {
	if _, ok := c.ids[p.ID]; ok {
		return false
	}

	idx := sort.Search(len(c.posts), func(i int) bool {
		return c.posts[i].Published.Before(p.Published)
	})

	c.posts = append(c.posts, Post{})
	copy(c.posts[idx+1:], c.posts[idx:])
	c.posts[idx] = p

	c.ids[p.ID] = struct{}{}
	if !p.Read {
		c.unread++
	}

	return true
}

// Contains reports whether a post with the same ID is already present.
func (c *Collection) Contains(p Post) bool {
	_, ok := c.ids[p.ID]
	return ok
}

// ContainsID reports whether a post with the given ID is present.
func (c *Collection) ContainsID(id PostID) bool {
	_, ok := c.ids[id]
	return ok
}

// MarkRead sets the read flag of the identified post. Unknown ids and
// posts already in the requested state are no-ops. Reports whether the
// flag actually changed.
func (c *Collection) MarkRead(id PostID, read bool) bool {
	for i := range c.posts {
		if c.posts[i].ID != id {
			continue
		}
		if c.posts[i].Read == read {
			return false
		}

		c.posts[i].Read = read
		if read {
			c.unread--
		} else {
			c.unread++
		}

		return true
	}

	return false
}

// ToggleRead flips the read flag of the identified post. Reports whether
// the post was found.
func (c *Collection) ToggleRead(id PostID) bool {
	for i := range c.posts {
		if c.posts[i].ID != id {
			continue
		}

		c.posts[i].Read = !c.posts[i].Read
		if c.posts[i].Read {
			c.unread--
		} else {
			c.unread++
		}

		return true
	}

	return false
}

// Retain removes every post for which keep returns false.
func (c *Collection) Retain(keep func(Post) bool) {
	kept := c.posts[:0]
	for _, p := range c.posts {
		if keep(p) {
			kept = append(kept, p)
			continue
		}

		delete(c.ids, p.ID)
		if !p.Read {
			c.unread--
		}
	}
	c.posts = kept
}

// Append merges every post of other into c by repeated Insert, so the
// first-write-wins policy and the sort order both hold afterwards.
func (c *Collection) Append(other *Collection) {
	for _, p := range other.posts {
		c.Insert(p)
	}
}

// Len returns the number of posts.
func (c *Collection) Len() int {
	return len(c.posts)
}

// Unread returns the number of posts with Read == false.
func (c *Collection) Unread() int {
	return c.unread
}

// Get returns the post with the given ID.
func (c *Collection) Get(id PostID) (Post, bool) {
	for _, p := range c.posts {
		if p.ID == id {
			return p, true
		}
	}

	return Post{}, false
}

// At returns the post at position i, newest first.
func (c *Collection) At(i int) Post {
	return c.posts[i]
}

// All iterates the posts newest first. The yielded posts are copies;
// read-state changes go through MarkRead and ToggleRead.
func (c *Collection) All() iter.Seq[Post] {
	return func(yield func(Post) bool) {
		for _, p := range c.posts {
			if !yield(p) {
				return
			}
		}
	}
}
