// Package app coordinates the ingestion pipeline: it owns the in-memory
// post collections, tracks which feeds are mid-download, applies fetch
// responses, and keeps the persisted store in sync. Collections are only
// ever touched from the goroutine driving the App; worker goroutines talk
// to it exclusively through channels.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/relativehysteria/nia/internal/domain"
	"github.com/relativehysteria/nia/internal/feed"
	"github.com/relativehysteria/nia/internal/feedlist"
	"github.com/relativehysteria/nia/internal/store"
)

// ErrFetcherDown means the fetch response channel closed. Nothing can be
// dispatched safely after that; the ingestion subsystem has to shut down
// visibly instead of hanging.
var ErrFetcherDown = errors.New("fetch worker pool is gone")

// FetchResult summarizes the terminal response for one feed during a
// synchronous fetch round.
type FetchResult struct {
	Failed bool
	Added  int
}

// App is the coordinator state.
type App struct {
	list        *feedlist.List
	collections map[domain.FeedID]*domain.Collection
	downloading map[domain.FeedID]struct{}
	fetcher     *feed.Fetcher
	store       *store.Store
	log         *slog.Logger
}

// New wires the coordinator up with empty collections for every configured
// feed. Call LoadFromStore before showing anything to a user.
func New(list *feedlist.List, fetcher *feed.Fetcher, st *store.Store, log *slog.Logger) *App {
	collections := make(map[domain.FeedID]*domain.Collection, list.Len())
	for sectionIdx, section := range list.Sections {
		for feedIdx := range section.Feeds {
			id := domain.FeedID{Section: sectionIdx, Feed: feedIdx}
			collections[id] = domain.NewCollection()
		}
	}

	return &App{
		list:        list,
		collections: collections,
		downloading: make(map[domain.FeedID]struct{}),
		fetcher:     fetcher,
		store:       st,
		log:         log,
	}
}

// LoadFromStore synchronously loads every configured feed's persisted
// posts. This runs once at startup, before the first frame; it is the one
// deliberate exception to never blocking on storage.
func (a *App) LoadFromStore() error {
	for id := range a.collections {
		f, _ := a.list.Resolve(id)

		loaded, err := a.store.Load(f.URL)
		if err != nil {
			return fmt.Errorf("load feed %q: %w", f.URL, err)
		}

		a.collections[id] = loaded
	}

	return nil
}

// Collection returns the posts of one feed.
func (a *App) Collection(id domain.FeedID) *domain.Collection {
	return a.collections[id]
}

// Resolve returns the configured feed behind id, with its collection
// attached.
func (a *App) Resolve(id domain.FeedID) (domain.Feed, bool) {
	f, ok := a.list.Resolve(id)
	if !ok {
		return domain.Feed{}, false
	}

	f.Posts = a.collections[id]

	return f, true
}

// List returns the configured feed list.
func (a *App) List() *feedlist.List {
	return a.list
}

// IsDownloading reports whether a fetch for the feed is in flight.
func (a *App) IsDownloading(id domain.FeedID) bool {
	_, ok := a.downloading[id]
	return ok
}

// Downloading returns the number of in-flight feeds. A UI polls input with
// a timeout while this is non-zero and blocks otherwise.
func (a *App) Downloading() int {
	return len(a.downloading)
}

// RefreshFeed queues a download of a single feed.
func (a *App) RefreshFeed(id domain.FeedID) error {
	f, ok := a.list.Resolve(id)
	if !ok {
		return fmt.Errorf("unknown feed %+v", id)
	}

	a.downloading[id] = struct{}{}
	a.fetcher.FetchOne(id, f.URL)

	return nil
}

// RefreshAll queues a download of every configured feed, one worker per
// section.
func (a *App) RefreshAll() {
	sections := make([][]feed.Target, len(a.list.Sections))
	for sectionIdx, section := range a.list.Sections {
		targets := make([]feed.Target, len(section.Feeds))
		for feedIdx, f := range section.Feeds {
			id := domain.FeedID{Section: sectionIdx, Feed: feedIdx}
			targets[feedIdx] = feed.Target{Feed: id, URL: f.URL}
			a.downloading[id] = struct{}{}
		}
		sections[sectionIdx] = targets
	}

	a.fetcher.FetchAll(sections)
}

// HandleResponse applies one fetch response to the coordinator state.
func (a *App) HandleResponse(resp feed.Response) error {
	_, err := a.applyResponse(resp)
	return err
}

// DrainResponses applies every response that is already waiting, without
// blocking, so a burst of finished downloads lands in a single UI update.
// It reports how many were applied; ErrFetcherDown if the channel closed.
func (a *App) DrainResponses() (int, error) {
	handled := 0

	for {
		select {
		case resp, ok := <-a.fetcher.Responses():
			if !ok {
				return handled, ErrFetcherDown
			}
			if err := a.HandleResponse(resp); err != nil {
				return handled, err
			}
			handled++
		default:
			return handled, nil
		}
	}
}

// FetchAllAndWait queues a download of every feed and blocks until each
// one has reached a terminal response, merging and persisting as results
// arrive. Used by headless drivers that have no input loop to get back to.
func (a *App) FetchAllAndWait() (map[domain.FeedID]FetchResult, error) {
	a.RefreshAll()

	results := make(map[domain.FeedID]FetchResult, a.list.Len())
	for a.Downloading() > 0 {
		select {
		case resp, ok := <-a.fetcher.Responses():
			if !ok {
				return results, ErrFetcherDown
			}

			added, err := a.applyResponse(resp)
			if err != nil {
				return results, err
			}

			switch resp.Kind {
			case feed.ResponseFailed:
				results[resp.Feed] = FetchResult{Failed: true}
			case feed.ResponseFinished:
				results[resp.Feed] = FetchResult{Added: added}
			}
		case <-a.store.Done():
			return results, fmt.Errorf("persistence worker stopped: %w", a.store.Err())
		}
	}

	return results, nil
}

// MarkRead sets a post's read flag and persists the change.
func (a *App) MarkRead(id domain.FeedID, postID domain.PostID, read bool) error {
	col, ok := a.collections[id]
	if !ok {
		return fmt.Errorf("unknown feed %+v", id)
	}

	if !col.MarkRead(postID, read) {
		return nil
	}

	return a.savePost(id, postID)
}

// ToggleRead flips a post's read flag and persists the change.
func (a *App) ToggleRead(id domain.FeedID, postID domain.PostID) error {
	col, ok := a.collections[id]
	if !ok {
		return fmt.Errorf("unknown feed %+v", id)
	}

	if !col.ToggleRead(postID) {
		return fmt.Errorf("unknown post %q", postID)
	}

	return a.savePost(id, postID)
}

func (a *App) savePost(id domain.FeedID, postID domain.PostID) error {
	f, _ := a.list.Resolve(id)

	p, ok := a.collections[id].Get(postID)
	if !ok {
		return fmt.Errorf("unknown post %q", postID)
	}

	if err := a.store.Save(f.URL, []domain.Post{p}); err != nil {
		return fmt.Errorf("persist read state: %w", err)
	}

	return nil
}

// applyResponse updates the downloading set and, for a finished fetch,
// merges the batch into the feed's collection and persists what is new.
// Known post ids are skipped so an earlier fetch (and its read state)
// always wins over a re-fetch of the same item.
func (a *App) applyResponse(resp feed.Response) (int, error) {
	switch resp.Kind {
	case feed.ResponseStarted:
		a.downloading[resp.Feed] = struct{}{}
		return 0, nil

	case feed.ResponseFailed:
		delete(a.downloading, resp.Feed)
		return 0, nil

	case feed.ResponseFinished:
		delete(a.downloading, resp.Feed)
		return a.merge(resp.Feed, resp.Posts)

	default:
		return 0, fmt.Errorf("unknown response kind %d", resp.Kind)
	}
}

func (a *App) merge(id domain.FeedID, posts []domain.Post) (int, error) {
	col, ok := a.collections[id]
	if !ok {
		return 0, fmt.Errorf("response for unknown feed %+v", id)
	}

	var added []domain.Post
	for _, p := range posts {
		if col.Insert(p) {
			added = append(added, p)
		}
	}

	if len(added) == 0 {
		return 0, nil
	}

	f, _ := a.list.Resolve(id)
	if err := a.store.Save(f.URL, added); err != nil {
		return len(added), fmt.Errorf("persist fetched posts: %w", err)
	}

	a.log.Info("Merged fetched posts",
		"feedURL", f.URL,
		"newPosts", len(added),
		"totalPosts", col.Len(),
		"unread", col.Unread())

	return len(added), nil
}
