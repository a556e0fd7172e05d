package feed

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/relativehysteria/nia/internal/domain"
)

const (
	requestQueueSize  = 16
	responseQueueSize = 64
)

// Target names one feed to download.
type Target struct {
	Feed domain.FeedID
	URL  string
}

// ResponseKind tags a fetch response.
type ResponseKind int

const (
	// ResponseStarted is emitted immediately before the network call for a
	// feed begins.
	ResponseStarted ResponseKind = iota

	// ResponseFailed means the body could not be obtained at all: transport
	// error, non-2xx status, or a read error. Retrying is the caller's call.
	ResponseFailed

	// ResponseFinished carries the extracted posts, oldest first. A feed
	// whose body parsed as neither Atom nor RSS still finishes, with zero
	// posts.
	ResponseFinished
)

// Response is one message from a fetch worker back to the coordinator.
// For a given feed the order is always Started then Failed or Finished;
// responses for different feeds interleave freely.
type Response struct {
	Feed  domain.FeedID
	Kind  ResponseKind
	Posts []domain.Post
}

type request struct {
	sections [][]Target
}

// Fetcher downloads feeds in the background. FetchOne and FetchAll queue
// work for a dispatcher goroutine which fans each section out to its own
// worker; feeds within a section are fetched sequentially by that worker.
// A semaphore bounds how many workers run at once so a "download all"
// burst cannot spawn unbounded concurrency.
type Fetcher struct {
	client    *http.Client
	mu        sync.Mutex
	closed    bool
	requests  chan request
	responses chan Response
	sem       chan struct{}
	log       *slog.Logger
}

// NewFetcher starts the dispatcher goroutine. maxWorkers bounds the number
// of concurrently fetching sections; timeout bounds each HTTP request.
func NewFetcher(timeout time.Duration, maxWorkers int, log *slog.Logger) *Fetcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	f := &Fetcher{
		client:    &http.Client{Timeout: timeout},
		requests:  make(chan request, requestQueueSize),
		responses: make(chan Response, responseQueueSize),
		sem:       make(chan struct{}, maxWorkers),
		log:       log,
	}

	go f.dispatch()

	return f
}

// Responses returns the channel carrying worker responses. It is closed
// only after Close, once every in-flight worker has finished; a closed
// channel therefore means the fetch subsystem is gone for good.
func (f *Fetcher) Responses() <-chan Response {
	return f.responses
}

// FetchOne queues a download of a single feed.
func (f *Fetcher) FetchOne(feed domain.FeedID, url string) {
	f.enqueue(request{sections: [][]Target{{{Feed: feed, URL: url}}}})
}

// FetchAll queues a download of every listed feed, one worker per section.
func (f *Fetcher) FetchAll(sections [][]Target) {
	f.enqueue(request{sections: sections})
}

// Close stops accepting requests. Workers already running complete their
// feeds; the response channel closes after the last one. Safe to call
// more than once.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.requests)
	}
}

// enqueue drops requests that race a Close instead of panicking on the
// closed channel; by then the coordinator is shutting down anyway.
func (f *Fetcher) enqueue(req request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		f.log.Warn("Dropping fetch request after Close")
		return
	}

	f.requests <- req
}

func (f *Fetcher) dispatch() {
	var wg sync.WaitGroup

	for req := range f.requests {
		for _, section := range req.sections {
			if len(section) == 0 {
				continue
			}

			wg.Add(1)
			go func(targets []Target) {
				defer wg.Done()

				f.sem <- struct{}{}
				defer func() { <-f.sem }()

				f.fetchSequential(targets)
			}(section)
		}
	}

	wg.Wait()
	close(f.responses)
}

// fetchSequential works through targets one by one. One feed's failure
// never aborts its siblings; the loop just moves on.
func (f *Fetcher) fetchSequential(targets []Target) {
	for _, target := range targets {
		f.responses <- Response{Feed: target.Feed, Kind: ResponseStarted}

		body, err := f.download(target.URL)
		if err != nil {
			f.log.Warn("Feed download failed",
				"url", target.URL,
				"section", target.Feed.Section,
				"feed", target.Feed.Feed,
				"error", err)

			f.responses <- Response{Feed: target.Feed, Kind: ResponseFailed}

			continue
		}

		f.responses <- Response{
			Feed:  target.Feed,
			Kind:  ResponseFinished,
			Posts: Extract(body),
		}
	}
}

func (f *Fetcher) download(url string) (string, error) {
	resp, err := f.client.Get(url)
	if err != nil {
		return "", fmt.Errorf("get feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("get feed: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read feed body: %w", err)
	}

	return string(body), nil
}
