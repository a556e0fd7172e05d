package feed

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relativehysteria/nia/internal/domain"
)

const fetcherTestBody = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0">
  <channel>
    <title>Fetch me</title>
    <description>f</description>
    <item>
      <guid>only-post</guid>
      <title>Only post</title>
      <link>https://example.com/only</link>
      <pubDate>Fri, 01 Mar 2024 12:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()

	f := NewFetcher(5*time.Second, 4, slog.Default())
	t.Cleanup(f.Close)

	return f
}

func recvResponse(t *testing.T, f *Fetcher) Response {
	t.Helper()

	select {
	case resp, ok := <-f.Responses():
		if !ok {
			t.Fatalf("response channel closed early")
		}
		return resp
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for a response")
		return Response{}
	}
}

func TestFetchOneSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(fetcherTestBody))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	id := domain.FeedID{Section: 0, Feed: 0}
	f.FetchOne(id, srv.URL)

	started := recvResponse(t, f)
	if started.Kind != ResponseStarted || started.Feed != id {
		t.Fatalf("expected Started for %v, got kind %d for %v",
			id, started.Kind, started.Feed)
	}

	finished := recvResponse(t, f)
	if finished.Kind != ResponseFinished || finished.Feed != id {
		t.Fatalf("expected Finished for %v, got kind %d for %v",
			id, finished.Kind, finished.Feed)
	}
	if len(finished.Posts) != 1 || finished.Posts[0].ID != "only-post" {
		t.Fatalf("unexpected posts %v", finished.Posts)
	}
}

func TestFetchOneNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	id := domain.FeedID{Section: 0, Feed: 1}
	f.FetchOne(id, srv.URL)

	if resp := recvResponse(t, f); resp.Kind != ResponseStarted {
		t.Fatalf("expected Started first, got kind %d", resp.Kind)
	}
	if resp := recvResponse(t, f); resp.Kind != ResponseFailed {
		t.Fatalf("expected Failed after a 500, got kind %d", resp.Kind)
	}
}

func TestFetchOneUnparseableBodyStillFinishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body>definitely not a feed</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	id := domain.FeedID{Section: 1, Feed: 0}
	f.FetchOne(id, srv.URL)

	if resp := recvResponse(t, f); resp.Kind != ResponseStarted {
		t.Fatalf("expected Started first, got kind %d", resp.Kind)
	}

	finished := recvResponse(t, f)
	if finished.Kind != ResponseFinished {
		t.Fatalf("an unparseable body is not a download failure, got kind %d",
			finished.Kind)
	}
	if len(finished.Posts) != 0 {
		t.Fatalf("expected zero posts, got %d", len(finished.Posts))
	}
}

// One section's feed fails while the other section's feed succeeds: the
// failure must stay contained to its own feed.
func TestFetchAllIsolatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(fetcherTestBody))
	}))
	defer srv.Close()

	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer badSrv.Close()

	failing := domain.FeedID{Section: 0, Feed: 0}
	working := domain.FeedID{Section: 1, Feed: 0}

	f := newTestFetcher(t)
	f.FetchAll([][]Target{
		{{Feed: failing, URL: badSrv.URL}},
		{{Feed: working, URL: srv.URL}},
	})

	perFeed := make(map[domain.FeedID][]ResponseKind)
	for range 4 {
		resp := recvResponse(t, f)
		perFeed[resp.Feed] = append(perFeed[resp.Feed], resp.Kind)
	}

	wantFailing := []ResponseKind{ResponseStarted, ResponseFailed}
	wantWorking := []ResponseKind{ResponseStarted, ResponseFinished}

	if got := perFeed[failing]; !kindsEqual(got, wantFailing) {
		t.Fatalf("failing feed saw %v, want %v", got, wantFailing)
	}
	if got := perFeed[working]; !kindsEqual(got, wantWorking) {
		t.Fatalf("working feed saw %v, want %v", got, wantWorking)
	}
}

// Feeds inside one section are downloaded sequentially, so their response
// pairs must not interleave.
func TestSectionFeedsAreSequential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(fetcherTestBody))
	}))
	defer srv.Close()

	first := domain.FeedID{Section: 0, Feed: 0}
	second := domain.FeedID{Section: 0, Feed: 1}

	f := newTestFetcher(t)
	f.FetchAll([][]Target{{
		{Feed: first, URL: srv.URL},
		{Feed: second, URL: srv.URL},
	}})

	var order []domain.FeedID
	for range 4 {
		order = append(order, recvResponse(t, f).Feed)
	}

	want := []domain.FeedID{first, first, second, second}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("response %d came from %v, want %v (full order %v)",
				i, order[i], want[i], order)
		}
	}
}

func TestCloseDrainsAndClosesResponses(t *testing.T) {
	f := NewFetcher(time.Second, 2, slog.Default())
	f.Close()

	select {
	case _, ok := <-f.Responses():
		if ok {
			t.Fatalf("expected no responses after Close without requests")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("response channel did not close")
	}
}

func kindsEqual(a, b []ResponseKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
