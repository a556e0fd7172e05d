package feed

import (
	"slices"
	"testing"
	"time"

	"github.com/relativehysteria/nia/internal/domain"
)

const atomBody = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom</title>
  <id>urn:example:feed</id>
  <updated>2024-03-01T12:00:00Z</updated>
  <entry>
    <id>urn:example:newer</id>
    <title>Newer entry</title>
    <link href="https://example.com/newer"/>
    <updated>2024-03-01T12:00:00Z</updated>
    <summary>Follow-up to https://example.com/older for context.</summary>
  </entry>
  <entry>
    <id>urn:example:older</id>
    <title>Older entry</title>
    <link href="https://example.com/older"/>
    <updated>2024-02-01T12:00:00Z</updated>
  </entry>
</feed>`

const rssBody = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0">
  <channel>
    <title>Example RSS</title>
    <link>https://example.com</link>
    <description>test channel</description>
    <item>
      <guid>native-guid</guid>
      <title>With guid</title>
      <link>https://example.com/with-guid</link>
      <pubDate>Fri, 01 Mar 2024 12:00:00 GMT</pubDate>
      <description>&lt;p&gt;See &lt;a href="https://example.com/linked"&gt;this&lt;/a&gt; and https://example.com/bare&lt;/p&gt;</description>
    </item>
    <item>
      <title>Without guid</title>
      <link>https://example.com/no-guid</link>
      <pubDate>Thu, 29 Feb 2024 12:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func TestExtractAtom(t *testing.T) {
	posts := Extract(atomBody)
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}

	// Oldest first.
	if posts[0].ID != "urn:example:older" || posts[1].ID != "urn:example:newer" {
		t.Fatalf("unexpected order: [%s %s]", posts[0].ID, posts[1].ID)
	}

	for _, p := range posts {
		if p.Read {
			t.Fatalf("post %q should start unread", p.ID)
		}
	}

	newer := posts[1]
	if newer.Title != "Newer entry" {
		t.Fatalf("unexpected title %q", newer.Title)
	}

	wantPublished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !newer.Published.Equal(wantPublished) {
		t.Fatalf("unexpected published time %v", newer.Published)
	}

	if !slices.Contains(newer.URLs, "https://example.com/newer") {
		t.Fatalf("primary link missing from %v", newer.URLs)
	}
	if !slices.Contains(newer.URLs, "https://example.com/older") {
		t.Fatalf("summary URL missing from %v", newer.URLs)
	}
}

func TestExtractRSS(t *testing.T) {
	posts := Extract(rssBody)
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}

	withGUID := posts[1]
	if withGUID.ID != "native-guid" {
		t.Fatalf("native guid should win, got %q", withGUID.ID)
	}

	for _, want := range []string{
		"https://example.com/with-guid",
		"https://example.com/linked",
		"https://example.com/bare",
	} {
		if !slices.Contains(withGUID.URLs, want) {
			t.Fatalf("expected %q in %v", want, withGUID.URLs)
		}
	}

	// URLs are deduplicated by exact string.
	seen := make(map[string]int)
	for _, u := range withGUID.URLs {
		seen[u]++
		if seen[u] > 1 {
			t.Fatalf("duplicate URL %q in %v", u, withGUID.URLs)
		}
	}
}

func TestExtractSynthesizesStableIDs(t *testing.T) {
	first := Extract(rssBody)
	second := Extract(rssBody)

	var a, b domain.PostID
	for _, p := range first {
		if p.Title == "Without guid" {
			a = p.ID
		}
	}
	for _, p := range second {
		if p.Title == "Without guid" {
			b = p.ID
		}
	}

	if a == "" || b == "" {
		t.Fatalf("synthesized ids missing: %q %q", a, b)
	}
	if a != b {
		t.Fatalf("re-extracting the same body changed the id: %q vs %q", a, b)
	}
}

func TestExtractTitleFallbacks(t *testing.T) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0">
  <channel>
    <title>Fallbacks</title>
    <description>f</description>
    <item>
      <description>A rather long description that keeps going</description>
      <pubDate>Fri, 01 Mar 2024 12:00:00 GMT</pubDate>
    </item>
    <item>
      <link>https://example.com/empty</link>
      <pubDate>Fri, 01 Mar 2024 13:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	posts := Extract(body)
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}

	if got := posts[0].Title; got != "A rather long descri" {
		t.Fatalf("unexpected excerpt title %q", got)
	}
	if got := posts[1].Title; got != "Untitled" {
		t.Fatalf("expected literal Untitled, got %q", got)
	}
}

func TestExtractMissingDateFallsBackToNow(t *testing.T) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0">
  <channel>
    <title>No dates</title>
    <description>n</description>
    <item>
      <guid>undated</guid>
      <title>Undated</title>
    </item>
  </channel>
</rss>`

	before := time.Now().UTC()
	posts := Extract(body)
	after := time.Now().UTC()

	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.Published.Before(before) || p.Published.After(after) {
		t.Fatalf("expected current-time fallback, got %v", p.Published)
	}
}

func TestExtractUnrecognizedBody(t *testing.T) {
	for _, body := range []string{
		"",
		"not xml at all",
		"<html><body>a web page</body></html>",
		`{"items": []}`,
	} {
		if posts := Extract(body); len(posts) != 0 {
			t.Fatalf("body %q: expected no posts, got %d", body, len(posts))
		}
	}
}
