package domain

// FeedID addresses a feed by its position in the configured feed list:
// section index first, feed index within the section second. It is an
// in-memory convenience only and is never persisted, because indices shift
// whenever the feed list is edited. Storage is keyed by feed URL.
type FeedID struct {
	Section int
	Feed    int
}

// Feed is one URL-addressed source of posts.
type Feed struct {
	Title string
	URL   string
	Posts *Collection
}

// Section is a user-defined grouping of feeds. It matters for fetch fan-out
// and display grouping, not for identity.
type Section struct {
	Name  string
	Feeds []Feed
}
