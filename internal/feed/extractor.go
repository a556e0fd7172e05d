package feed

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"mvdan.cc/xurls/v2"

	"github.com/relativehysteria/nia/internal/domain"
)

const (
	fallbackTitleMaxChars = 20
	fallbackTitle         = "Untitled"
)

var urlRe = xurls.Strict()

// Extract turns a fetched document body into posts, newest last. It does no
// I/O. Bodies that are neither Atom nor RSS yield an empty slice rather than
// an error; a feed we cannot make sense of simply contributes nothing this
// round. Every extracted post starts out unread.
func Extract(body string) []domain.Post {
	switch gofeed.DetectFeedType(strings.NewReader(body)) {
	case gofeed.FeedTypeAtom, gofeed.FeedTypeRSS:
	default:
		return nil
	}

	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil
	}

	posts := make([]domain.Post, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		posts = append(posts, postFromItem(item))
	}

	// Hand batches to the collection oldest first so inserts walk the same
	// direction as the sort order.
	slices.SortStableFunc(posts, func(a, b domain.Post) int {
		return a.Published.Compare(b.Published)
	})

	return posts
}

func postFromItem(item *gofeed.Item) domain.Post {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = excerptTitle(item.Description)
	}
	if title == "" {
		title = excerptTitle(item.Content)
	}
	if title == "" {
		title = fallbackTitle
	}

	published := time.Now().UTC()
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC()
	}

	id := domain.PostID(strings.TrimSpace(item.GUID))
	if id == "" {
		id = domain.FallbackID(published, title)
	}

	return domain.Post{
		ID:        id,
		Title:     title,
		URLs:      collectURLs(item),
		Published: published,
		Read:      false,
	}
}

// collectURLs gathers the primary link, any alternate links the feed lists,
// and every URL found inside the entry's content and description. Duplicates
// are suppressed by exact string equality, keeping first-seen order.
func collectURLs(item *gofeed.Item) []string {
	var urls []string
	seen := make(map[string]struct{})

	push := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}

		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return
		}

		if _, ok := seen[raw]; ok {
			return
		}
		seen[raw] = struct{}{}
		urls = append(urls, raw)
	}

	push(item.Link)
	for _, link := range item.Links {
		push(link)
	}

	for _, text := range []string{item.Content, item.Description} {
		if text == "" {
			continue
		}
		for _, href := range anchorHrefs(text) {
			push(href)
		}
		for _, match := range urlRe.FindAllString(text, -1) {
			push(match)
		}
	}

	return urls
}

// anchorHrefs pulls hrefs out of HTML anchors. Plain-text input simply has
// no anchors; the text scan above still sees its bare URLs.
func anchorHrefs(text string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})

	return hrefs
}

// excerptTitle builds a stand-in title from free-form description text.
func excerptTitle(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return ""
	}

	runes := []rune(normalized)
	if len(runes) <= fallbackTitleMaxChars {
		return normalized
	}

	return strings.TrimSpace(string(runes[:fallbackTitleMaxChars]))
}
