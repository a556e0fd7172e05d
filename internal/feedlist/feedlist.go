// Package feedlist reads the plain-text feed list: `# Name` lines open a
// section, `Title | URL` lines add a feed to the current section. Feed
// lines before the first section header are ignored.
package feedlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/relativehysteria/nia/internal/domain"
)

// List is the parsed feed list. Positions inside it define the in-memory
// FeedIDs; nothing here is ever persisted by position.
type List struct {
	Sections []domain.Section
}

// Parse reads a feed list from r. Malformed feed lines are errors; empty
// lines are skipped.
func Parse(r io.Reader) (*List, error) {
	list := &List{}

	scanner := bufio.NewScanner(r)
	inSection := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			name := strings.TrimSpace(strings.TrimLeft(line, "#"))
			list.Sections = append(list.Sections, domain.Section{Name: name})
			inSection = true

			continue
		}

		if !inSection {
			continue
		}

		feed, err := parseFeedLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		section := &list.Sections[len(list.Sections)-1]
		section.Feeds = append(section.Feeds, feed)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feed list: %w", err)
	}

	return list, nil
}

// Load parses the feed list file at path.
func Load(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed list: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

func parseFeedLine(line string) (domain.Feed, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 {
		return domain.Feed{}, fmt.Errorf("invalid line %q, expected \"<title> | <url>\"", line)
	}

	title := strings.TrimSpace(parts[0])
	url := strings.TrimSpace(parts[1])

	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return domain.Feed{}, fmt.Errorf("invalid URL %q", url)
	}

	return domain.Feed{Title: title, URL: url}, nil
}

// Resolve maps a FeedID to its configured feed.
func (l *List) Resolve(id domain.FeedID) (domain.Feed, bool) {
	if id.Section < 0 || id.Section >= len(l.Sections) {
		return domain.Feed{}, false
	}

	feeds := l.Sections[id.Section].Feeds
	if id.Feed < 0 || id.Feed >= len(feeds) {
		return domain.Feed{}, false
	}

	return feeds[id.Feed], true
}

// Len returns the total number of configured feeds.
func (l *List) Len() int {
	n := 0
	for _, section := range l.Sections {
		n += len(section.Feeds)
	}

	return n
}
