package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSFetcher fetches RSS/Atom/JSON feeds over HTTP.
type RSSFetcher struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
}

// NewRSSFetcher creates a fetcher whose requests give up after timeout.
func NewRSSFetcher(timeout time.Duration) *RSSFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RSSFetcher{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		userAgent: "pulsebot/1.0",
	}
}

func (r *RSSFetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", url, resp.StatusCode)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	feed := &Feed{Title: parsed.Title}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		// Items without an id stay in place so the newest entry is still first.
		feed.Entries = append(feed.Entries, convertItem(item))
	}
	return feed, nil
}

func convertItem(item *gofeed.Item) Entry {
	link := item.Link
	if link == "" && len(item.Links) > 0 {
		link = item.Links[0]
	}

	id := link
	if id == "" {
		id = item.GUID
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC()
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	return Entry{
		ID:        id,
		Title:     strings.TrimSpace(item.Title),
		Summary:   strings.TrimSpace(summary),
		Link:      link,
		ImageURL:  imageURL(item),
		Published: published,
	}
}

// imageURL prefers media:content, then the item image, then an image enclosure.
func imageURL(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
