package source

import (
	"context"
	"time"
)

// Entry is one item of a parsed feed.
type Entry struct {
	// ID is the entry's link, falling back to its GUID. Empty when the
	// item has neither; such entries are never notified.
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Link      string    `json:"link"`
	ImageURL  string    `json:"image_url,omitempty"`
	Published time.Time `json:"published"`
}

// Text is what keyword filters match against.
func (e Entry) Text() string {
	return e.Title + " " + e.Summary
}

// Feed is a parsed source. Entries keep the order the source lists them in,
// which for RSS and Atom is newest first.
type Feed struct {
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// Fetcher retrieves and parses a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Feed, error)
}
