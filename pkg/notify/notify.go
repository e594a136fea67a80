package notify

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	// ErrNotFound means the destination or identity does not exist.
	ErrNotFound = errors.New("recipient not found")
	// ErrUnreachable means the recipient exists but refuses delivery
	// (missing permissions, closed direct messages, blocked bot).
	ErrUnreachable = errors.New("recipient unreachable")
)

// Kind tells sinks how to present a notification.
type Kind string

const (
	KindArticle Kind = "article"
	KindPrice   Kind = "price"
)

// Field is a labelled value shown under the body.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Notification is the data sent to destinations and identities.
type Notification struct {
	Kind     Kind    `json:"kind"`
	Tenant   string  `json:"tenant,omitempty"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	URL      string  `json:"url,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	Footer   string  `json:"footer,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
}

// Sink delivers notifications. Implementations must not retry; a failed
// delivery is reported once and dropped by the caller.
type Sink interface {
	Name() string
	DeliverToDestination(ctx context.Context, destination string, n *Notification) error
	DeliverToIdentity(ctx context.Context, identity string, n *Notification) error
}

// USD formats an amount as dollars with thousands separators.
func USD(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

// PlainText strips HTML tags, decodes entities and collapses whitespace,
// for feed summaries.
func PlainText(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}

// Truncate shortens s to at most n runes, ending in "..." when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
