// Package poll turns tenant feed subscriptions into article notifications.
package poll

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/pulsebot/internal/metrics"
	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/notify"
	"github.com/elonfeng/pulsebot/pkg/source"
)

const defaultSummary = "A new article has been posted"

// Delivery is one article notification addressed to a destination.
type Delivery struct {
	Tenant         string
	Destination    string
	SubscriptionID string
	EntryID        string
	Notification   *notify.Notification
}

// Poller fetches every subscribed feed once per cycle and decides which
// entries are new for which destination.
type Poller struct {
	fetcher     source.Fetcher
	log         zerolog.Logger
	concurrency int
	timeout     time.Duration
	backfill    int
}

// Option configures a Poller.
type Option func(*Poller)

// WithConcurrency bounds parallel fetches.
func WithConcurrency(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithFetchTimeout bounds each individual fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithBackfill lets a subscription emit up to n unseen entries per cycle
// instead of only the newest one.
func WithBackfill(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.backfill = n
		}
	}
}

// New creates a poller.
func New(fetcher source.Fetcher, log zerolog.Logger, opts ...Option) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		log:         log.With().Str("component", "poller").Logger(),
		concurrency: 4,
		timeout:     20 * time.Second,
		backfill:    1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollOnce runs one feed cycle over a snapshot of tenants and history. It
// returns the notifications to deliver and a copy of history with every
// notified entry recorded at now. The inputs are not modified.
//
// An entry already in history is never emitted. Within a cycle the same
// entry goes at most once to each destination, so tenants sharing a feed
// each get it.
func (p *Poller) PollOnce(ctx context.Context, tenants []store.TenantConfig, history store.History, now time.Time) ([]Delivery, store.History) {
	updated := history.Clone()
	feeds := p.fetchAll(ctx, tenants)

	var out []Delivery
	sent := make(map[string]bool)

	for i := range tenants {
		tenant := &tenants[i]
		for _, sub := range tenant.Feeds {
			feed := feeds[sub.URL]
			if feed == nil || len(feed.Entries) == 0 {
				continue
			}

			dest := tenant.DestinationFor(sub)
			if dest == "" {
				p.log.Debug().Str("tenant", tenant.ID).Str("url", sub.URL).Msg("no destination, skipping")
				continue
			}

			filter := source.NewFilter(sub.Keywords)
			for _, entry := range p.candidates(feed, history) {
				if !filter.Matches(entry.Text()) {
					continue
				}
				key := dest + "\x00" + entry.ID
				if sent[key] {
					continue
				}
				sent[key] = true
				updated[entry.ID] = now

				out = append(out, Delivery{
					Tenant:         tenant.ID,
					Destination:    dest,
					SubscriptionID: sub.ID,
					EntryID:        entry.ID,
					Notification:   articleNotification(tenant.ID, feed, entry),
				})
			}
		}
	}
	return out, updated
}

// candidates returns the unseen entries newer than the last notified one,
// at most backfill of them, oldest first. The walk stops at the first entry
// already in history. Entries without an id are never sent but still take
// their place, so an unidentifiable newest entry is not replaced by an
// older one.
func (p *Poller) candidates(feed *source.Feed, history store.History) []source.Entry {
	n := min(p.backfill, len(feed.Entries))
	out := make([]source.Entry, 0, n)
	for _, e := range feed.Entries[:n] {
		if e.ID == "" {
			continue
		}
		if _, seen := history[e.ID]; seen {
			break
		}
		out = append(out, e)
	}
	slices.Reverse(out)
	return out
}

// fetchAll fetches each distinct URL once. Failed fetches are logged and
// left out of the result.
func (p *Poller) fetchAll(ctx context.Context, tenants []store.TenantConfig) map[string]*source.Feed {
	urls := make(map[string]bool)
	for _, t := range tenants {
		for _, f := range t.Feeds {
			urls[f.URL] = true
		}
	}

	var (
		mu  sync.Mutex
		out = make(map[string]*source.Feed, len(urls))
		g   errgroup.Group
	)
	g.SetLimit(p.concurrency)

	for u := range urls {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			feed, err := p.fetcher.Fetch(fctx, u)
			if err != nil {
				metrics.FeedFetches.WithLabelValues("error").Inc()
				p.log.Warn().Err(err).Str("url", u).Msg("fetch feed")
				return nil
			}
			if len(feed.Entries) == 0 {
				metrics.FeedFetches.WithLabelValues("empty").Inc()
			} else {
				metrics.FeedFetches.WithLabelValues("ok").Inc()
			}

			mu.Lock()
			out[u] = feed
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

func articleNotification(tenant string, feed *source.Feed, e source.Entry) *notify.Notification {
	body := notify.PlainText(e.Summary)
	if body == "" {
		body = defaultSummary
	}
	return &notify.Notification{
		Kind:     notify.KindArticle,
		Tenant:   tenant,
		Title:    e.Title,
		Body:     body,
		URL:      e.Link,
		ImageURL: e.ImageURL,
		Footer:   feed.Title,
	}
}
