package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/pulsebot/internal/admission"
	"github.com/elonfeng/pulsebot/internal/metrics"
	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/notify"
	"github.com/elonfeng/pulsebot/pkg/poll"
	"github.com/elonfeng/pulsebot/pkg/pricealert"
)

const (
	DefaultFeedInterval  = 10 * time.Minute
	DefaultPriceInterval = 60 * time.Second

	// pollSlack absorbs timer jitter when comparing a tenant's poll override
	// with the time since its last poll.
	pollSlack = 30 * time.Second
)

// Config holds the scheduler settings.
type Config struct {
	FeedInterval     time.Duration
	PriceInterval    time.Duration
	HistoryRetention time.Duration
	DeliveryTimeout  time.Duration
	ShutdownTimeout  time.Duration
}

// Scheduler drives the feed and price cycles on two independent timers.
type Scheduler struct {
	store     *store.Store
	poller    *poll.Poller
	evaluator *pricealert.Evaluator
	sink      notify.Sink
	log       zerolog.Logger
	cfg       Config
	now       func() time.Time

	feedTimer  *Timer
	priceTimer *Timer

	ready     chan struct{}
	readyOnce sync.Once

	pollMu   sync.Mutex
	lastPoll map[string]time.Time
}

// New creates a new scheduler. Zero config values take defaults.
func New(
	st *store.Store,
	poller *poll.Poller,
	evaluator *pricealert.Evaluator,
	sink notify.Sink,
	log zerolog.Logger,
	cfg Config,
) *Scheduler {
	if cfg.FeedInterval == 0 {
		cfg.FeedInterval = DefaultFeedInterval
	}
	if cfg.PriceInterval == 0 {
		cfg.PriceInterval = DefaultPriceInterval
	}
	if cfg.HistoryRetention == 0 {
		cfg.HistoryRetention = poll.DefaultRetention
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Scheduler{
		store:     st,
		poller:    poller,
		evaluator: evaluator,
		sink:      sink,
		log:       log.With().Str("component", "scheduler").Logger(),
		cfg:       cfg,
		now:       time.Now,
		ready:     make(chan struct{}),
		lastPoll:  make(map[string]time.Time),
	}
	s.feedTimer = NewTimer("feed", cfg.FeedInterval, s.FeedCycle, s.log)
	s.priceTimer = NewTimer("price", cfg.PriceInterval, s.PriceCycle, s.log)
	return s
}

// MarkReady opens the readiness gate. Call it once the store is loaded.
func (s *Scheduler) MarkReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready reports whether the readiness gate is open.
func (s *Scheduler) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Run waits for readiness, starts both timers and blocks until ctx is
// cancelled. It then stops the timers and flushes unsaved tables.
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if d := s.store.FeedInterval(); d >= admission.MinPollInterval {
		s.feedTimer.SetInterval(d)
	}

	s.feedTimer.Start(ctx)
	s.priceTimer.Start(ctx)
	s.log.Info().Dur("feed_interval", s.feedTimer.Interval()).
		Dur("price_interval", s.priceTimer.Interval()).Msg("scheduler running")

	<-ctx.Done()
	return s.Shutdown()
}

// Shutdown stops both timers, waiting a bounded time for in-flight cycles,
// then flushes tables whose last write failed.
func (s *Scheduler) Shutdown() error {
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range []*Timer{s.feedTimer, s.priceTimer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.Stop(sctx)
		}()
	}
	wg.Wait()

	if err := s.store.Flush(sctx); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// FeedInterval returns the feed timer period.
func (s *Scheduler) FeedInterval() time.Duration { return s.feedTimer.Interval() }

// PriceInterval returns the price timer period.
func (s *Scheduler) PriceInterval() time.Duration { return s.priceTimer.Interval() }

// SetFeedInterval changes the feed period from the next tick on and
// persists it. Intervals under five minutes are rejected.
func (s *Scheduler) SetFeedInterval(ctx context.Context, d time.Duration) error {
	if d < admission.MinPollInterval {
		return fmt.Errorf("%w: minimum feed poll interval is %s", admission.ErrIntervalTooShort, admission.MinPollInterval)
	}
	s.feedTimer.SetInterval(d)
	s.store.SetFeedInterval(ctx, d)
	return nil
}

// TimerStatus describes one timer for listings.
type TimerStatus struct {
	Interval time.Duration `json:"interval"`
	Running  bool          `json:"running"`
	Next     time.Time     `json:"next,omitempty"`
}

// Status returns the state of both timers.
func (s *Scheduler) Status() map[string]TimerStatus {
	out := make(map[string]TimerStatus, 2)
	for name, t := range map[string]*Timer{"feed": s.feedTimer, "price": s.priceTimer} {
		out[name] = TimerStatus{Interval: t.Interval(), Running: t.Running(), Next: t.Next()}
	}
	return out
}

// FeedCycle polls every due tenant, records and prunes history, then
// delivers. History is written before delivery so a crash mid-delivery
// never re-sends.
func (s *Scheduler) FeedCycle(ctx context.Context) {
	now := s.now()
	due := s.dueTenants(s.store.Tenants(), now)

	deliveries, updated := s.poller.PollOnce(ctx, due, s.store.History(), now)

	s.store.UpdateHistory(ctx, func(h store.History) bool {
		changed := poll.Merge(h, updated)
		if n := poll.Prune(h, now, s.cfg.HistoryRetention); n > 0 {
			s.log.Debug().Int("removed", n).Msg("pruned history")
			changed = true
		}
		return changed
	})

	sent := 0
	for _, d := range deliveries {
		if ctx.Err() != nil {
			break
		}
		dctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		err := s.sink.DeliverToDestination(dctx, d.Destination, d.Notification)
		cancel()
		if err != nil {
			metrics.Notifications.WithLabelValues(string(notify.KindArticle), "failed").Inc()
			s.log.Warn().Err(err).Str("tenant", d.Tenant).Str("destination", d.Destination).
				Str("entry", d.EntryID).Msg("deliver article")
			continue
		}
		metrics.Notifications.WithLabelValues(string(notify.KindArticle), "sent").Inc()
		sent++
	}

	s.log.Info().Int("tenants", len(due)).Int("new", len(deliveries)).Int("sent", sent).Msg("feed cycle done")
}

// dueTenants filters out tenants whose poll override has not elapsed, and
// records the poll time of the rest.
func (s *Scheduler) dueTenants(tenants []store.TenantConfig, now time.Time) []store.TenantConfig {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	due := tenants[:0:0]
	for _, t := range tenants {
		if t.PollIntervalMinutes > 0 {
			every := time.Duration(t.PollIntervalMinutes) * time.Minute
			if last, ok := s.lastPoll[t.ID]; ok && now.Sub(last)+pollSlack < every {
				continue
			}
		}
		s.lastPoll[t.ID] = now
		due = append(due, t)
	}
	return due
}

// PriceCycle evaluates all alerts with one lookup, messages the owners of
// those that fired and removes them. A failed lookup changes nothing.
func (s *Scheduler) PriceCycle(ctx context.Context) {
	fired, _, err := s.evaluator.EvaluateOnce(ctx, s.store.Alerts())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Msg("price cycle skipped")
		}
		return
	}
	if len(fired) == 0 {
		return
	}

	ids := make([]string, 0, len(fired))
	for _, f := range fired {
		ids = append(ids, f.Alert.ID)

		dctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		err := s.sink.DeliverToIdentity(dctx, f.Alert.Owner, f.Notification)
		cancel()
		if err != nil {
			metrics.Notifications.WithLabelValues(string(notify.KindPrice), "failed").Inc()
			s.log.Warn().Err(err).Str("owner", f.Alert.Owner).Str("asset", f.Alert.Asset).Msg("deliver price alert")
			continue
		}
		metrics.Notifications.WithLabelValues(string(notify.KindPrice), "sent").Inc()
		s.log.Info().Str("owner", f.Alert.Owner).Str("asset", f.Alert.Asset).
			Float64("price", f.Price).Msg("price alert triggered")
	}

	removed := s.store.RemoveAlerts(ctx, ids)
	s.log.Info().Int("fired", len(fired)).Int("removed", removed).Msg("price cycle done")
}
