package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/elonfeng/pulsebot/internal/metrics"
)

// Backend is the persistence interface for raw table documents.
// Load returns nil data and a nil error when the table was never written.
type Backend interface {
	Load(ctx context.Context, table Table) ([]byte, error)
	Save(ctx context.Context, table Table, data []byte) error
	Close() error
}

// Store owns the three in-memory tables and writes each one back to the
// backend after every mutation. Each table has its own mutex; callers get
// copies and apply changes through the Update methods.
type Store struct {
	backend Backend
	log     zerolog.Logger
	retries uint64

	histMu  sync.Mutex
	history History

	alertMu sync.Mutex
	alerts  []Alert

	cfgMu        sync.Mutex
	tenants      map[string]*TenantConfig
	feedInterval int

	saveMu  map[Table]*sync.Mutex
	dirtyMu sync.Mutex
	dirty   map[Table]bool
}

// Option configures a Store.
type Option func(*Store)

// WithSaveRetries sets how many times a failed write is retried with
// exponential backoff before the table is marked dirty.
func WithSaveRetries(n uint64) Option {
	return func(s *Store) { s.retries = n }
}

// New creates an empty store. Call Load before use.
func New(backend Backend, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     log.With().Str("component", "store").Logger(),
		retries: 3,
		history: make(History),
		tenants: make(map[string]*TenantConfig),
		saveMu:  make(map[Table]*sync.Mutex),
		dirty:   make(map[Table]bool),
	}
	for _, t := range AllTables() {
		s.saveMu[t] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads every table. Missing or undecodable documents fall back to an
// empty table; only backend read errors are returned.
func (s *Store) Load(ctx context.Context) error {
	for _, table := range AllTables() {
		data, err := s.backend.Load(ctx, table)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			s.log.Info().Str("table", string(table)).Msg("table empty, starting fresh")
			continue
		}
		rewrite, err := s.decode(table, data)
		if err != nil {
			s.log.Warn().Err(err).Str("table", string(table)).Msg("table unreadable, starting fresh")
			continue
		}
		if rewrite {
			// Written back in the current layout on the next save or Flush.
			s.setDirty(table, true)
			s.log.Info().Str("table", string(table)).Msg("table converted")
		}
	}

	s.histMu.Lock()
	metrics.HistorySize.Set(float64(len(s.history)))
	s.histMu.Unlock()
	s.alertMu.Lock()
	metrics.ActiveAlerts.Set(float64(len(s.alerts)))
	s.alertMu.Unlock()
	return nil
}

// decode installs one table. It reports whether the data was in the legacy
// layout or had invalid records removed, so the table needs rewriting.
func (s *Store) decode(table Table, data []byte) (rewrite bool, err error) {
	if isEmptyDoc(data) {
		return false, nil
	}
	switch table {
	case TableHistory:
		h, legacy, err := decodeHistory(data)
		if err != nil {
			return false, fmt.Errorf("decode history: %w", err)
		}
		s.histMu.Lock()
		s.history = h
		s.histMu.Unlock()
		return legacy, nil
	case TableAlerts:
		a, legacy, dropped, err := decodeAlerts(data)
		if err != nil {
			return false, fmt.Errorf("decode alerts: %w", err)
		}
		for _, reason := range dropped {
			s.log.Warn().Str("alert", reason).Msg("dropping invalid alert")
		}
		s.alertMu.Lock()
		s.alerts = a
		s.alertMu.Unlock()
		return legacy || len(dropped) > 0, nil
	case TableConfig:
		doc, legacy, err := decodeConfig(data)
		if err != nil {
			return false, fmt.Errorf("decode configs: %w", err)
		}
		if doc.Tenants == nil {
			doc.Tenants = make(map[string]*TenantConfig)
		}
		for id, t := range doc.Tenants {
			if t == nil {
				delete(doc.Tenants, id)
				continue
			}
			t.ID = id
		}
		s.cfgMu.Lock()
		s.tenants = doc.Tenants
		s.feedInterval = doc.FeedIntervalMinutes
		s.cfgMu.Unlock()
		return legacy, nil
	}
	return false, fmt.Errorf("unknown table %q", table)
}

func (s *Store) encode(table Table) ([]byte, error) {
	switch table {
	case TableHistory:
		s.histMu.Lock()
		defer s.histMu.Unlock()
		return json.Marshal(s.history)
	case TableAlerts:
		s.alertMu.Lock()
		defer s.alertMu.Unlock()
		if s.alerts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(s.alerts)
	case TableConfig:
		s.cfgMu.Lock()
		defer s.cfgMu.Unlock()
		return json.Marshal(configDoc{FeedIntervalMinutes: s.feedInterval, Tenants: s.tenants})
	}
	return nil, fmt.Errorf("unknown table %q", table)
}

// persist writes table and then retries any table left dirty by an earlier
// failed write.
func (s *Store) persist(ctx context.Context, table Table) {
	s.persistOne(ctx, table)
	for _, t := range AllTables() {
		if t != table && s.isDirty(t) {
			s.persistOne(ctx, t)
		}
	}
}

func (s *Store) persistOne(ctx context.Context, table Table) error {
	mu := s.saveMu[table]
	mu.Lock()
	defer mu.Unlock()

	data, err := s.encode(table)
	if err != nil {
		s.log.Error().Err(err).Str("table", string(table)).Msg("encode table")
		return err
	}

	op := func() error { return s.backend.Save(ctx, table, data) }
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		s.setDirty(table, true)
		metrics.StoreSaveErrors.WithLabelValues(string(table)).Inc()
		s.log.Error().Err(err).Str("table", string(table)).Msg("save table failed, will retry on next write")
		return err
	}
	s.setDirty(table, false)
	return nil
}

func (s *Store) isDirty(t Table) bool {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	return s.dirty[t]
}

func (s *Store) setDirty(t Table, v bool) {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	s.dirty[t] = v
}

// Dirty lists tables whose last write failed.
func (s *Store) Dirty() []Table {
	var out []Table
	for _, t := range AllTables() {
		if s.isDirty(t) {
			out = append(out, t)
		}
	}
	return out
}

// Flush writes every dirty table. Called on shutdown.
func (s *Store) Flush(ctx context.Context) error {
	var errs []error
	for _, t := range s.Dirty() {
		if err := s.persistOne(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// ---- history ----

// History returns a copy of the article history.
func (s *Store) History() History {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return s.history.Clone()
}

// UpdateHistory runs fn on the live history under the table lock. fn reports
// whether it changed anything; the table is persisted only then.
func (s *Store) UpdateHistory(ctx context.Context, fn func(h History) bool) bool {
	s.histMu.Lock()
	changed := fn(s.history)
	size := len(s.history)
	s.histMu.Unlock()

	metrics.HistorySize.Set(float64(size))
	if changed {
		s.persist(ctx, TableHistory)
	}
	return changed
}

// ---- alerts ----

// Alerts returns a copy of the active alerts in order.
func (s *Store) Alerts() []Alert {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

// UpdateAlerts hands fn a copy of the alert sequence. If fn returns an
// error nothing changes; otherwise its result replaces the sequence and is
// persisted.
func (s *Store) UpdateAlerts(ctx context.Context, fn func(alerts []Alert) ([]Alert, error)) error {
	s.alertMu.Lock()
	next, err := fn(append([]Alert(nil), s.alerts...))
	if err != nil {
		s.alertMu.Unlock()
		return err
	}
	s.alerts = next
	size := len(next)
	s.alertMu.Unlock()

	metrics.ActiveAlerts.Set(float64(size))
	s.persist(ctx, TableAlerts)
	return nil
}

// RemoveAlerts deletes alerts by id. Ids no longer present are ignored, so
// it is safe to call with a stale snapshot. Returns how many were removed.
func (s *Store) RemoveAlerts(ctx context.Context, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	removed := 0
	s.alertMu.Lock()
	kept := s.alerts[:0:0]
	for _, a := range s.alerts {
		if drop[a.ID] {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	if removed > 0 {
		s.alerts = kept
	}
	size := len(s.alerts)
	s.alertMu.Unlock()

	metrics.ActiveAlerts.Set(float64(size))
	if removed > 0 {
		s.persist(ctx, TableAlerts)
	}
	return removed
}

// ---- tenant configuration ----

// Tenant returns a copy of one tenant's configuration.
func (s *Store) Tenant(id string) (TenantConfig, bool) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return TenantConfig{ID: id}, false
	}
	return t.Clone(), true
}

// Tenants returns copies of every tenant, ordered by id.
func (s *Store) Tenants() []TenantConfig {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	out := make([]TenantConfig, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateTenant applies fn to a copy of the tenant (created empty if absent).
// On error nothing changes; otherwise the copy replaces the tenant and the
// configuration table is persisted.
func (s *Store) UpdateTenant(ctx context.Context, id string, fn func(t *TenantConfig) error) error {
	s.cfgMu.Lock()
	cur, ok := s.tenants[id]
	var next TenantConfig
	if ok {
		next = cur.Clone()
	} else {
		next = TenantConfig{ID: id}
	}
	if err := fn(&next); err != nil {
		s.cfgMu.Unlock()
		return err
	}
	next.ID = id
	s.tenants[id] = &next
	s.cfgMu.Unlock()

	s.persist(ctx, TableConfig)
	return nil
}

// FeedInterval returns the persisted feed interval, zero if never set.
func (s *Store) FeedInterval() time.Duration {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return time.Duration(s.feedInterval) * time.Minute
}

// SetFeedInterval persists the feed interval, rounded down to whole minutes.
func (s *Store) SetFeedInterval(ctx context.Context, d time.Duration) {
	s.cfgMu.Lock()
	s.feedInterval = int(d / time.Minute)
	s.cfgMu.Unlock()
	s.persist(ctx, TableConfig)
}
