package store

import (
	"strings"
	"time"
)

// Table names one of the persisted logical tables.
type Table string

const (
	TableHistory Table = "history"
	TableAlerts  Table = "alerts"
	TableConfig  Table = "configs"
)

// AllTables returns every persisted table in load order.
func AllTables() []Table {
	return []Table{TableHistory, TableAlerts, TableConfig}
}

// History maps an article identifier (its link) to the time it was last notified.
type History map[string]time.Time

// Clone returns an independent copy of h.
func (h History) Clone() History {
	out := make(History, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Condition is the comparison an alert applies to the current price.
type Condition string

const (
	GreaterThan Condition = "greater-than"
	LessThan    Condition = "less-than"
)

// ParseCondition accepts the long names and the ">" / "<" shorthands.
func ParseCondition(s string) (Condition, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt", string(GreaterThan), "above":
		return GreaterThan, true
	case "<", "lt", string(LessThan), "below":
		return LessThan, true
	}
	return "", false
}

// Symbol returns the short form used in messages.
func (c Condition) Symbol() string {
	switch c {
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	}
	return string(c)
}

// Matches reports whether price satisfies the condition against target.
// Both comparisons are strict: equality never matches.
func (c Condition) Matches(price, target float64) bool {
	switch c {
	case GreaterThan:
		return price > target
	case LessThan:
		return price < target
	}
	return false
}

// Alert is a one-shot price threshold watch owned by a single identity.
type Alert struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Asset     string    `json:"asset"`
	Condition Condition `json:"condition"`
	Target    float64   `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedSubscription is a tenant's registration of one feed source.
type FeedSubscription struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Destination string    `json:"destination,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DestinationSettings are per-destination feed policies. Nil fields mean
// "not configured".
type DestinationSettings struct {
	Limit         *int  `json:"limit,omitempty"`
	AllowMultiple *bool `json:"allow_multiple,omitempty"`
}

// MultipleAllowed defaults to true when unset.
func (d DestinationSettings) MultipleAllowed() bool {
	return d.AllowMultiple == nil || *d.AllowMultiple
}

// TenantConfig is the per-tenant configuration record.
type TenantConfig struct {
	ID                  string                         `json:"id"`
	DefaultDestination  string                         `json:"default_destination,omitempty"`
	Feeds               []FeedSubscription             `json:"feeds,omitempty"`
	PollIntervalMinutes int                            `json:"poll_interval_minutes,omitempty"`
	FeedLimit           int                            `json:"feed_limit,omitempty"`
	Destinations        map[string]DestinationSettings `json:"destinations,omitempty"`
	Managers            []string                       `json:"managers,omitempty"`
}

// DestinationFor resolves the effective destination of a subscription.
func (t *TenantConfig) DestinationFor(sub FeedSubscription) string {
	if sub.Destination != "" {
		return sub.Destination
	}
	return t.DefaultDestination
}

// FeedsFor counts subscriptions whose effective destination is dest.
func (t *TenantConfig) FeedsFor(dest string) int {
	n := 0
	for _, f := range t.Feeds {
		if t.DestinationFor(f) == dest {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of t.
func (t *TenantConfig) Clone() TenantConfig {
	out := *t
	out.Feeds = make([]FeedSubscription, len(t.Feeds))
	for i, f := range t.Feeds {
		f.Keywords = append([]string(nil), f.Keywords...)
		out.Feeds[i] = f
	}
	if t.Destinations != nil {
		out.Destinations = make(map[string]DestinationSettings, len(t.Destinations))
		for k, v := range t.Destinations {
			if v.Limit != nil {
				l := *v.Limit
				v.Limit = &l
			}
			if v.AllowMultiple != nil {
				m := *v.AllowMultiple
				v.AllowMultiple = &m
			}
			out.Destinations[k] = v
		}
	}
	out.Managers = append([]string(nil), t.Managers...)
	return out
}

// configDoc is the on-disk shape of the configuration table.
type configDoc struct {
	FeedIntervalMinutes int                      `json:"feed_interval_minutes,omitempty"`
	Tenants             map[string]*TenantConfig `json:"tenants"`
}
