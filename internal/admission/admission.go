// Package admission validates and applies every change to tenant feed
// configuration and to price alerts.
package admission

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/price"
)

const (
	// DefaultMaxFeeds is the per-tenant cap when no override is set, and
	// the upper bound of any override.
	DefaultMaxFeeds = 30
	// MinPollInterval is the shortest per-tenant poll interval.
	MinPollInterval = 5 * time.Minute
)

// Service applies admission rules before mutating the store.
type Service struct {
	store     *store.Store
	validator price.Validator
	log       zerolog.Logger
	maxFeeds  int
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithMaxFeeds sets the default per-tenant feed cap.
func WithMaxFeeds(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFeeds = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over st. validator is consulted when alerts are added.
func New(st *store.Store, validator price.Validator, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		validator: validator,
		log:       log.With().Str("component", "admission").Logger(),
		maxFeeds:  DefaultMaxFeeds,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxFeeds returns the default per-tenant feed cap.
func (s *Service) MaxFeeds() int { return s.maxFeeds }
