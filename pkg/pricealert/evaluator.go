// Package pricealert checks active price alerts against current quotes.
package pricealert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/pulsebot/internal/metrics"
	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/notify"
	"github.com/elonfeng/pulsebot/pkg/price"
)

// Triggered is an alert whose condition matched, with the price that did it.
type Triggered struct {
	Alert        store.Alert
	Price        float64
	Notification *notify.Notification
}

// Evaluator runs one price lookup per cycle for every distinct asset.
type Evaluator struct {
	prices  price.Source
	log     zerolog.Logger
	timeout time.Duration
}

// New creates an evaluator. timeout bounds the batched lookup.
func New(prices price.Source, log zerolog.Logger, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Evaluator{
		prices:  prices,
		log:     log.With().Str("component", "pricealert").Logger(),
		timeout: timeout,
	}
}

// EvaluateOnce splits alerts into those that fire now and those that stay.
// With no alerts no lookup is made. If the lookup fails nothing fires and
// the error is returned. Alerts whose asset has no quote stay active.
func (e *Evaluator) EvaluateOnce(ctx context.Context, alerts []store.Alert) ([]Triggered, []store.Alert, error) {
	if len(alerts) == 0 {
		return nil, nil, nil
	}

	assets := distinctAssets(alerts)
	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	quotes, err := e.prices.GetPrices(lctx, assets)
	if err != nil {
		metrics.PriceLookupErrors.Inc()
		return nil, alerts, fmt.Errorf("price lookup for %d assets: %w", len(assets), err)
	}

	var (
		triggered []Triggered
		remaining = make([]store.Alert, 0, len(alerts))
	)
	for _, a := range alerts {
		q, ok := quotes[a.Asset]
		if !ok {
			e.log.Debug().Str("asset", a.Asset).Msg("no quote for asset")
			remaining = append(remaining, a)
			continue
		}
		if !a.Condition.Matches(q.USD, a.Target) {
			remaining = append(remaining, a)
			continue
		}
		metrics.AlertsFired.Inc()
		triggered = append(triggered, Triggered{
			Alert:        a,
			Price:        q.USD,
			Notification: AlertNotification(a, q.USD),
		})
	}
	return triggered, remaining, nil
}

func distinctAssets(alerts []store.Alert) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range alerts {
		if !seen[a.Asset] {
			seen[a.Asset] = true
			out = append(out, a.Asset)
		}
	}
	sort.Strings(out)
	return out
}

// AlertNotification builds the direct message sent to an alert's owner.
func AlertNotification(a store.Alert, current float64) *notify.Notification {
	name := AssetTitle(a.Asset)
	return &notify.Notification{
		Kind:  notify.KindPrice,
		Title: "Price Alert!",
		Body:  fmt.Sprintf("Your alert for %s was triggered.", name),
		Fields: []notify.Field{
			{Name: "Target", Value: a.Condition.Symbol() + " " + notify.USD(a.Target)},
			{Name: "Current Price", Value: notify.USD(current)},
		},
	}
}

// AssetTitle capitalizes the first letter of an asset id for display.
func AssetTitle(asset string) string {
	if asset == "" {
		return asset
	}
	return strings.ToUpper(asset[:1]) + asset[1:]
}
