package admission

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/notify"
	"github.com/elonfeng/pulsebot/pkg/price"
)

// IndexedAlert pairs an alert with its current display index.
type IndexedAlert struct {
	Index int         `json:"index"`
	Alert store.Alert `json:"alert"`
}

// AddAlert creates a one-shot alert after confirming the asset exists
// upstream and the condition parses.
func (s *Service) AddAlert(ctx context.Context, owner, asset, condition string, target float64) (store.Alert, error) {
	asset = price.NormalizeID(asset)
	if asset == "" {
		return store.Alert{}, fmt.Errorf("%w: no asset given", ErrUnknownAsset)
	}

	ok, err := s.validator.Exists(ctx, asset)
	if err != nil {
		s.log.Warn().Err(err).Str("asset", asset).Msg("asset validation failed")
		return store.Alert{}, fmt.Errorf("%w: could not check %q, try again later", ErrUpstreamUnavailable, asset)
	}
	if !ok {
		return store.Alert{}, fmt.Errorf("%w: could not find a cryptocurrency named %q", ErrUnknownAsset, asset)
	}

	cond, ok := store.ParseCondition(condition)
	if !ok {
		return store.Alert{}, fmt.Errorf("%w: %q, use > or <", ErrInvalidCondition, condition)
	}
	if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return store.Alert{}, fmt.Errorf("%w: %v", ErrInvalidTarget, target)
	}

	a := store.Alert{
		ID:        s.newID(),
		Owner:     owner,
		Asset:     asset,
		Condition: cond,
		Target:    target,
		CreatedAt: s.now().UTC(),
	}
	err = s.store.UpdateAlerts(ctx, func(alerts []store.Alert) ([]store.Alert, error) {
		return append(alerts, a), nil
	})
	if err != nil {
		return store.Alert{}, err
	}

	s.log.Info().Str("owner", owner).Str("asset", asset).Str("condition", string(cond)).
		Str("target", notify.USD(target)).Msg("alert added")
	return a, nil
}

// ListAlerts returns owner's alerts with their display indices.
func (s *Service) ListAlerts(owner string) []IndexedAlert {
	var out []IndexedAlert
	for i, a := range s.store.Alerts() {
		if a.Owner == owner {
			out = append(out, IndexedAlert{Index: i, Alert: a})
		}
	}
	return out
}

// RemoveAlertAt removes the alert at a display index (as listed by
// ListAlerts). Only the owner may remove it.
func (s *Service) RemoveAlertAt(ctx context.Context, owner string, index int) (store.Alert, error) {
	var removed store.Alert
	err := s.store.UpdateAlerts(ctx, func(alerts []store.Alert) ([]store.Alert, error) {
		if index < 0 || index >= len(alerts) {
			return nil, fmt.Errorf("%w: there is no alert with index %d", ErrIndexOutOfRange, index)
		}
		if alerts[index].Owner != owner {
			return nil, fmt.Errorf("%w: you can only remove your own alerts", ErrNotOwner)
		}
		removed = alerts[index]
		return append(alerts[:index], alerts[index+1:]...), nil
	})
	return removed, err
}

// RemoveAlert removes an alert by its stable id. Only the owner may remove it.
func (s *Service) RemoveAlert(ctx context.Context, owner, id string) (store.Alert, error) {
	var removed store.Alert
	err := s.store.UpdateAlerts(ctx, func(alerts []store.Alert) ([]store.Alert, error) {
		for i, a := range alerts {
			if a.ID != id {
				continue
			}
			if a.Owner != owner {
				return nil, fmt.Errorf("%w: you can only remove your own alerts", ErrNotOwner)
			}
			removed = a
			return append(alerts[:i], alerts[i+1:]...), nil
		}
		return nil, fmt.Errorf("%w: no alert %q", ErrNotFound, id)
	})
	return removed, err
}

// RemoveAlertRef removes by display index when ref is numeric, else by id.
func (s *Service) RemoveAlertRef(ctx context.Context, owner, ref string) (store.Alert, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		return s.RemoveAlertAt(ctx, owner, n)
	}
	return s.RemoveAlert(ctx, owner, ref)
}
