package pricealert

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/price"
)

type fakePrices struct {
	quotes map[string]price.Quote
	err    error
	calls  [][]string
}

func (f *fakePrices) GetPrices(ctx context.Context, ids []string) (map[string]price.Quote, error) {
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func TestEvaluateOnceFiresAndKeeps(t *testing.T) {
	prices := &fakePrices{quotes: map[string]price.Quote{
		"bitcoin":  {USD: 51000},
		"ethereum": {USD: 3000},
	}}
	e := New(prices, zerolog.Nop(), 0)

	alerts := []store.Alert{
		{ID: "a1", Owner: "u1", Asset: "bitcoin", Condition: store.GreaterThan, Target: 50000},
		{ID: "a2", Owner: "u2", Asset: "ethereum", Condition: store.GreaterThan, Target: 3000},
		{ID: "a3", Owner: "u1", Asset: "bitcoin", Condition: store.LessThan, Target: 40000},
		{ID: "a4", Owner: "u3", Asset: "dogecoin", Condition: store.LessThan, Target: 1},
	}
	fired, remaining, err := e.EvaluateOnce(context.Background(), alerts)
	require.NoError(t, err)

	require.Len(t, fired, 1)
	assert.Equal(t, "a1", fired[0].Alert.ID)
	assert.Equal(t, 51000.0, fired[0].Price)

	n := fired[0].Notification
	assert.Equal(t, "Price Alert!", n.Title)
	assert.Equal(t, "Your alert for Bitcoin was triggered.", n.Body)
	assert.Equal(t, "> $50,000.00", n.Fields[0].Value)
	assert.Equal(t, "$51,000.00", n.Fields[1].Value)

	ids := []string{}
	for _, a := range remaining {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a2", "a3", "a4"}, ids)

	require.Len(t, prices.calls, 1, "one batched lookup per cycle")
	assert.Equal(t, []string{"bitcoin", "dogecoin", "ethereum"}, prices.calls[0])
}

func TestEvaluateOnceNoAlertsNoLookup(t *testing.T) {
	prices := &fakePrices{}
	fired, remaining, err := New(prices, zerolog.Nop(), 0).EvaluateOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Empty(t, remaining)
	assert.Empty(t, prices.calls)
}

func TestEvaluateOnceLookupFailure(t *testing.T) {
	prices := &fakePrices{err: errors.New("429")}
	alerts := []store.Alert{{ID: "a1", Asset: "bitcoin", Condition: store.GreaterThan, Target: 1}}

	fired, remaining, err := New(prices, zerolog.Nop(), 0).EvaluateOnce(context.Background(), alerts)
	require.Error(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, alerts, remaining)
}

func TestAssetTitle(t *testing.T) {
	assert.Equal(t, "Bitcoin", AssetTitle("bitcoin"))
	assert.Equal(t, "", AssetTitle(""))
}
