package admission

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/pulsebot/internal/store"
)

type fakeValidator struct {
	known map[string]bool
	err   error
	calls int
}

func (v *fakeValidator) Exists(ctx context.Context, id string) (bool, error) {
	v.calls++
	if v.err != nil {
		return false, v.err
	}
	return v.known[id], nil
}

func newService(t *testing.T, opts ...Option) (*Service, *store.Store, *store.MemoryBackend) {
	t.Helper()
	b := store.NewMemory()
	st := store.New(b, zerolog.Nop(), store.WithSaveRetries(0))
	require.NoError(t, st.Load(context.Background()))

	v := &fakeValidator{known: map[string]bool{"bitcoin": true, "ethereum": true}}
	svc := New(st, v, zerolog.Nop(), opts...)
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%02d", n)
	}
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, st, b
}

func TestAddFeedRequiresDestination(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddFeedSubscription(ctx, "g1", "https://a.dev/feed", "")
	assert.ErrorIs(t, err, ErrNoDestination)
	_, ok := st.Tenant("g1")
	assert.False(t, ok)

	sub, err := svc.AddFeedSubscription(ctx, "g1", "https://a.dev/feed", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", sub.Destination)
	assert.Equal(t, "id-01", sub.ID)
}

func TestAddFeedRejectsBadURL(t *testing.T) {
	svc, _, _ := newService(t)
	for _, u := range []string{"", "ftp://x", "not a url", "https://"} {
		_, err := svc.AddFeedSubscription(context.Background(), "g1", u, "c1")
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

func TestAddFeedTenantQuota(t *testing.T) {
	svc, st, b := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetDefaultDestination(ctx, "g1", "c1"))
	require.NoError(t, svc.SetFeedLimit(ctx, "g1", 2))
	_, err := svc.AddFeedSubscription(ctx, "g1", "https://a.dev/1", "")
	require.NoError(t, err)
	_, err = svc.AddFeedSubscription(ctx, "g1", "https://a.dev/2", "c2")
	require.NoError(t, err)
	saves := b.Saves(store.TableConfig)

	_, err = svc.AddFeedSubscription(ctx, "g1", "https://a.dev/3", "")
	require.ErrorIs(t, err, ErrTenantQuotaExceeded)
	assert.Contains(t, err.Error(), "limit of 2 feeds")

	got, _ := st.Tenant("g1")
	assert.Len(t, got.Feeds, 2)
	assert.Equal(t, saves, b.Saves(store.TableConfig), "rejections are not persisted")
}

func TestAddFeedDefaultCap(t *testing.T) {
	svc, _, _ := newService(t, WithMaxFeeds(3))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.AddFeedSubscription(ctx, "g1", fmt.Sprintf("https://a.dev/%d", i), "c1")
		require.NoError(t, err)
	}
	_, err := svc.AddFeedSubscription(ctx, "g1", "https://a.dev/x", "c1")
	assert.ErrorIs(t, err, ErrTenantQuotaExceeded)
}

func TestAddFeedDestinationRules(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetDestinationAllowMultiple(ctx, "g1", "solo", false))
	require.NoError(t, svc.SetDestinationLimit(ctx, "g1", "capped", 1))

	_, err := svc.AddFeedSubscription(ctx, "g1", "https://a.dev/1", "solo")
	require.NoError(t, err)
	_, err = svc.AddFeedSubscription(ctx, "g1", "https://a.dev/2", "solo")
	assert.ErrorIs(t, err, ErrMultipleNotAllowed)

	_, err = svc.AddFeedSubscription(ctx, "g1", "https://a.dev/3", "capped")
	require.NoError(t, err)
	_, err = svc.AddFeedSubscription(ctx, "g1", "https://a.dev/4", "capped")
	assert.ErrorIs(t, err, ErrDestinationQuotaExceeded)

	require.NoError(t, svc.SetDestinationLimit(ctx, "g1", "zero", 0))
	_, err = svc.AddFeedSubscription(ctx, "g1", "https://a.dev/5", "zero")
	assert.ErrorIs(t, err, ErrDestinationQuotaExceeded)
}

func TestAddFeedTenantCapCheckedBeforeDestination(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetFeedLimit(ctx, "g1", 1))
	require.NoError(t, svc.SetDestinationAllowMultiple(ctx, "g1", "solo", false))
	_, err := svc.AddFeedSubscription(ctx, "g1", "https://a.dev/1", "solo")
	require.NoError(t, err)

	_, err = svc.AddFeedSubscription(ctx, "g1", "https://a.dev/2", "solo")
	assert.ErrorIs(t, err, ErrTenantQuotaExceeded)
}

func TestRemoveFeedByIndexAndID(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := svc.AddFeedSubscription(ctx, "g1", fmt.Sprintf("https://a.dev/%d", i), "c1")
		require.NoError(t, err)
	}

	_, err := svc.RemoveFeedSubscriptionAt(ctx, "g1", 4)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = svc.RemoveFeedSubscriptionAt(ctx, "g1", 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	removed, err := svc.RemoveFeedSubscriptionAt(ctx, "g1", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://a.dev/2", removed.URL)

	removed, err = svc.RemoveFeedSubscription(ctx, "g1", "id-03")
	require.NoError(t, err)
	assert.Equal(t, "https://a.dev/3", removed.URL)

	_, err = svc.RemoveFeedSubscription(ctx, "g1", "id-99")
	assert.ErrorIs(t, err, ErrNotFound)

	got, _ := st.Tenant("g1")
	require.Len(t, got.Feeds, 1)
	assert.Equal(t, "id-01", got.Feeds[0].ID)
}

func TestKeywords(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.AddFeedSubscription(ctx, "g1", "https://a.dev/feed", "c1")
	require.NoError(t, err)

	require.NoError(t, svc.AddKeyword(ctx, "g1", "1", "Golang"))
	assert.ErrorIs(t, svc.AddKeyword(ctx, "g1", "1", "golang"), ErrKeywordExists)
	assert.ErrorIs(t, svc.AddKeyword(ctx, "g1", "1", "  "), ErrEmptyKeyword)
	assert.ErrorIs(t, svc.AddKeyword(ctx, "g1", "2", "x"), ErrIndexOutOfRange)
	require.NoError(t, svc.AddKeyword(ctx, "g1", "id-01", "rust"))

	kws, err := svc.Keywords("g1", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Golang", "rust"}, kws)

	require.NoError(t, svc.RemoveKeyword(ctx, "g1", "1", "GOLANG"))
	assert.ErrorIs(t, svc.RemoveKeyword(ctx, "g1", "1", "golang"), ErrKeywordNotFound)

	kws, err = svc.Keywords("g1", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, kws)
}

func TestTenantSettings(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetFeedLimit(ctx, "g1", 0), ErrInvalidLimit)
	assert.ErrorIs(t, svc.SetFeedLimit(ctx, "g1", 31), ErrInvalidLimit)
	assert.ErrorIs(t, svc.SetDestinationLimit(ctx, "g1", "c1", -1), ErrInvalidLimit)
	assert.ErrorIs(t, svc.SetPollInterval(ctx, "g1", 4*time.Minute), ErrIntervalTooShort)
	assert.ErrorIs(t, svc.SetDefaultDestination(ctx, "g1", ""), ErrNoDestination)

	require.NoError(t, svc.SetPollInterval(ctx, "g1", 15*time.Minute))
	got, _ := st.Tenant("g1")
	assert.Equal(t, 15, got.PollIntervalMinutes)

	require.NoError(t, svc.SetPollInterval(ctx, "g1", 0))
	got, _ = st.Tenant("g1")
	assert.Zero(t, got.PollIntervalMinutes)
}

func TestManagers(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddManager(ctx, "g1", "role:editors"))
	assert.ErrorIs(t, svc.AddManager(ctx, "g1", "role:editors"), ErrAlreadyManager)
	assert.Equal(t, []string{"role:editors"}, svc.Managers("g1"))

	assert.True(t, svc.CanManage("g1", true))
	assert.True(t, svc.CanManage("g1", false, "user:1", "role:editors"))
	assert.False(t, svc.CanManage("g1", false, "user:1"))
	assert.False(t, svc.CanManage("g2", false, "role:editors"))

	require.NoError(t, svc.RemoveManager(ctx, "g1", "role:editors"))
	assert.ErrorIs(t, svc.RemoveManager(ctx, "g1", "role:editors"), ErrNotManager)
	assert.Empty(t, svc.Managers("g1"))
}

func TestSummaryReportsUnrouted(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, st.UpdateTenant(ctx, "g1", func(tc *store.TenantConfig) error {
		tc.Feeds = []store.FeedSubscription{{ID: "a", URL: "https://a"}, {ID: "b", URL: "https://b", Destination: "c2"}}
		return nil
	}))

	sum := svc.Summary("g1")
	assert.Equal(t, DefaultMaxFeeds, sum.FeedLimit)
	require.Len(t, sum.Feeds, 2)
	assert.Equal(t, 2, sum.Feeds[1].Index)
	assert.Equal(t, "c2", sum.Feeds[1].Destination)
	assert.Equal(t, []int{1}, sum.Unrouted)
}

func TestAddAlert(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	a, err := svc.AddAlert(ctx, "u1", " Bitcoin ", ">", 50000)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", a.Asset)
	assert.Equal(t, store.GreaterThan, a.Condition)
	assert.Len(t, st.Alerts(), 1)

	_, err = svc.AddAlert(ctx, "u1", "notacoin", ">", 1)
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = svc.AddAlert(ctx, "u1", "bitcoin", "=", 1)
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = svc.AddAlert(ctx, "u1", "bitcoin", "<", -5)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	assert.Len(t, st.Alerts(), 1)
}

func TestAddAlertUpstreamDown(t *testing.T) {
	svc, st, _ := newService(t)
	svc.validator = &fakeValidator{err: errors.New("timeout")}

	_, err := svc.AddAlert(context.Background(), "u1", "bitcoin", ">", 1)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Empty(t, st.Alerts())
}

func TestAddAlertChecksAssetBeforeCondition(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.AddAlert(context.Background(), "u1", "notacoin", "=", 1)
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestRemoveAlertOwnership(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AddAlert(ctx, "u1", "bitcoin", ">", 1)
	require.NoError(t, err)
	_, err = svc.AddAlert(ctx, "u2", "ethereum", "<", 1)
	require.NoError(t, err)

	_, err = svc.RemoveAlertAt(ctx, "u2", 0)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = svc.RemoveAlertAt(ctx, "u2", 2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = svc.RemoveAlert(ctx, "u2", "id-01")
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = svc.RemoveAlert(ctx, "u2", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, st.Alerts(), 2)

	listed := svc.ListAlerts("u2")
	require.Len(t, listed, 1)
	assert.Equal(t, 1, listed[0].Index)

	removed, err := svc.RemoveAlertRef(ctx, "u2", "1")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", removed.Asset)

	removed, err = svc.RemoveAlertRef(ctx, "u1", "id-01")
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", removed.Asset)
	assert.Empty(t, st.Alerts())
}
