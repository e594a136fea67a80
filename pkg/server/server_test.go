package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/pulsebot/internal/admission"
	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/price"
)

type fakeScheduler struct {
	ready bool
	feed  time.Duration
}

func (f *fakeScheduler) Ready() bool                   { return f.ready }
func (f *fakeScheduler) FeedInterval() time.Duration  { return f.feed }
func (f *fakeScheduler) PriceInterval() time.Duration { return time.Minute }
func (f *fakeScheduler) SetFeedInterval(ctx context.Context, d time.Duration) error {
	if d < admission.MinPollInterval {
		return admission.ErrIntervalTooShort
	}
	f.feed = d
	return nil
}

type fakeQuotes map[string]price.Quote

func (f fakeQuotes) Quote(ctx context.Context, id string) (price.Quote, error) {
	if id == "down" {
		return price.Quote{}, errors.New("upstream 500")
	}
	q, ok := f[id]
	if !ok {
		return price.Quote{}, price.ErrNoQuote
	}
	return q, nil
}

type knownAssets map[string]bool

func (k knownAssets) Exists(ctx context.Context, id string) (bool, error) { return k[id], nil }

type testAPI struct {
	handler http.Handler
	sched   *fakeScheduler
	store   *store.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.New(store.NewMemory(), zerolog.Nop(), store.WithSaveRetries(0))
	require.NoError(t, st.Load(context.Background()))
	svc := admission.New(st, knownAssets{"bitcoin": true}, zerolog.Nop())
	sched := &fakeScheduler{feed: 10 * time.Minute}
	quotes := fakeQuotes{"bitcoin": {USD: 51000, Change24h: -1.234, MarketCap: 1e12, Volume24h: 2e10}}

	srv := New(svc, sched, quotes, zerolog.Nop(), "")
	return &testAPI{handler: srv.Handler(), sched: sched, store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body := api.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", body["status"])

	api.sched.ready = true
	code, _ = api.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pulsebot_active_alerts")
}

func TestFeedLifecycle(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, http.MethodPost, "/api/v1/tenants/g1/feeds", gin.H{"url": "https://go.dev/blog/feed.atom"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "no destination")

	code, _ = api.do(t, http.MethodPut, "/api/v1/tenants/g1/destination", gin.H{"destination": "c1"})
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(t, http.MethodPut, "/api/v1/tenants/g1/limit", gin.H{"limit": 1})
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPost, "/api/v1/tenants/g1/feeds", gin.H{"url": "https://go.dev/blog/feed.atom"})
	require.Equal(t, http.StatusCreated, code)

	code, body = api.do(t, http.MethodPost, "/api/v1/tenants/g1/feeds", gin.H{"url": "https://a.dev/feed"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "limit of 1 feeds")

	code, _ = api.do(t, http.MethodPost, "/api/v1/tenants/g1/feeds/1/keywords", gin.H{"keyword": "generics"})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = api.do(t, http.MethodPost, "/api/v1/tenants/g1/feeds/1/keywords", gin.H{"keyword": "Generics"})
	assert.Equal(t, http.StatusConflict, code)

	code, body = api.do(t, http.MethodGet, "/api/v1/tenants/g1", nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "c1", data["default_destination"])
	assert.Len(t, data["feeds"], 1)
	assert.Equal(t, 10.0, body["feed_interval_minutes"])

	code, _ = api.do(t, http.MethodDelete, "/api/v1/tenants/g1/feeds/1/keywords/GENERICS", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodDelete, "/api/v1/tenants/g1/feeds/2", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = api.do(t, http.MethodDelete, "/api/v1/tenants/g1/feeds/1", nil)
	assert.Equal(t, http.StatusOK, code)

	tc, _ := api.store.Tenant("g1")
	assert.Empty(t, tc.Feeds)
}

func TestManagerPermission(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, http.MethodPut, "/api/v1/tenants/g1/destination", gin.H{"destination": "c1"},
		headerActor, "user:7")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.do(t, http.MethodPost, "/api/v1/tenants/g1/managers/role:mods", nil,
		headerActor, "user:1", headerAdmin, "true")
	require.Equal(t, http.StatusCreated, code)

	code, _ = api.do(t, http.MethodPut, "/api/v1/tenants/g1/destination", gin.H{"destination": "c1"},
		headerActor, "user:7", headerRoles, "role:users, role:mods")
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPost, "/api/v1/tenants/g1/managers/role:mods", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestDestinationSettings(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, http.MethodPut, "/api/v1/tenants/g1/destinations/c9", gin.H{"limit": 2, "allow_multiple": false})
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, 2.0, data["limit"])
	assert.Equal(t, false, data["allow_multiple"])

	code, _ = api.do(t, http.MethodPut, "/api/v1/tenants/g1/destinations/c9", gin.H{"limit": -1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAlertEndpoints(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, http.MethodPost, "/api/v1/alerts", gin.H{
		"owner": "u1", "asset": "Bitcoin", "condition": ">", "target": 50000,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "I will notify you when bitcoin is > $50,000.00", body["message"])

	code, _ = api.do(t, http.MethodPost, "/api/v1/alerts", gin.H{
		"owner": "u1", "asset": "nocoin", "condition": ">", "target": 1,
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = api.do(t, http.MethodGet, "/api/v1/alerts?owner=u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])

	code, _ = api.do(t, http.MethodDelete, "/api/v1/alerts/0?owner=u2", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = api.do(t, http.MethodDelete, "/api/v1/alerts/5?owner=u1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = api.do(t, http.MethodDelete, "/api/v1/alerts/0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = api.do(t, http.MethodDelete, "/api/v1/alerts/0?owner=u1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, api.store.Alerts())
}

func TestIntervals(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, http.MethodPut, "/api/v1/intervals/feed", gin.H{"minutes": 3})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(t, http.MethodPut, "/api/v1/intervals/feed", gin.H{"minutes": 30}, headerActor, "user:7")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.do(t, http.MethodPut, "/api/v1/intervals/feed", gin.H{"minutes": 30})
	require.Equal(t, http.StatusOK, code)

	code, body := api.do(t, http.MethodGet, "/api/v1/intervals", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 30.0, body["feed_minutes"])
	assert.Equal(t, 60.0, body["price_seconds"])
}

func TestPrice(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, http.MethodGet, "/api/v1/price/BITCOIN", nil)
	require.Equal(t, http.StatusOK, code)
	display := body["display"].(map[string]any)
	assert.Equal(t, "$51,000.00", display["price"])
	assert.Equal(t, "-1.23%", display["change_24h"])
	assert.Equal(t, "Bitcoin", body["name"])

	code, _ = api.do(t, http.MethodGet, "/api/v1/price/nocoin", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = api.do(t, http.MethodGet, "/api/v1/price/down", nil)
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, statusFor(admission.ErrNotOwner))
	assert.Equal(t, http.StatusBadGateway, statusFor(admission.ErrUpstreamUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk")))
}
