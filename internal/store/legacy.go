package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The legacy layout is the one the JSON files had before tenants, stable
// ids and RFC 3339 timestamps: history values are unix seconds, alerts use
// user_id/crypto/price, and configs keys tenants by id at the top level next
// to rss_interval_minutes. Records converted from it get ids derived from
// their content, so reloading the same file yields the same ids.

var legacyNamespace = uuid.MustParse("6f1c7c1e-2b6a-4d8e-9a44-7d0f3f1f5a21")

func legacyID(parts ...string) string {
	return uuid.NewSHA1(legacyNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

// isEmptyDoc reports whether data is an empty JSON object or array.
func isEmptyDoc(data []byte) bool {
	d := bytes.TrimSpace(data)
	return bytes.Equal(d, []byte("{}")) || bytes.Equal(d, []byte("[]"))
}

// decodeHistory accepts RFC 3339 strings and unix seconds as values.
func decodeHistory(data []byte) (h History, legacy bool, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, err
	}
	h = make(History, len(raw))
	for id, v := range raw {
		var ts time.Time
		if err := json.Unmarshal(v, &ts); err == nil {
			h[id] = ts
			continue
		}
		var secs float64
		if err := json.Unmarshal(v, &secs); err != nil {
			return nil, false, fmt.Errorf("history entry %q: %w", id, err)
		}
		whole, frac := math.Modf(secs)
		h[id] = time.Unix(int64(whole), int64(frac*1e9)).UTC()
		legacy = true
	}
	return h, legacy, nil
}

type alertRecord struct {
	Alert
	UserID json.Number `json:"user_id"`
	Crypto string      `json:"crypto"`
	Price  *float64    `json:"price"`
}

// decodeAlerts reads current and legacy alert records. Records that could
// never fire or never be removed (no owner, no asset, unknown condition,
// non-positive target) are returned in dropped instead.
func decodeAlerts(data []byte) (alerts []Alert, legacy bool, dropped []string, err error) {
	var recs []alertRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, false, nil, err
	}

	for i, r := range recs {
		a := r.Alert
		if a.Owner == "" && r.UserID != "" {
			a.Owner = r.UserID.String()
			legacy = true
		}
		if a.Asset == "" && r.Crypto != "" {
			a.Asset = strings.ToLower(strings.TrimSpace(r.Crypto))
			legacy = true
		}
		if a.Target == 0 && r.Price != nil {
			a.Target = *r.Price
			legacy = true
		}
		cond, ok := ParseCondition(string(a.Condition))
		if ok && cond != a.Condition {
			legacy = true
		}
		a.Condition = cond

		switch {
		case a.Owner == "":
			dropped = append(dropped, fmt.Sprintf("#%d: no owner", i))
			continue
		case a.Asset == "":
			dropped = append(dropped, fmt.Sprintf("#%d: no asset", i))
			continue
		case !ok:
			dropped = append(dropped, fmt.Sprintf("#%d: condition %q", i, r.Condition))
			continue
		case math.IsNaN(a.Target) || math.IsInf(a.Target, 0) || a.Target <= 0:
			dropped = append(dropped, fmt.Sprintf("#%d: target %v", i, a.Target))
			continue
		}
		if a.ID == "" {
			a.ID = legacyID("alert", strconv.Itoa(i), a.Owner, a.Asset, string(a.Condition), strconv.FormatFloat(a.Target, 'f', -1, 64))
			legacy = true
		}
		alerts = append(alerts, a)
	}
	return alerts, legacy, dropped, nil
}

type legacyFeed struct {
	URL       string      `json:"url"`
	Keywords  []string    `json:"keywords"`
	ChannelID json.Number `json:"channel_id"`
}

type legacyTenant struct {
	ChannelID      json.Number                    `json:"channel_id"`
	Feeds          []legacyFeed                   `json:"rss_feeds"`
	FeedLimit      int                            `json:"rss_feed_limit"`
	AdminRoles     []json.Number                  `json:"admin_roles"`
	ChannelConfigs map[string]DestinationSettings `json:"channel_configs"`
}

// decodeConfig reads the current configs document, or the legacy one when
// there is no "tenants" key.
func decodeConfig(data []byte) (doc configDoc, legacy bool, err error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return configDoc{}, false, err
	}
	if _, ok := top["tenants"]; ok || len(top) == 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return configDoc{}, false, err
		}
		return doc, false, nil
	}

	doc.Tenants = make(map[string]*TenantConfig)
	for key, raw := range top {
		if key == "rss_interval_minutes" {
			if err := json.Unmarshal(raw, &doc.FeedIntervalMinutes); err != nil {
				return configDoc{}, false, fmt.Errorf("rss_interval_minutes: %w", err)
			}
			continue
		}
		var lt legacyTenant
		if err := json.Unmarshal(raw, &lt); err != nil {
			return configDoc{}, false, fmt.Errorf("tenant %s: %w", key, err)
		}
		doc.Tenants[key] = lt.convert(key)
	}
	return doc, true, nil
}

func (lt legacyTenant) convert(id string) *TenantConfig {
	t := &TenantConfig{
		ID:                 id,
		DefaultDestination: lt.ChannelID.String(),
		FeedLimit:          lt.FeedLimit,
	}
	for i, f := range lt.Feeds {
		t.Feeds = append(t.Feeds, FeedSubscription{
			ID:          legacyID("feed", id, strconv.Itoa(i), f.URL),
			URL:         f.URL,
			Destination: f.ChannelID.String(),
			Keywords:    f.Keywords,
		})
	}
	for _, r := range lt.AdminRoles {
		t.Managers = append(t.Managers, r.String())
	}
	if len(lt.ChannelConfigs) > 0 {
		t.Destinations = lt.ChannelConfigs
	}
	return t
}
