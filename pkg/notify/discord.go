package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const discordAPI = "https://discord.com/api/v10"

// Discord posts embeds through the Discord bot REST API. Destinations are
// channel ids, identities are user ids (reached through a DM channel).
type Discord struct {
	client  *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter

	mu         sync.Mutex
	dmChannels map[string]string
}

// NewDiscord creates a new Discord notifier for a bot token.
func NewDiscord(token string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		baseURL:    discordAPI,
		token:      token,
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		dmChannels: make(map[string]string),
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) DeliverToDestination(ctx context.Context, destination string, n *Notification) error {
	return d.postMessage(ctx, destination, n)
}

func (d *Discord) DeliverToIdentity(ctx context.Context, identity string, n *Notification) error {
	channelID, err := d.dmChannel(ctx, identity)
	if err != nil {
		return err
	}
	return d.postMessage(ctx, channelID, n)
}

func (d *Discord) dmChannel(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	id, ok := d.dmChannels[userID]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	var channel struct {
		ID string `json:"id"`
	}
	if err := d.do(ctx, "/users/@me/channels", map[string]any{"recipient_id": userID}, &channel); err != nil {
		return "", fmt.Errorf("open dm with %s: %w", userID, err)
	}

	d.mu.Lock()
	d.dmChannels[userID] = channel.ID
	d.mu.Unlock()
	return channel.ID, nil
}

func (d *Discord) postMessage(ctx context.Context, channelID string, n *Notification) error {
	if channelID == "" || channelID == "." || channelID == ".." {
		return fmt.Errorf("discord channel %q: %w", channelID, ErrNotFound)
	}
	color := 0x3498DB
	if n.Kind == KindPrice {
		color = 0xF1C40F
	}

	embed := map[string]any{
		"title":       Truncate(n.Title, 256),
		"description": Truncate(n.Body, 4096),
		"color":       color,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if n.URL != "" {
		embed["url"] = n.URL
	}
	if n.Footer != "" {
		embed["footer"] = map[string]any{"text": Truncate(n.Footer, 2048)}
	}
	if n.ImageURL != "" {
		embed["image"] = map[string]any{"url": n.ImageURL}
	}
	if len(n.Fields) > 0 {
		fields := make([]map[string]any, 0, len(n.Fields))
		for _, f := range n.Fields {
			fields = append(fields, map[string]any{"name": f.Name, "value": f.Value, "inline": true})
		}
		embed["fields"] = fields
	}

	payload := map[string]any{
		"embeds": []map[string]any{embed},
	}
	if err := d.do(ctx, "/channels/"+url.PathEscape(channelID)+"/messages", payload, nil); err != nil {
		return fmt.Errorf("post to channel %s: %w", channelID, err)
	}
	return nil
}

func (d *Discord) do(ctx context.Context, path string, payload any, out any) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrUnreachable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("discord status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode discord response: %w", err)
		}
	}
	return nil
}
