package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUSD(t *testing.T) {
	assert.Equal(t, "$51,000.00", USD(51000))
	assert.Equal(t, "$0.50", USD(0.5))
	assert.Equal(t, "$1,234,567.89", USD(1234567.891))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Hello world", PlainText("<p>Hello</p>   <b>world</b>"))
	assert.Equal(t, "", PlainText(""))
	assert.Equal(t, "Tom & Jerry <3", PlainText("<p>Tom &amp; Jerry &lt;3</p>"))
	assert.Equal(t, "<b>Tom &amp; Jerry &lt;3</b>", telegramText(&Notification{Title: PlainText("Tom &amp; Jerry &lt;3")}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "this is...", Truncate("this is a long string", 10))
	assert.Equal(t, "こん...", Truncate("こんにちは世界です", 5))
}

func TestDiscordDeliverToDestination(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/123/messages", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := NewDiscord("secret")
	d.baseURL = srv.URL

	err := d.DeliverToDestination(context.Background(), "123", &Notification{
		Kind:     KindArticle,
		Title:    "Go 1.25",
		Body:     "released",
		URL:      "https://go.dev",
		ImageURL: "https://go.dev/gopher.png",
		Footer:   "Go Blog",
	})
	require.NoError(t, err)

	embeds := got["embeds"].([]any)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "Go 1.25", embed["title"])
	assert.Equal(t, "https://go.dev", embed["url"])
	assert.Equal(t, "Go Blog", embed["footer"].(map[string]any)["text"])
	assert.Equal(t, "https://go.dev/gopher.png", embed["image"].(map[string]any)["url"])
}

func TestDiscordDeliverToIdentityCachesDMChannel(t *testing.T) {
	var opened atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/@me/channels":
			opened.Add(1)
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"recipient_id":"42"`)
			w.Write([]byte(`{"id":"dm-42"}`))
		case "/channels/dm-42/messages":
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	d := NewDiscord("secret")
	d.baseURL = srv.URL

	n := &Notification{Kind: KindPrice, Title: "Price Alert!"}
	require.NoError(t, d.DeliverToIdentity(context.Background(), "42", n))
	require.NoError(t, d.DeliverToIdentity(context.Background(), "42", n))
	assert.Equal(t, int32(1), opened.Load())
}

func TestDiscordMapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "missing"):
			w.WriteHeader(http.StatusNotFound)
		case strings.Contains(r.URL.Path, "locked"):
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := NewDiscord("secret")
	d.baseURL = srv.URL
	ctx := context.Background()
	n := &Notification{Title: "x"}

	assert.ErrorIs(t, d.DeliverToDestination(ctx, "missing", n), ErrNotFound)
	assert.ErrorIs(t, d.DeliverToDestination(ctx, "locked", n), ErrUnreachable)

	err := d.DeliverToDestination(ctx, "broken", n)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "status 500")
}

func TestDiscordEscapesChannelID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := NewDiscord("secret")
	d.baseURL = srv.URL
	ctx := context.Background()
	n := &Notification{Title: "x"}

	require.NoError(t, d.DeliverToDestination(ctx, "1/../../guilds/9", n))
	assert.Equal(t, []string{"/channels/1%2F..%2F..%2Fguilds%2F9/messages"}, paths)

	assert.ErrorIs(t, d.DeliverToDestination(ctx, "..", n), ErrNotFound)
	assert.ErrorIs(t, d.DeliverToDestination(ctx, "", n), ErrNotFound)
	assert.Len(t, paths, 1, "rejected ids make no request")
}

func TestWebhookSignsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "sha256="+Sign("s3cret", body), r.Header.Get("X-Signature-256"))

		var p WebhookPayload
		require.NoError(t, json.Unmarshal(body, &p))
		assert.Equal(t, "chan-1", p.Destination)
		assert.Empty(t, p.Identity)
		assert.Equal(t, "hello", p.Notification.Title)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "s3cret").DeliverToDestination(context.Background(), "chan-1", &Notification{Title: "hello"})
	assert.NoError(t, err)
}

func TestWebhookNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "").DeliverToIdentity(context.Background(), "u1", &Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTelegramSend(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"), r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		text, _ = body["text"].(string)
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram("123:abc", srv.URL)
	require.NoError(t, err)

	err = tg.DeliverToIdentity(context.Background(), "42", &Notification{Title: "A & B", URL: "https://x.dev"})
	require.NoError(t, err)
	assert.Contains(t, text, "<b>A &amp; B</b>")
	assert.Contains(t, text, `href="https://x.dev"`)
}

func TestTelegramChatNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram("123:abc", srv.URL)
	require.NoError(t, err)

	err = tg.DeliverToDestination(context.Background(), "-100", &Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = tg.DeliverToDestination(context.Background(), "not-a-chat", &Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegram(" ", "")
	assert.Error(t, err)
}
