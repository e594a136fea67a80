package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Telegram delivers through the Telegram Bot API. Destinations and
// identities are both numeric chat ids.
type Telegram struct {
	bot *tele.Bot
}

// NewTelegram creates a sender. apiURL may be empty for the public API.
func NewTelegram(token, apiURL string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) DeliverToDestination(ctx context.Context, destination string, n *Notification) error {
	return t.send(ctx, destination, n)
}

func (t *Telegram) DeliverToIdentity(ctx context.Context, identity string, n *Notification) error {
	return t.send(ctx, identity, n)
}

func (t *Telegram) send(ctx context.Context, chat string, n *Notification) error {
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat %q: %w", chat, ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: n.URL == "",
	}
	if _, err := t.bot.Send(tele.ChatID(id), telegramText(n), opts); err != nil {
		return fmt.Errorf("telegram send to %d: %w", id, classifyTelegram(err))
	}
	return nil
}

func classifyTelegram(err error) error {
	switch {
	case errors.Is(err, tele.ErrChatNotFound):
		return ErrNotFound
	case errors.Is(err, tele.ErrBlockedByUser), errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrKickedFromGroup), errors.Is(err, tele.ErrNotStartedByUser):
		return ErrUnreachable
	}
	var terr *tele.Error
	if errors.As(err, &terr) {
		switch {
		case terr.Code == 403:
			return ErrUnreachable
		case terr.Code == 400 && strings.Contains(strings.ToLower(terr.Description), "not found"):
			return ErrNotFound
		}
	}
	return err
}

func telegramText(n *Notification) string {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(n.Title) + "</b>")
	if n.Body != "" {
		b.WriteString("\n\n" + html.EscapeString(Truncate(n.Body, 3000)))
	}
	for _, f := range n.Fields {
		b.WriteString("\n" + html.EscapeString(f.Name) + ": " + html.EscapeString(f.Value))
	}
	if n.URL != "" {
		b.WriteString("\n\n<a href=\"" + html.EscapeString(n.URL) + "\">Read more</a>")
	}
	if n.Footer != "" {
		b.WriteString("\n<i>" + html.EscapeString(n.Footer) + "</i>")
	}
	return b.String()
}
