package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const (
	// telegramMaxText is the message length limit of the Bot API
	telegramMaxText = 4096
	// telegramPace is the pause between consecutive messages of one event
	telegramPace = 200 * time.Millisecond
)

// telegramSender is the part of *tele.Bot used for delivery
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramChannel sends HTML messages to one chat through a bot. New issues go out in a
// single message, every updated issue gets its own.
type TelegramChannel struct {
	bot     telegramSender
	chat    *tele.Chat
	links   Linker
	limiter *rate.Limiter
}

// NewTelegramChannel creates a Telegram channel. An empty token or chat ID leaves it
// unconfigured.
func NewTelegramChannel(token string, chatID int64, links Linker) (*TelegramChannel, error) {
	channel := &TelegramChannel{
		links:   links,
		limiter: rate.NewLimiter(rate.Every(telegramPace), 1),
	}
	if token == "" || chatID == 0 {
		return channel, nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	channel.bot = bot
	channel.chat = &tele.Chat{ID: chatID}

	return channel, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, event Event) error {
	if c.bot == nil {
		return ErrNotConfigured
	}

	for _, text := range c.messages(event) {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
		if _, err := c.bot.Send(c.chat, text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		}); err != nil {
			return fmt.Errorf("failed to send telegram message: %w", err)
		}
	}

	return nil
}

func (c *TelegramChannel) messages(event Event) []string {
	m := htmlMarkup
	filterURL := c.links.FilterURL(event.FilterID)

	switch event.Kind {
	case KindLaunch:
		return []string{fmt.Sprintf("%s %s\n%s\n%s", m.bold("Watch started"), m.italic(m.escape(event.Version)), m.escape(filterURL), m.escape(launchText(event)))}
	case KindTermination:
		return []string{fmt.Sprintf("%s %s\n%s\n%s", m.bold("Watch stopped"), m.italic(m.escape(event.Version)), m.escape(filterURL), m.escape(terminationText(event)))}
	}

	var messages []string
	changes := event.Changes

	if len(changes.NewIssues) > 0 {
		lines := []string{m.bold(fmt.Sprintf("New issues (%d)", len(changes.NewIssues)))}
		for _, issue := range changes.NewIssues {
			lines = append(lines, "", m.newIssue(c.links, issue))
		}
		messages = append(messages, fitLines(lines, telegramMaxText))
	}

	for i, detail := range changes.UpdatedIssues {
		lines := append([]string{m.bold(fmt.Sprintf("Updated issue (%d/%d)", i+1, len(changes.UpdatedIssues))), ""}, m.updatedIssueLines(c.links, detail)...)
		messages = append(messages, fitLines(lines, telegramMaxText))
	}

	return messages
}
