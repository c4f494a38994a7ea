package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"diet-planner/internal/shopping"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

// Sender is the part of the Telegram API the sharer needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sharer posts shopping lists to Telegram chats.
type Sharer struct {
	api    Sender
	logger *slog.Logger
}

// NewSharer authorizes the bot token and returns a Sharer using it.
func NewSharer(token string, logger *slog.Logger) (*Sharer, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "account", bot.Self.UserName)
	return NewSharerWithSender(bot, logger), nil
}

// NewSharerWithSender returns a Sharer sending through api.
func NewSharerWithSender(api Sender, logger *slog.Logger) *Sharer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sharer{api: api, logger: logger}
}

// ShareList sends the list to chatID, split over as many messages as needed.
func (s *Sharer) ShareList(ctx context.Context, list *shopping.ShoppingList, categories []shopping.StoreCategory, chatID int64) error {
	for i, part := range formatListMarkdownParts(list, categories) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := s.api.Send(msg); err != nil {
			return fmt.Errorf("failed to send part %d to chat %d: %w", i+1, chatID, err)
		}
	}
	s.logger.Info("shopping list shared", "shopping_list_id", list.ID, "chat_id", chatID)
	return nil
}

func formatListMarkdownParts(list *shopping.ShoppingList, categories []shopping.StoreCategory) []string {
	lines := []string{
		"🛒 *Shopping List*",
		fmt.Sprintf("_Week of %s_", list.WeekStart.Format("2006-01-02")),
	}

	for _, sec := range shopping.GroupByCategory(list, categories, true) {
		lines = append(lines, "", fmt.Sprintf("*%s*", escape(sec.DisplayName)))
		for _, it := range sec.Items {
			mark := "▫️"
			if it.Checked {
				mark = "✅"
			}
			lines = append(lines, fmt.Sprintf("%s %s - %s %s", mark, escape(it.Name), shopping.FormatQuantity(it.Quantity), escape(it.Unit)))
		}
	}

	lines = append(lines, "", fmt.Sprintf("📋 %d/%d items checked", list.CheckedCount(), len(list.Items)))
	if list.EstimatedBudget != nil {
		budget := fmt.Sprintf("💶 Estimated budget: %.2f", *list.EstimatedBudget)
		if list.BudgetExtrapolated {
			budget += " _(extrapolated)_"
		}
		lines = append(lines, budget)
	}

	var parts []string
	var sb strings.Builder
	for _, line := range lines {
		if sb.Len() > 0 && sb.Len()+len(line)+1 > maxMessageLen {
			parts = append(parts, strings.TrimSpace(sb.String()))
			sb.Reset()
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if sb.Len() > 0 {
		parts = append(parts, strings.TrimSpace(sb.String()))
	}
	return parts
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
