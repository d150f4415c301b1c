// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/abelzeko/water-balance/internal/entities"
	"github.com/abelzeko/water-balance/internal/treemap"
	"github.com/abelzeko/water-balance/internal/usecases"
)

// maxMessageLength stays below Telegram's 4096 character limit.
const maxMessageLength = 4000

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	service    WaterBalanceService
	logger     *log.Logger
	dateLayout string
	now        func() time.Time
}

// NewTelegramBot creates a new Telegram bot handler
func NewTelegramBot(botToken string, service WaterBalanceService, dateLayout string, logger *log.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramBot(bot, service, dateLayout, logger), nil
}

func newTelegramBot(bot *tgbotapi.BotAPI, service WaterBalanceService, dateLayout string, logger *log.Logger) *TelegramBot {
	if logger == nil {
		logger = log.Default()
	}
	if dateLayout == "" {
		dateLayout = "2006-01-02"
	}
	return &TelegramBot{
		bot:        bot,
		service:    service,
		logger:     logger,
		dateLayout: dateLayout,
		now:        time.Now,
	}
}

// Start begins listening for and handling Telegram messages until ctx is done
func (t *TelegramBot) Start(ctx context.Context) {
	t.logger.Infof("Authorized on Telegram account %s", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("Bot is now listening for messages...")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			t.logger.Debug("Received message",
				"user", update.Message.From.UserName,
				"user_id", update.Message.From.ID,
				"text", update.Message.Text)
			t.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage answers a single Telegram message
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	msg := tgbotapi.NewMessage(message.Chat.ID, truncate(t.respond(ctx, message), maxMessageLength))

	t.logger.Debug("Sending response", "user", message.From.UserName)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("Error sending message", "err", err)
	}
}

// respond returns the reply text for message
func (t *TelegramBot) respond(ctx context.Context, message *tgbotapi.Message) string {
	if !message.IsCommand() {
		reply, err := t.service.HandleNaturalLanguageQuery(ctx, message.Text)
		if err != nil {
			t.logger.Error("Error handling free-text message", "err", err)
			return "I don't understand. Use /help to see available commands."
		}
		return reply
	}

	switch message.Command() {
	case "start":
		return t.startText()
	case "help":
		return helpText
	case "balance":
		return t.handleBalanceCommand(ctx, message.CommandArguments())
	case "tree":
		return t.handleTreeCommand(ctx, message.CommandArguments())
	default:
		t.logger.Debug("Unknown command", "command", message.Command())
		return "Unknown command. Use /help to see available commands."
	}
}

const helpText = "Available commands:\n" +
	"/start - Start the bot\n" +
	"/balance [group] [date] - Show water-balance totals for a group\n" +
	"/tree [group] [date] - Show the full water-balance tree\n" +
	"/help - Show this help message\n\n" +
	"The date defaults to today. You can also just ask in plain words."

func (t *TelegramBot) startText() string {
	var b strings.Builder
	b.WriteString("Welcome to the Water Balance bot! Use /help for more information.")
	if groups := t.service.KnownGroups(); len(groups) > 0 {
		b.WriteString("\n\nKnown groups:\n")
		for _, g := range groups {
			b.WriteString("• " + g + "\n")
		}
	}
	return b.String()
}

// parseArgs splits "<group> [date]". The group may contain spaces; the last
// word is taken as the date when it parses in the configured layout.
func (t *TelegramBot) parseArgs(args string) (entities.WaterBalanceQuery, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return entities.WaterBalanceQuery{}, false
	}

	date := t.now().Format(t.dateLayout)
	if len(fields) > 1 {
		if _, err := time.Parse(t.dateLayout, fields[len(fields)-1]); err == nil {
			date = fields[len(fields)-1]
			fields = fields[:len(fields)-1]
		}
	}
	return entities.WaterBalanceQuery{GroupName: strings.Join(fields, " "), StatDate: date}, true
}

func (t *TelegramBot) handleBalanceCommand(ctx context.Context, args string) string {
	q, ok := t.parseArgs(args)
	if !ok {
		return "Please specify a group. Example: /balance plant-a 2024-05-01"
	}

	result, err := t.service.BuildTreemap(ctx, q, false)
	if err != nil {
		return t.errorText(q, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💧 Water balance for %s on %s\n\n", q.GroupName, q.StatDate)
	for _, node := range result.Tree.Children {
		fmt.Fprintf(&b, "• %s: %s\n", node.Name, treemap.FormatValue(node.Value))
	}
	fmt.Fprintf(&b, "\nTotal: %s\nNodes: %d, depth: %d\n",
		result.Summary.TotalVolume.String(), result.Summary.Nodes, result.Summary.Depth)

	if len(result.Summary.Imbalances) > 0 {
		b.WriteString("\n⚠️ Imbalances:\n")
		for _, im := range result.Summary.Imbalances {
			fmt.Fprintf(&b, "• %s: %s vs children %s (diff %s)\n",
				im.Name, im.Value.String(), im.ChildrenSum.String(), im.Difference().String())
		}
	}
	if result.Cached {
		b.WriteString("\n🕒 From cache")
	}
	return b.String()
}

func (t *TelegramBot) handleTreeCommand(ctx context.Context, args string) string {
	q, ok := t.parseArgs(args)
	if !ok {
		return "Please specify a group. Example: /tree plant-a 2024-05-01"
	}

	result, err := t.service.BuildTreemap(ctx, q, false)
	if err != nil {
		return t.errorText(q, err)
	}
	return t.service.FormatTreemap(result.Tree)
}

func (t *TelegramBot) errorText(q entities.WaterBalanceQuery, err error) string {
	t.logger.Error("Error fetching water balance", "group", q.GroupName, "date", q.StatDate, "err", err)
	if errors.Is(err, usecases.ErrQueryUnsuccessful) {
		return fmt.Sprintf("No water-balance data for '%s' on %s.", q.GroupName, q.StatDate)
	}
	return "Error fetching water-balance data. Please try again later."
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
