package bot

import (
	"context"
	"fmt"
	"strings"

	errors "github.com/Laisky/errors/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/db"
	"github.com/nabd/blood-bot/internal/models"
	"github.com/nabd/blood-bot/internal/notify"
	"github.com/nabd/blood-bot/internal/requests"
)

const shortIDLen = 8

// Service is the part of the request lifecycle the console drives.
type Service interface {
	List(ctx context.Context) []models.BloodRequest
	Resolve(ctx context.Context, idOrPrefix string) (models.BloodRequest, error)
	MarkSent(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)
	MarkFulfilled(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)
	Cancel(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)
	Actions(s models.RequestStatus) []models.Action
	ShareLink(ctx context.Context, r models.BloodRequest) string
	Config(ctx context.Context) models.AppConfig
}

// Sender delivers replies. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot is the operator console: coordinators manage stored requests from
// Telegram.
type Bot struct {
	api            *tgbotapi.BotAPI
	sender         Sender
	svc            Service
	coordinatorIDs []int64
	logger         *zap.Logger
}

type Config struct {
	Token          string
	CoordinatorIDs []int64
}

func New(cfg Config, svc Service, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bot")
	}

	logger.Info("operator bot authorized", zap.String("username", api.Self.UserName))
	if len(cfg.CoordinatorIDs) == 0 {
		logger.Warn("no coordinator ids configured, every command will be refused")
	}

	b := NewWithSender(api, cfg.CoordinatorIDs, svc, logger)
	b.api = api
	return b, nil
}

// NewWithSender builds a console that replies through sender and has no
// update source of its own.
func NewWithSender(sender Sender, coordinatorIDs []int64, svc Service, logger *zap.Logger) *Bot {
	return &Bot{
		sender:         sender,
		svc:            svc,
		coordinatorIDs: coordinatorIDs,
		logger:         logger,
	}
}

// Run long-polls Telegram until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot has no update source")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.sendMessage(msg.Chat.ID, "Use /help to see available commands.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		b.sendMessage(chatID, helpText)
		return
	}

	if !b.isCoordinator(msg.From.ID) {
		b.sendMessage(chatID, "Only coordinators can use this bot.")
		return
	}

	switch msg.Command() {
	case "list":
		b.handleList(ctx, chatID)
	case "send":
		b.handleAction(ctx, chatID, msg.CommandArguments(), "send", b.svc.MarkSent)
	case "done":
		b.handleAction(ctx, chatID, msg.CommandArguments(), "done", b.svc.MarkFulfilled)
	case "cancel":
		b.handleAction(ctx, chatID, msg.CommandArguments(), "cancel", b.svc.Cancel)
	case "link":
		b.handleLink(ctx, chatID, msg.CommandArguments())
	case "config":
		b.handleConfig(ctx, chatID)
	default:
		b.sendMessage(chatID, "Unknown command. Use /help to see available commands.")
	}
}

const helpText = "Nabd operator console\n\n" +
	"/list - Open requests\n" +
	"/send <id> - Post a request to the donor channel\n" +
	"/done <id> - Mark a request as fulfilled\n" +
	"/cancel <id> - Cancel a request\n" +
	"/link <id> - WhatsApp share link\n" +
	"/config - Show channel settings\n" +
	"/help - Show this help message\n\n" +
	"An id may be shortened to any unique prefix."

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	var open []models.BloodRequest
	for _, r := range b.svc.List(ctx) {
		if !r.Status.IsTerminal() {
			open = append(open, r)
		}
	}

	if len(open) == 0 {
		b.sendMessage(chatID, "No open requests at the moment.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 OPEN REQUESTS (%d)\n\n", len(open)))

	for _, r := range open {
		id := shortID(r.ID)
		sb.WriteString(fmt.Sprintf("━━━ %s • %s", id, r.Status))
		if r.Analysis != nil {
			sb.WriteString(fmt.Sprintf(" • %s", r.Analysis.Urgency))
		}
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s • %s\n", r.HospitalName, requirements(r)))

		var actions []string
		for _, a := range b.svc.Actions(r.Status) {
			actions = append(actions, fmt.Sprintf("/%s %s", command(a), id))
		}
		sb.WriteString("→ " + strings.Join(actions, "  ") + "\n\n")
	}

	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handleAction(ctx context.Context, chatID int64, args, name string,
	fn func(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error)) {
	r, ok := b.resolve(ctx, chatID, args, name)
	if !ok {
		return
	}

	updated, err := fn(ctx, r)
	if err != nil {
		b.logger.Warn("operator action failed",
			zap.String("action", name),
			zap.String("id", r.ID),
			zap.Error(err))
		b.sendMessage(chatID, fmt.Sprintf("Could not %s request %s: %s", name, shortID(r.ID), describe(err)))
		return
	}

	b.sendMessage(chatID, fmt.Sprintf("✅ Request %s is now %s.", shortID(updated.ID), updated.Status))
}

func (b *Bot) handleLink(ctx context.Context, chatID int64, args string) {
	r, ok := b.resolve(ctx, chatID, args, "link")
	if !ok {
		return
	}
	b.sendMessage(chatID, b.svc.ShareLink(ctx, r))
}

func (b *Bot) handleConfig(ctx context.Context, chatID int64) {
	cfg := b.svc.Config(ctx)

	token := "not set"
	if cfg.BotToken != "" {
		token = "set"
	}
	whatsapp := cfg.WhatsAppNumber
	if whatsapp == "" {
		whatsapp = "not set"
	}
	chat := cfg.ChatID
	if chat == "" {
		chat = "not set"
	}

	b.sendMessage(chatID, fmt.Sprintf("⚙️ CHANNEL SETTINGS\n\nBot token: %s\nChat ID: %s\nWhatsApp: %s",
		token, chat, whatsapp))
}

func (b *Bot) resolve(ctx context.Context, chatID int64, args, name string) (models.BloodRequest, bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		b.sendMessage(chatID, fmt.Sprintf("Usage: /%s <request_id>", name))
		return models.BloodRequest{}, false
	}

	r, err := b.svc.Resolve(ctx, args)
	if err != nil {
		b.sendMessage(chatID, fmt.Sprintf("Request %s: %s", args, describe(err)))
		return models.BloodRequest{}, false
	}
	return r, true
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("error sending message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) isCoordinator(userID int64) bool {
	for _, id := range b.coordinatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func describe(err error) string {
	var verr *requests.ValidationError
	var derr *notify.DeliveryError

	switch {
	case errors.Is(err, db.ErrNotFound):
		return "not found"
	case errors.Is(err, requests.ErrAmbiguousID):
		return "several requests match, use a longer id"
	case errors.Is(err, models.ErrForbiddenTransition):
		return "not allowed in its current status"
	case errors.Is(err, notify.ErrNotConfigured):
		return "bot token or chat id is not configured"
	case errors.As(err, &derr):
		return derr.Error()
	case errors.As(err, &verr):
		return verr.Error()
	default:
		return "internal error"
	}
}

func command(a models.Action) string {
	if a == models.ActionFulfill {
		return "done"
	}
	return string(a)
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func requirements(r models.BloodRequest) string {
	if len(r.Details) == 0 {
		return fmt.Sprintf("%s ×%d", r.BloodType, r.TotalQuantity())
	}
	parts := make([]string, 0, len(r.Details))
	for _, d := range r.Details {
		parts = append(parts, fmt.Sprintf("%s ×%d", d.BloodType, d.Quantity))
	}
	return strings.Join(parts, ", ")
}
