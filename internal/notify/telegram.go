// Package notify delivers composed requests to the Telegram channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/models"
)

const (
	parseModeMarkdown = "Markdown"
	parseFailure      = "can't parse entities"
	unknownError      = "Unknown error"
)

// ErrNotConfigured means the bot token or chat id is missing
var ErrNotConfigured = errors.New("missing bot token or chat id")

type FailureKind string

const (
	// FormatRejected is only seen internally; it triggers the plain-text retry
	FormatRejected FailureKind = "format_rejected"
	Rejected       FailureKind = "rejected"
	NetworkFailure FailureKind = "network_failure"
)

// DeliveryError carries the provider's description so operators can diagnose it
type DeliveryError struct {
	Kind        FailureKind
	StatusCode  int
	Description string
	Cause       error
}

func (e *DeliveryError) Error() string {
	// the transport error embeds the request URL, which carries the bot token
	if e.Kind == NetworkFailure {
		return "connection to Telegram failed, check network access to the Bot API"
	}
	return fmt.Sprintf("Telegram error: %s", e.Description)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// Result is the outcome of a Send call. Err is nil exactly when Success is true.
type Result struct {
	Success  bool
	Attempts int
	Err      error
}

type sendMessageReq struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewTelegram creates a dispatcher against apiBase (normally https://api.telegram.org).
// A zero timeout keeps the transport default.
func NewTelegram(apiBase string, timeout time.Duration, logger *zap.Logger) *Telegram {
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiBase, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &Telegram{
		httpClient: client,
		logger:     logger,
	}
}

// Send delivers text to cfg.ChatID. Markdown is tried first; a parse failure
// is retried once as plain text with identical text. Failures come back in
// the Result, never as a panic or a separate error.
func (t *Telegram) Send(ctx context.Context, text string, cfg models.AppConfig) Result {
	if !cfg.CanDispatch() {
		return Result{Err: ErrNotConfigured}
	}

	err := t.post(ctx, cfg, text, parseModeMarkdown)
	attempts := 1

	var derr *DeliveryError
	if errors.As(err, &derr) && derr.Kind == FormatRejected {
		t.logger.Warn("telegram markdown rejected, retrying as plain text",
			zap.String("chat_id", cfg.ChatID),
			zap.String("description", derr.Description))
		err = t.post(ctx, cfg, text, "")
		attempts++
		if errors.As(err, &derr) && derr.Kind == FormatRejected {
			derr.Kind = Rejected
		}
	}

	if err != nil {
		t.logger.Error("telegram send failed",
			zap.String("chat_id", cfg.ChatID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return Result{Attempts: attempts, Err: err}
	}

	t.logger.Info("telegram message sent",
		zap.String("chat_id", cfg.ChatID),
		zap.Int("attempts", attempts))
	return Result{Success: true, Attempts: attempts}
}

func (t *Telegram) post(ctx context.Context, cfg models.AppConfig, text, parseMode string) error {
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetBody(sendMessageReq{
			ChatID:    cfg.ChatID,
			Text:      text,
			ParseMode: parseMode,
		}).
		Post("/bot" + cfg.BotToken + "/sendMessage")
	if err != nil {
		return &DeliveryError{Kind: NetworkFailure, Cause: err}
	}

	var body apiResponse
	// non-JSON bodies leave Description empty and fall through to "Unknown error"
	_ = json.Unmarshal(resp.Body(), &body)

	if resp.IsSuccess() && body.Description == "" {
		return nil
	}

	derr := &DeliveryError{
		Kind:        Rejected,
		StatusCode:  resp.StatusCode(),
		Description: body.Description,
	}
	if !resp.IsSuccess() && strings.Contains(body.Description, parseFailure) {
		derr.Kind = FormatRejected
	}
	if derr.Description == "" {
		derr.Description = unknownError
	}
	return derr
}
