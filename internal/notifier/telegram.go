package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	appconfig "cascadeflow/config"
	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

const (
	telegramHTTPTimeout = 30 * time.Second

	// Telegram allows 30 messages per second; stay under it.
	telegramRatePerSecond = 20
	telegramBurst         = 30
)

// TelegramSink sends alerts to a chat through the Telegram bot API.
type TelegramSink struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	log     *logger.Log
}

// NewTelegramSink authenticates the bot and prepares the rate limiter. The
// bot API performs a getMe call here, so an invalid token fails fast.
func NewTelegramSink(cfg appconfig.TelegramConfig) (*TelegramSink, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	httpClient := &http.Client{Timeout: telegramHTTPTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	log := logger.GetLogger()
	log.WithComponent("telegram_sink").WithFields(logger.Fields{
		"bot":     api.Self.UserName,
		"chat_id": cfg.ChatID,
	}).Info("telegram sink authorized")

	return &TelegramSink{
		api:     api,
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(telegramRatePerSecond), telegramBurst),
		log:     log,
	}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

// Send formats the signal as HTML and posts it to the configured chat.
func (s *TelegramSink) Send(ctx context.Context, sig models.CascadeSignal) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	msg := tgbotapi.NewMessage(s.chatID, formatSignalHTML(sig))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func levelBadge(level models.SignalLevel) string {
	switch level {
	case models.LevelWatch:
		return "👀"
	case models.LevelAlert:
		return "🚨"
	case models.LevelCritical:
		return "🔴"
	case models.LevelExtreme:
		return "💥"
	default:
		return "ℹ️"
	}
}

// formatSignalHTML renders one alert message. Telegram HTML mode only allows
// a small tag set, so everything dynamic is escaped.
func formatSignalHTML(sig models.CascadeSignal) string {
	var b strings.Builder

	symbol := tgbotapi.EscapeText(tgbotapi.ModeHTML, sig.Symbol)
	timeframe := tgbotapi.EscapeText(tgbotapi.ModeHTML, sig.Timeframe)

	fmt.Fprintf(&b, "%s <b>%s</b> liquidation cascade risk on <b>%s</b>\n\n",
		levelBadge(sig.Level), sig.Level.String(), symbol)
	fmt.Fprintf(&b, "Probability: <b>%.0f%%</b>\n", sig.Probability*100)
	fmt.Fprintf(&b, "Timeframe: %s\n", timeframe)
	fmt.Fprintf(&b, "Velocity: %.2f events/s\n", sig.Velocity)
	fmt.Fprintf(&b, "Volume rate: $%.0f/s\n", sig.VolumeRate)
	if sig.AccelOK {
		fmt.Fprintf(&b, "Acceleration: %+.2f events/s²\n", sig.Acceleration)
	} else {
		b.WriteString("Acceleration: n/a\n")
	}
	fmt.Fprintf(&b, "Cross-exchange correlation: %.2f\n", sig.Correlation)

	if len(sig.ContributingFactors) > 0 {
		factors := tgbotapi.EscapeText(tgbotapi.ModeHTML, strings.Join(sig.ContributingFactors, ", "))
		fmt.Fprintf(&b, "Factors: <i>%s</i>\n", factors)
	}

	fmt.Fprintf(&b, "\n<code>%s</code>", sig.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
