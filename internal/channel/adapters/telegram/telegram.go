// Package telegram implements the channel adapter for the Telegram Bot API
// in webhook mode.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/config"
)

// SecretTokenHeader is sent by Telegram on every webhook delivery when a
// secret token was supplied to setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type Adapter struct {
	botToken      string
	webhookSecret string
	httpClient    *http.Client
	logger        *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewAdapter(log *slog.Logger, cfg config.TelegramConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		botToken:      strings.TrimSpace(cfg.BotToken),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        log.With(slog.String("adapter", "telegram")),
	}
}

func (a *Adapter) Provider() channel.Provider {
	return channel.ProviderTelegram
}

// VerifyWebhook compares the delivery's secret token header against the
// configured value.
func (a *Adapter) VerifyWebhook(header http.Header, _ []byte) error {
	if a.webhookSecret == "" {
		return channel.ErrAuthDisabled
	}
	provided := strings.TrimSpace(header.Get(SecretTokenHeader))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.webhookSecret)) != 1 {
		return channel.ErrUnauthorized
	}
	return nil
}

// ParseWebhook decodes a Bot API Update into at most one inbound message.
func (a *Adapter) ParseWebhook(body []byte) ([]channel.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("telegram webhook decode: %w", err)
	}
	message := update.Message
	if message == nil {
		message = update.EditedMessage
	}
	if message == nil || message.Chat == nil {
		return nil, nil
	}
	msg := channel.InboundMessage{
		Provider:          channel.ProviderTelegram,
		ExternalMessageID: strconv.Itoa(message.MessageID),
		SenderChannelID:   strconv.FormatInt(message.Chat.ID, 10),
		ReceivedAt:        time.Unix(int64(message.Date), 0).UTC(),
	}
	switch {
	case len(message.Photo) > 0:
		photo := pickLargestPhoto(message.Photo)
		msg.Kind = channel.KindImage
		msg.ImageRef = photo.FileID
		msg.Caption = strings.TrimSpace(message.Caption)
	case strings.TrimSpace(message.Text) != "":
		msg.Kind = channel.KindText
		msg.Text = strings.TrimSpace(message.Text)
	default:
		msg.Kind = channel.KindOther
	}
	return []channel.InboundMessage{msg}, nil
}

// SendText delivers a plain text message to a chat id. The Bot API client
// does not take a context; delivery is bounded by its HTTP client timeout.
func (a *Adapter) SendText(_ context.Context, channelID, text string) error {
	bot, err := a.api()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(channelID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id must be numeric: %w", err)
	}
	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = tgbotapi.ModeMarkdown
	if _, err := bot.Send(message); err != nil {
		// Markdown parse failures fall back to plain text.
		a.logger.Debug("markdown send failed, retrying plain", slog.Any("error", err))
		message.ParseMode = ""
		if _, retryErr := bot.Send(message); retryErr != nil {
			return fmt.Errorf("telegram send: %w", retryErr)
		}
	}
	return nil
}

// SendImage delivers an image by URL with an optional caption.
func (a *Adapter) SendImage(_ context.Context, channelID, imageURL, caption string) error {
	bot, err := a.api()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(channelID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id must be numeric: %w", err)
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
	photo.Caption = caption
	if _, err := bot.Send(photo); err != nil {
		return fmt.Errorf("telegram send photo: %w", err)
	}
	return nil
}

// DownloadMedia resolves a file id to its direct URL and fetches the bytes.
func (a *Adapter) DownloadMedia(ctx context.Context, imageRef string) ([]byte, string, error) {
	bot, err := a.api()
	if err != nil {
		return nil, "", err
	}
	fileID := strings.TrimSpace(imageRef)
	if fileID == "" {
		return nil, "", fmt.Errorf("file id is empty")
	}
	url, err := bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("telegram file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("media request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("media download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("media read: %w", err)
	}
	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if mime == "" {
		// Telegram re-encodes photos as JPEG.
		mime = "image/jpeg"
	}
	return data, mime, nil
}

// Commands returns the Telegram vocabulary; /start is the conventional entry
// command and aliases new.
func (a *Adapter) Commands() channel.CommandSet {
	return channel.DefaultCommandSet()
}

func (a *Adapter) api() (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	if a.botToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	bot, err := tgbotapi.NewBotAPI(a.botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bot = bot
	return bot, nil
}

func pickLargestPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
