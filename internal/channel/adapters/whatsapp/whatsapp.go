// Package whatsapp implements the channel adapter for the WhatsApp gateway
// (Whapi-style HTTP API).
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/config"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

const sendTimeout = 30 * time.Second

// Adapter talks to the WhatsApp gateway. Outbound calls share a rate limiter
// to stay under the gateway's request budget.
type Adapter struct {
	baseURL       string
	token         string
	webhookSecret string
	httpClient    *http.Client
	limiter       *rate.Limiter
	logger        *slog.Logger
}

func NewAdapter(log *slog.Logger, cfg config.WhatsAppConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:         strings.TrimSpace(cfg.Token),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		httpClient:    &http.Client{Timeout: sendTimeout},
		limiter:       rate.NewLimiter(rate.Limit(10), 20),
		logger:        log.With(slog.String("adapter", "whatsapp")),
	}
}

func (a *Adapter) Provider() channel.Provider {
	return channel.ProviderWhatsApp
}

// VerifyWebhook checks the body HMAC against the configured secret using a
// constant-time comparison.
func (a *Adapter) VerifyWebhook(header http.Header, body []byte) error {
	if a.webhookSecret == "" {
		return channel.ErrAuthDisabled
	}
	provided := strings.TrimSpace(header.Get(SignatureHeader))
	provided = strings.TrimPrefix(provided, "sha256=")
	if provided == "" {
		return channel.ErrUnauthorized
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return channel.ErrUnauthorized
	}
	return nil
}

// Webhook payload shapes. The gateway pushes batches of messages; statuses
// and bot echoes (from_me) are skipped.
type webhookPayload struct {
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	From      string        `json:"from"`
	FromMe    bool          `json:"from_me"`
	Timestamp int64         `json:"timestamp"`
	Text      *webhookText  `json:"text,omitempty"`
	Image     *webhookImage `json:"image,omitempty"`
}

type webhookText struct {
	Body string `json:"body"`
}

type webhookImage struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// ParseWebhook normalizes a gateway push into inbound messages.
func (a *Adapter) ParseWebhook(body []byte) ([]channel.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("whatsapp webhook decode: %w", err)
	}
	messages := make([]channel.InboundMessage, 0, len(payload.Messages))
	for _, raw := range payload.Messages {
		if raw.FromMe {
			continue
		}
		sender := strings.TrimSpace(raw.From)
		id := strings.TrimSpace(raw.ID)
		if sender == "" || id == "" {
			continue
		}
		msg := channel.InboundMessage{
			Provider:          channel.ProviderWhatsApp,
			ExternalMessageID: id,
			SenderChannelID:   sender,
			ReceivedAt:        time.Unix(raw.Timestamp, 0).UTC(),
		}
		switch strings.ToLower(strings.TrimSpace(raw.Type)) {
		case "text":
			if raw.Text == nil || strings.TrimSpace(raw.Text.Body) == "" {
				continue
			}
			msg.Kind = channel.KindText
			msg.Text = strings.TrimSpace(raw.Text.Body)
		case "image":
			if raw.Image == nil {
				continue
			}
			msg.Kind = channel.KindImage
			msg.ImageRef = mediaRef(*raw.Image)
			msg.Caption = strings.TrimSpace(raw.Image.Caption)
		default:
			msg.Kind = channel.KindOther
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func mediaRef(img webhookImage) string {
	if link := strings.TrimSpace(img.Link); link != "" {
		return link
	}
	return strings.TrimSpace(img.ID)
}

// SendText delivers a plain text message to a phone number.
func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	return a.post(ctx, "/messages/text", map[string]any{
		"to":   channelID,
		"body": text,
	})
}

// SendImage delivers an image by URL with an optional caption.
func (a *Adapter) SendImage(ctx context.Context, channelID, imageURL, caption string) error {
	return a.post(ctx, "/messages/image", map[string]any{
		"to":      channelID,
		"media":   imageURL,
		"caption": caption,
	})
}

// DownloadMedia fetches image bytes. imageRef is either a direct link from
// the webhook payload or a gateway media id.
func (a *Adapter) DownloadMedia(ctx context.Context, imageRef string) ([]byte, string, error) {
	ref := strings.TrimSpace(imageRef)
	if ref == "" {
		return nil, "", fmt.Errorf("media reference is empty")
	}
	url := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		url = a.baseURL + "/media/" + ref
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("media request: %w", err)
	}
	a.authorize(req)
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
		mime = "image/jpeg"
	}
	return data, mime, nil
}

// Commands returns the WhatsApp vocabulary. WhatsApp has no native command
// menu, so bare words double as aliases.
func (a *Adapter) Commands() channel.CommandSet {
	return channel.DefaultCommandSet()
}

func (a *Adapter) post(ctx context.Context, path string, body map[string]any) error {
	if a.baseURL == "" {
		return fmt.Errorf("whatsapp base url not configured")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("whatsapp request encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp send status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	a.logger.Debug("gateway request ok", slog.String("path", path))
	return nil
}

func (a *Adapter) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}
