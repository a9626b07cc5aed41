package telegram

import (
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/config"
)

func newTestAdapter(secret string) *Adapter {
	return NewAdapter(slog.Default(), config.TelegramConfig{
		BotToken:      "123:abc",
		WebhookSecret: secret,
	})
}

func TestVerifyWebhook(t *testing.T) {
	t.Parallel()

	t.Run("matching token", func(t *testing.T) {
		a := newTestAdapter("hook-secret")
		header := http.Header{}
		header.Set(SecretTokenHeader, "hook-secret")
		if err := a.VerifyWebhook(header, nil); err != nil {
			t.Fatalf("VerifyWebhook() error = %v, want nil", err)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		a := newTestAdapter("hook-secret")
		header := http.Header{}
		header.Set(SecretTokenHeader, "guess")
		if err := a.VerifyWebhook(header, nil); !errors.Is(err, channel.ErrUnauthorized) {
			t.Fatalf("VerifyWebhook() error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("no secret configured", func(t *testing.T) {
		a := newTestAdapter("")
		if err := a.VerifyWebhook(http.Header{}, nil); !errors.Is(err, channel.ErrAuthDisabled) {
			t.Fatalf("VerifyWebhook() error = %v, want ErrAuthDisabled", err)
		}
	})
}

func TestParseWebhookText(t *testing.T) {
	t.Parallel()
	a := newTestAdapter("")

	body := []byte(`{"update_id":1,"message":{"message_id":42,"date":1756700000,
		"chat":{"id":987654321,"type":"private"},"text":" /start "}}`)
	messages, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	msg := messages[0]
	if msg.Provider != channel.ProviderTelegram || msg.Kind != channel.KindText {
		t.Fatalf("message = %+v", msg)
	}
	if msg.SenderChannelID != "987654321" || msg.ExternalMessageID != "42" {
		t.Fatalf("ids = %q/%q", msg.SenderChannelID, msg.ExternalMessageID)
	}
	if msg.Text != "/start" {
		t.Fatalf("text = %q, want trimmed /start", msg.Text)
	}
}

func TestParseWebhookPhotoPicksLargest(t *testing.T) {
	t.Parallel()
	a := newTestAdapter("")

	body := []byte(`{"update_id":2,"message":{"message_id":43,"date":1756700001,
		"chat":{"id":987654321,"type":"private"},
		"caption":"tomate - manchas amarillas",
		"photo":[
			{"file_id":"small","width":90,"height":90,"file_size":1000},
			{"file_id":"large","width":800,"height":800,"file_size":90000},
			{"file_id":"medium","width":320,"height":320,"file_size":20000}
		]}}`)
	messages, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	msg := messages[0]
	if msg.Kind != channel.KindImage || msg.ImageRef != "large" {
		t.Fatalf("message = %+v, want largest photo size", msg)
	}
	if msg.Caption != "tomate - manchas amarillas" {
		t.Fatalf("caption = %q", msg.Caption)
	}
}

func TestParseWebhookNonMessageUpdate(t *testing.T) {
	t.Parallel()
	a := newTestAdapter("")

	messages, err := a.ParseWebhook([]byte(`{"update_id":3,"callback_query":{"id":"x"}}`))
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("messages = %d, want 0 for non-message update", len(messages))
	}
}
