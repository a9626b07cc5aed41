package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/config"
)

func newTestAdapter(secret string) *Adapter {
	return NewAdapter(slog.Default(), config.WhatsAppConfig{
		BaseURL:       "https://gate.example.com",
		Token:         "token",
		WebhookSecret: secret,
	})
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	t.Parallel()
	body := []byte(`{"messages":[]}`)

	t.Run("valid signature", func(t *testing.T) {
		a := newTestAdapter("topsecret")
		header := http.Header{}
		header.Set(SignatureHeader, sign("topsecret", body))
		if err := a.VerifyWebhook(header, body); err != nil {
			t.Fatalf("VerifyWebhook() error = %v, want nil", err)
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		a := newTestAdapter("topsecret")
		header := http.Header{}
		header.Set(SignatureHeader, sign("othersecret", body))
		if err := a.VerifyWebhook(header, body); !errors.Is(err, channel.ErrUnauthorized) {
			t.Fatalf("VerifyWebhook() error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		a := newTestAdapter("topsecret")
		if err := a.VerifyWebhook(http.Header{}, body); !errors.Is(err, channel.ErrUnauthorized) {
			t.Fatalf("VerifyWebhook() error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("no secret configured", func(t *testing.T) {
		a := newTestAdapter("")
		if err := a.VerifyWebhook(http.Header{}, body); !errors.Is(err, channel.ErrAuthDisabled) {
			t.Fatalf("VerifyWebhook() error = %v, want ErrAuthDisabled", err)
		}
	})
}

func TestParseWebhook(t *testing.T) {
	t.Parallel()
	a := newTestAdapter("")

	body := []byte(`{
		"messages": [
			{"id": "m1", "type": "text", "from": "5215551234567", "timestamp": 1756700000, "text": {"body": " hola "}},
			{"id": "m2", "type": "image", "from": "5215551234567", "timestamp": 1756700001,
			 "image": {"id": "media-9", "mime_type": "image/jpeg", "caption": "tomate - manchas"}},
			{"id": "m3", "type": "text", "from": "5215551234567", "from_me": true, "text": {"body": "echo"}},
			{"id": "m4", "type": "audio", "from": "5215559999999", "timestamp": 1756700002}
		]
	}`)
	messages, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3 (bot echo skipped)", len(messages))
	}

	if messages[0].Kind != channel.KindText || messages[0].Text != "hola" {
		t.Fatalf("first message = %+v, want trimmed text", messages[0])
	}
	if messages[0].DedupKey() != "whatsapp:m1" {
		t.Fatalf("dedup key = %q", messages[0].DedupKey())
	}

	if messages[1].Kind != channel.KindImage || messages[1].ImageRef != "media-9" {
		t.Fatalf("second message = %+v, want image with media id", messages[1])
	}
	if messages[1].Caption != "tomate - manchas" {
		t.Fatalf("caption = %q", messages[1].Caption)
	}

	if messages[2].Kind != channel.KindOther {
		t.Fatalf("third message kind = %q, want other", messages[2].Kind)
	}
}

func TestParseWebhookPrefersDirectLink(t *testing.T) {
	t.Parallel()
	a := newTestAdapter("")

	body := []byte(`{"messages":[{"id":"m1","type":"image","from":"521","timestamp":1,
		"image":{"id":"media-1","link":"https://cdn.example.com/x.jpg"}}]}`)
	messages, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if messages[0].ImageRef != "https://cdn.example.com/x.jpg" {
		t.Fatalf("ImageRef = %q, want direct link", messages[0].ImageRef)
	}
}

func TestParseWebhookMalformed(t *testing.T) {
	t.Parallel()
	a := newTestAdapter("")
	if _, err := a.ParseWebhook([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
