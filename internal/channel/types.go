// Package channel defines the channel-agnostic inbound message model and the
// adapter capability interface each messaging provider implements.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Provider identifies a messaging transport.
type Provider string

const (
	ProviderWhatsApp Provider = "whatsapp"
	ProviderTelegram Provider = "telegram"
)

func (p Provider) String() string { return string(p) }

// ParseProvider normalizes a raw provider name.
func ParseProvider(raw string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "whatsapp":
		return ProviderWhatsApp, nil
	case "telegram":
		return ProviderTelegram, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", raw)
	}
}

// MessageKind classifies the payload of an inbound message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindOther MessageKind = "other"
)

// InboundMessage is the normalized representation of one webhook-delivered
// user message. It is transient: only its dedup key is ever persisted.
type InboundMessage struct {
	Provider          Provider
	ExternalMessageID string
	SenderChannelID   string
	Kind              MessageKind
	Text              string
	ImageRef          string
	Caption           string
	ReceivedAt        time.Time
}

// DedupKey composes the durable idempotency key (provider:externalMessageId).
func (m InboundMessage) DedupKey() string {
	return string(m.Provider) + ":" + strings.TrimSpace(m.ExternalMessageID)
}

// ErrAuthDisabled is returned by VerifyWebhook when no secret is configured:
// the request is allowed through, but the caller logs a warning.
var ErrAuthDisabled = errors.New("webhook authentication disabled")

// ErrUnauthorized is returned when webhook verification fails.
var ErrUnauthorized = errors.New("webhook signature mismatch")

// Adapter is the per-provider capability surface the conversation core is
// parameterized by. Implementations live under channel/adapters.
type Adapter interface {
	Provider() Provider

	// VerifyWebhook authenticates a raw webhook delivery. It returns nil on
	// success, ErrAuthDisabled when no secret is configured (allowed through
	// with a warning), or ErrUnauthorized.
	VerifyWebhook(header http.Header, body []byte) error

	// ParseWebhook extracts zero or more normalized messages from the raw
	// payload. Pure extraction: no side effects.
	ParseWebhook(body []byte) ([]InboundMessage, error)

	SendText(ctx context.Context, channelID, text string) error
	SendImage(ctx context.Context, channelID, imageURL, caption string) error

	// DownloadMedia fetches the image bytes behind an opaque media locator.
	DownloadMedia(ctx context.Context, imageRef string) (data []byte, mime string, err error)

	// Commands returns the command vocabulary with this channel's aliases.
	Commands() CommandSet
}
