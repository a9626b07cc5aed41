package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrodiag/agrodiag/internal/accounts"
	"github.com/agrodiag/agrodiag/internal/channel"
)

const notifyTimeout = 15 * time.Second

// notifyOtherChannel fires a best-effort heads-up on the channel the user has
// opted into that is not the one the diagnosis came in on. It runs detached
// from the request: failures are logged and never reach the primary reply.
func (p *Processor) notifyOtherChannel(origin channel.Provider, account accounts.Account, cropName string) {
	if p.registry == nil {
		return
	}

	var (
		target   channel.Provider
		targetID string
	)
	switch origin {
	case channel.ProviderWhatsApp:
		if account.NotifyTelegram && account.TelegramChatID != "" {
			target = channel.ProviderTelegram
			targetID = account.TelegramChatID
		}
	case channel.ProviderTelegram:
		if account.NotifyWhatsApp && account.PhoneNumber != "" {
			target = channel.ProviderWhatsApp
			targetID = account.PhoneNumber
		}
	}
	if target == "" {
		return
	}

	adapter, ok := p.registry.Get(target)
	if !ok {
		p.logger.Debug("secondary notification skipped",
			slog.String("target", string(target)),
		)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		text := fmt.Sprintf(notifyOtherChannelText, cropName)
		if err := adapter.SendText(ctx, targetID, text); err != nil {
			p.logger.Warn("secondary notification failed",
				slog.String("target", string(target)),
				slog.Any("error", err),
			)
		}
	}()
}
