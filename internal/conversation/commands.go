package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agrodiag/agrodiag/internal/accounts"
	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/session"
)

const historyLimit = 5

// handleCommand short-circuits the session flow. new resets the conversation;
// history, credits and help answer out-of-band without touching session state.
func (p *Processor) handleCommand(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, account accounts.Account, cmd channel.Command) error {
	p.logger.Info("command dispatched",
		slog.String("command", string(cmd)),
		slog.String("sender", msg.SenderChannelID),
	)

	switch cmd {
	case channel.CommandNew:
		return p.startSession(ctx, adapter, msg, account)

	case channel.CommandHistory:
		items, err := p.reports.ListRecent(ctx, account.ID, historyLimit)
		if err != nil {
			return fmt.Errorf("history lookup: %w", err)
		}
		return adapter.SendText(ctx, msg.SenderChannelID, formatHistory(items))

	case channel.CommandCredits:
		fresh, err := p.identities.Get(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("credits lookup: %w", err)
		}
		return adapter.SendText(ctx, msg.SenderChannelID, formatCredits(fresh.CreditsRemaining))

	case channel.CommandHelp:
		return adapter.SendText(ctx, msg.SenderChannelID, replyHelp)

	default:
		return fmt.Errorf("unhandled command: %s", cmd)
	}
}

// startSession discards any in-progress flow and begins a fresh one at the
// crop-name question.
func (p *Processor) startSession(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, account accounts.Account) error {
	if !account.HasCredits() {
		return adapter.SendText(ctx, msg.SenderChannelID, replyOutOfCredits)
	}
	sess := session.Session{
		SenderChannelID: msg.SenderChannelID,
		AccountID:       account.ID,
		State:           session.StateAwaitingCrop,
	}
	if err := p.touchAndPut(ctx, sess); err != nil {
		return err
	}
	return adapter.SendText(ctx, msg.SenderChannelID, promptCropName)
}
