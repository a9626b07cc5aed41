// Package conversation implements the channel-agnostic core: dedup check,
// identity resolution, command dispatch and the per-sender session machine
// that walks a user through a diagnosis submission.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agrodiag/agrodiag/internal/accounts"
	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/dedup"
	"github.com/agrodiag/agrodiag/internal/diagnosis"
	"github.com/agrodiag/agrodiag/internal/reports"
	"github.com/agrodiag/agrodiag/internal/session"
)

const minCropNameLen = 2

var skipKeywords = map[string]bool{
	"omitir": true,
	"skip":   true,
	"no":     true,
}

// Identities is the read-only account lookup the processor depends on.
type Identities interface {
	ResolveByChannel(ctx context.Context, provider channel.Provider, senderChannelID string) (accounts.Account, error)
	Get(ctx context.Context, accountID string) (accounts.Account, error)
}

// Processor drives every inbound message through the control flow:
// dedup -> identity -> commands -> quick path -> session machine -> mark.
// All cross-request coordination goes through the injected stores; the
// processor itself keeps no per-sender state in memory.
type Processor struct {
	sessions   session.Store
	processed  dedup.Store
	identities Identities
	invoker    diagnosis.Invoker
	reports    reports.Store
	registry   *channel.Registry
	sessionTTL time.Duration
	logger     *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewProcessor(
	log *slog.Logger,
	sessions session.Store,
	processed dedup.Store,
	identities Identities,
	invoker diagnosis.Invoker,
	reportStore reports.Store,
	registry *channel.Registry,
	sessionTTL time.Duration,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	return &Processor{
		sessions:   sessions,
		processed:  processed,
		identities: identities,
		invoker:    invoker,
		reports:    reportStore,
		registry:   registry,
		sessionTTL: sessionTTL,
		logger:     log.With(slog.String("service", "conversation")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleInbound processes one normalized message end to end. Duplicates are
// absorbed silently. Internal failures reply with a generic retry notice and
// clear the sender's session so it can never wedge; the message is marked
// processed either way so provider retries do not re-run business logic.
func (p *Processor) HandleInbound(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage) error {
	log := p.logger.With(
		slog.String("provider", string(msg.Provider)),
		slog.String("message_id", msg.ExternalMessageID),
		slog.String("sender", msg.SenderChannelID),
	)

	seen, err := p.processed.Seen(ctx, msg.DedupKey())
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		log.Debug("duplicate delivery absorbed")
		return nil
	}

	if err := p.dispatch(ctx, adapter, msg, log); err != nil {
		log.Error("message handling failed", slog.Any("error", err))
		p.failSafe(ctx, adapter, msg, log)
	}

	if err := p.processed.Mark(ctx, msg.DedupKey(), msg.SenderChannelID); err != nil {
		if errors.Is(err, dedup.ErrAlreadyProcessed) {
			log.Debug("concurrent delivery won the dedup race")
			return nil
		}
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// failSafe is the category-(6) catch-all: the user always gets some reply and
// the session is forcibly cleared so the sender is never blocked.
func (p *Processor) failSafe(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, log *slog.Logger) {
	if err := p.sessions.Delete(ctx, msg.SenderChannelID); err != nil {
		log.Warn("fail-safe session clear failed", slog.Any("error", err))
	}
	if err := adapter.SendText(ctx, msg.SenderChannelID, replyRetryLater); err != nil {
		log.Warn("fail-safe reply failed", slog.Any("error", err))
	}
}

func (p *Processor) dispatch(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, log *slog.Logger) error {
	account, err := p.identities.ResolveByChannel(ctx, msg.Provider, msg.SenderChannelID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			// Unregistered senders get fixed guidance and accumulate no state.
			log.Info("message from unregistered sender")
			return adapter.SendText(ctx, msg.SenderChannelID, replyNotRegistered)
		}
		return fmt.Errorf("identity resolve: %w", err)
	}

	// Commands are honored before session interpretation so a stuck user can
	// always escape mid-flow.
	if msg.Kind == channel.KindText {
		if cmd := adapter.Commands().Detect(msg.Text); cmd != channel.CommandNone {
			return p.handleCommand(ctx, adapter, msg, account, cmd)
		}
	}

	// Quick path: image with a parseable caption skips the session entirely.
	if msg.Kind == channel.KindImage {
		if crop, notes, ok := parseQuickCaption(msg.Caption); ok {
			log.Info("quick-path diagnosis", slog.String("crop", crop))
			return p.submitDiagnosis(ctx, adapter, msg, account, crop, notes, nil)
		}
	}

	sess, err := p.sessions.Get(ctx, msg.SenderChannelID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return adapter.SendText(ctx, msg.SenderChannelID, replyIdleGuidance)
		}
		return fmt.Errorf("session load: %w", err)
	}
	return p.advance(ctx, adapter, msg, account, sess)
}

// advance applies one inbound message to an existing session.
func (p *Processor) advance(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, account accounts.Account, sess session.Session) error {
	state, err := session.ParseState(string(sess.State))
	if err != nil {
		// Corrupted state value: fail-safe reset instead of guessing.
		p.logger.Warn("unknown session state, resetting",
			slog.String("sender", msg.SenderChannelID),
			slog.String("state", string(sess.State)),
		)
		if err := p.sessions.Delete(ctx, msg.SenderChannelID); err != nil {
			return fmt.Errorf("session reset: %w", err)
		}
		return adapter.SendText(ctx, msg.SenderChannelID, replyUnknownState)
	}

	switch state {
	case session.StateAwaitingCrop:
		return p.onAwaitingCrop(ctx, adapter, msg, sess)
	case session.StateAwaitingNotes:
		return p.onAwaitingNotes(ctx, adapter, msg, account, sess)
	case session.StateAwaitingImage:
		return p.onAwaitingImage(ctx, adapter, msg, account, sess)
	case session.StateProcessing:
		// Guards against duplicate submissions while a diagnosis is in flight.
		return adapter.SendText(ctx, msg.SenderChannelID, replyStillProcessing)
	default:
		return fmt.Errorf("unhandled session state: %s", state)
	}
}

func (p *Processor) onAwaitingCrop(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, sess session.Session) error {
	crop := strings.TrimSpace(msg.Text)
	if msg.Kind != channel.KindText || utf8.RuneCountInString(crop) < minCropNameLen {
		return adapter.SendText(ctx, msg.SenderChannelID, replyCropInvalid)
	}
	sess.CropName = crop
	sess.State = session.StateAwaitingNotes
	if err := p.touchAndPut(ctx, sess); err != nil {
		return err
	}
	return adapter.SendText(ctx, msg.SenderChannelID, promptNotes)
}

func (p *Processor) onAwaitingNotes(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, account accounts.Account, sess session.Session) error {
	switch msg.Kind {
	case channel.KindImage:
		// User skipped ahead: accept the image in the same turn with empty
		// notes rather than forcing an extra round trip.
		sess.UserNotes = ""
		sess.State = session.StateAwaitingImage
		if err := p.touchAndPut(ctx, sess); err != nil {
			return err
		}
		return p.onAwaitingImage(ctx, adapter, msg, account, sess)
	case channel.KindText:
		text := strings.TrimSpace(msg.Text)
		if skipKeywords[strings.ToLower(text)] {
			sess.UserNotes = ""
		} else {
			sess.UserNotes = text
		}
		sess.State = session.StateAwaitingImage
		if err := p.touchAndPut(ctx, sess); err != nil {
			return err
		}
		return adapter.SendText(ctx, msg.SenderChannelID, promptImage)
	default:
		return adapter.SendText(ctx, msg.SenderChannelID, promptNotes)
	}
}

func (p *Processor) onAwaitingImage(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, account accounts.Account, sess session.Session) error {
	if msg.Kind != channel.KindImage {
		return adapter.SendText(ctx, msg.SenderChannelID, replyImageExpected)
	}
	// Mark processing before the long engine call so a second image arriving
	// mid-flight hits the StateProcessing guard instead of a double submit.
	sess.State = session.StateProcessing
	if err := p.touchAndPut(ctx, sess); err != nil {
		return err
	}
	return p.submitDiagnosis(ctx, adapter, msg, account, sess.CropName, sess.UserNotes, &sess)
}

// submitDiagnosis runs the shared tail of both the session flow and the quick
// path: credits re-check, media download, engine call, reply mapping. sess is
// nil on the quick path, which never touches session state.
func (p *Processor) submitDiagnosis(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, account accounts.Account, cropName, notes string, sess *session.Session) error {
	// Credits are re-checked at submission time: they may have been consumed
	// by another request since the session started.
	fresh, err := p.identities.Get(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("credits re-check: %w", err)
	}
	if !fresh.HasCredits() {
		if sess != nil {
			if err := p.sessions.Delete(ctx, msg.SenderChannelID); err != nil {
				return fmt.Errorf("session cancel: %w", err)
			}
		}
		return adapter.SendText(ctx, msg.SenderChannelID, replyOutOfCredits)
	}

	if err := adapter.SendText(ctx, msg.SenderChannelID, replyAnalyzing); err != nil {
		p.logger.Warn("analyzing ack failed", slog.Any("error", err))
	}

	data, mime, err := adapter.DownloadMedia(ctx, msg.ImageRef)
	if err != nil {
		return fmt.Errorf("media download: %w", err)
	}

	result, err := p.invoker.Invoke(ctx, diagnosis.Input{
		AccountID: account.ID,
		CropName:  cropName,
		Notes:     notes,
		Image:     data,
		MimeType:  mime,
		Provider:  msg.Provider,
	})
	if err != nil {
		return fmt.Errorf("diagnosis invoke: %w", err)
	}

	switch result.Kind {
	case diagnosis.KindNeedsBetterImage:
		// Rewind instead of clearing so the user can retry the photo without
		// restarting the whole flow.
		if sess != nil {
			sess.State = session.StateAwaitingImage
			if err := p.touchAndPut(ctx, *sess); err != nil {
				return err
			}
		}
		return adapter.SendText(ctx, msg.SenderChannelID, formatNeedsBetterImage(result.Message))

	case diagnosis.KindFailure:
		if sess != nil {
			if err := p.sessions.Delete(ctx, msg.SenderChannelID); err != nil {
				return fmt.Errorf("session clear: %w", err)
			}
		}
		// The engine's failure text arrives already localized; relay verbatim.
		reply := strings.TrimSpace(result.Message)
		if reply == "" {
			reply = replyRetryLater
		}
		return adapter.SendText(ctx, msg.SenderChannelID, reply)

	case diagnosis.KindSuccess:
		return p.onSuccess(ctx, adapter, msg, account, cropName, sess, result)

	default:
		return fmt.Errorf("unhandled diagnosis result kind: %s", result.Kind)
	}
}

func (p *Processor) onSuccess(ctx context.Context, adapter channel.Adapter, msg channel.InboundMessage, account accounts.Account, cropName string, sess *session.Session, result diagnosis.Result) error {
	if sess != nil {
		if err := p.sessions.Delete(ctx, msg.SenderChannelID); err != nil {
			return fmt.Errorf("session clear: %w", err)
		}
	}

	reply := formatSuccess(cropName, result.Confidence, result.ReportMarkdown, result.RemainingCredits)
	if err := adapter.SendText(ctx, msg.SenderChannelID, reply); err != nil {
		return fmt.Errorf("report reply: %w", err)
	}
	if result.ResultImageURL != "" {
		if err := adapter.SendImage(ctx, msg.SenderChannelID, result.ResultImageURL, cropName); err != nil {
			p.logger.Warn("result image send failed", slog.Any("error", err))
		}
	}

	if p.reports != nil {
		if _, err := p.reports.Insert(ctx, reports.Report{
			AccountID:      account.ID,
			Provider:       string(msg.Provider),
			CropName:       cropName,
			Confidence:     result.Confidence,
			ReportMarkdown: result.ReportMarkdown,
		}); err != nil {
			p.logger.Warn("report persist failed", slog.Any("error", err))
		}
	}

	p.notifyOtherChannel(msg.Provider, account, cropName)
	return nil
}

// touchAndPut refreshes the inactivity window and persists the session.
func (p *Processor) touchAndPut(ctx context.Context, sess session.Session) error {
	now := p.now()
	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(p.sessionTTL)
	if err := p.sessions.Put(ctx, sess); err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

// parseQuickCaption splits an image caption of the form "<crop>[ - <notes>]".
// ok is false when no usable crop name is extractable, in which case the
// message falls through to the session machine.
func parseQuickCaption(caption string) (crop, notes string, ok bool) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return "", "", false
	}
	if idx := strings.Index(caption, " - "); idx >= 0 {
		crop = strings.TrimSpace(caption[:idx])
		notes = strings.TrimSpace(caption[idx+3:])
	} else {
		crop = caption
	}
	if utf8.RuneCountInString(crop) < minCropNameLen {
		return "", "", false
	}
	return crop, notes, true
}
