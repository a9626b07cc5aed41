package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agrodiag/agrodiag/internal/accounts"
	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/conversation"
	"github.com/agrodiag/agrodiag/internal/dedup"
	"github.com/agrodiag/agrodiag/internal/diagnosis"
	"github.com/agrodiag/agrodiag/internal/reports"
	"github.com/agrodiag/agrodiag/internal/session"
)

// webhookAdapter is a scriptable channel adapter for handler tests.
type webhookAdapter struct {
	mu        sync.Mutex
	verifyErr error
	messages  []channel.InboundMessage
	parseErr  error
	sent      []string
}

func (a *webhookAdapter) Provider() channel.Provider { return channel.ProviderWhatsApp }

func (a *webhookAdapter) VerifyWebhook(http.Header, []byte) error { return a.verifyErr }

func (a *webhookAdapter) ParseWebhook([]byte) ([]channel.InboundMessage, error) {
	return a.messages, a.parseErr
}

func (a *webhookAdapter) SendText(_ context.Context, _, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return nil
}

func (a *webhookAdapter) SendImage(context.Context, string, string, string) error { return nil }

func (a *webhookAdapter) DownloadMedia(context.Context, string) ([]byte, string, error) {
	return []byte("img"), "image/jpeg", nil
}

func (a *webhookAdapter) Commands() channel.CommandSet { return channel.DefaultCommandSet() }

type stubSessions struct{}

func (stubSessions) Get(context.Context, string) (session.Session, error) {
	return session.Session{}, session.ErrNotFound
}
func (stubSessions) Put(context.Context, session.Session) error { return nil }
func (stubSessions) Delete(context.Context, string) error       { return nil }

type stubDedup struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (s *stubDedup) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *stubDedup) Mark(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return dedup.ErrAlreadyProcessed
	}
	s.keys[key] = true
	return nil
}

type stubIdentities struct{}

func (stubIdentities) ResolveByChannel(context.Context, channel.Provider, string) (accounts.Account, error) {
	return accounts.Account{}, accounts.ErrNotFound
}

func (stubIdentities) Get(context.Context, string) (accounts.Account, error) {
	return accounts.Account{}, accounts.ErrNotFound
}

type stubInvoker struct{}

func (stubInvoker) Invoke(context.Context, diagnosis.Input) (diagnosis.Result, error) {
	return diagnosis.Result{Kind: diagnosis.KindSuccess}, nil
}

type stubReports struct{}

func (stubReports) Insert(_ context.Context, r reports.Report) (reports.Report, error) { return r, nil }
func (stubReports) ListRecent(context.Context, string, int) ([]reports.Report, error) {
	return nil, nil
}

func newTestServer(t *testing.T, adapter *webhookAdapter) *echo.Echo {
	t.Helper()
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	processor := conversation.NewProcessor(
		slog.Default(),
		stubSessions{},
		&stubDedup{keys: map[string]bool{}},
		stubIdentities{},
		stubInvoker{},
		stubReports{},
		registry,
		30*time.Minute,
	)
	e := echo.New()
	NewWebhookHandler(slog.Default(), registry, processor).Register(e)
	return e
}

func postWebhook(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcksNormalDelivery(t *testing.T) {
	adapter := &webhookAdapter{messages: []channel.InboundMessage{{
		Provider:          channel.ProviderWhatsApp,
		ExternalMessageID: "m1",
		SenderChannelID:   "5215550000001",
		Kind:              channel.KindText,
		Text:              "hola",
	}}}
	e := newTestServer(t, adapter)

	rec := postWebhook(e, "/webhooks/whatsapp", `{"messages":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Fatalf("body = %s, want success ack", rec.Body.String())
	}
	// Unknown sender still gets guidance; the delivery is acked regardless.
	if len(adapter.sent) != 1 {
		t.Fatalf("replies = %d, want 1", len(adapter.sent))
	}
}

func TestWebhookAuthFailureReturnsNon2xx(t *testing.T) {
	adapter := &webhookAdapter{verifyErr: channel.ErrUnauthorized}
	e := newTestServer(t, adapter)

	rec := postWebhook(e, "/webhooks/whatsapp", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookAuthDisabledIsAllowedThrough(t *testing.T) {
	adapter := &webhookAdapter{verifyErr: channel.ErrAuthDisabled}
	e := newTestServer(t, adapter)

	rec := postWebhook(e, "/webhooks/whatsapp", `{"messages":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when auth is disabled", rec.Code)
	}
}

func TestWebhookMalformedBodyAckedWithoutProcessing(t *testing.T) {
	adapter := &webhookAdapter{parseErr: errors.New("unexpected end of JSON input")}
	e := newTestServer(t, adapter)

	rec := postWebhook(e, "/webhooks/whatsapp", "not json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (providers retry on non-2xx)", rec.Code)
	}
	if len(adapter.sent) != 0 {
		t.Fatal("no business logic may run on an unparseable body")
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	e := newTestServer(t, &webhookAdapter{})

	rec := postWebhook(e, "/webhooks/sms", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookDuplicateDeliveryAcked(t *testing.T) {
	adapter := &webhookAdapter{messages: []channel.InboundMessage{{
		Provider:          channel.ProviderWhatsApp,
		ExternalMessageID: "dup-1",
		SenderChannelID:   "5215550000001",
		Kind:              channel.KindText,
		Text:              "hola",
	}}}
	e := newTestServer(t, adapter)

	first := postWebhook(e, "/webhooks/whatsapp", `{}`)
	second := postWebhook(e, "/webhooks/whatsapp", `{}`)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d/%d, want 200/200", first.Code, second.Code)
	}
	if len(adapter.sent) != 1 {
		t.Fatalf("replies = %d, want 1 (duplicate absorbed)", len(adapter.sent))
	}
}
