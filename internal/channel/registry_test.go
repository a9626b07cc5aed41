package channel

import (
	"context"
	"net/http"
	"testing"
)

type stubAdapter struct {
	provider Provider
}

func (a *stubAdapter) Provider() Provider                                  { return a.provider }
func (a *stubAdapter) VerifyWebhook(http.Header, []byte) error             { return nil }
func (a *stubAdapter) ParseWebhook([]byte) ([]InboundMessage, error)       { return nil, nil }
func (a *stubAdapter) SendText(context.Context, string, string) error      { return nil }
func (a *stubAdapter) SendImage(context.Context, string, string, string) error {
	return nil
}
func (a *stubAdapter) DownloadMedia(context.Context, string) ([]byte, string, error) {
	return nil, "", nil
}
func (a *stubAdapter) Commands() CommandSet { return DefaultCommandSet() }

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.MustRegister(&stubAdapter{provider: ProviderWhatsApp})

	if _, ok := reg.Get(ProviderWhatsApp); !ok {
		t.Fatal("Get(whatsapp) = false, want registered adapter")
	}
	if _, ok := reg.Get(ProviderTelegram); ok {
		t.Fatal("Get(telegram) = true, want absent")
	}
	if err := reg.Register(&stubAdapter{provider: ProviderWhatsApp}); err == nil {
		t.Fatal("duplicate registration must fail")
	}
}

func TestRegistryProvidersStableOrder(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.MustRegister(&stubAdapter{provider: ProviderWhatsApp})
	reg.MustRegister(&stubAdapter{provider: ProviderTelegram})

	got := reg.Providers()
	if len(got) != 2 || got[0] != ProviderTelegram || got[1] != ProviderWhatsApp {
		t.Fatalf("Providers() = %v, want sorted [telegram whatsapp]", got)
	}
}
