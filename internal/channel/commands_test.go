package channel

import "testing"

func TestDetectCommand(t *testing.T) {
	t.Parallel()
	set := DefaultCommandSet()

	tests := []struct {
		text string
		want Command
	}{
		{"/new", CommandNew},
		{"new", CommandNew},
		{"NEW", CommandNew},
		{"/start", CommandNew},
		{"nuevo", CommandNew},
		{"  /help  ", CommandHelp},
		{"ayuda", CommandHelp},
		{"/history", CommandHistory},
		{"/credits", CommandCredits},
		{"/start@agrodiag_bot", CommandNew},
		{"", CommandNone},
		{"tomate", CommandNone},
		{"new diagnosis please", CommandNone},
		{"/unknown", CommandNone},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := set.Detect(tt.text); got != tt.want {
				t.Fatalf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDedupKey(t *testing.T) {
	t.Parallel()
	msg := InboundMessage{Provider: ProviderWhatsApp, ExternalMessageID: " abc123 "}
	if got := msg.DedupKey(); got != "whatsapp:abc123" {
		t.Fatalf("DedupKey() = %q, want whatsapp:abc123", got)
	}
}

func TestParseProvider(t *testing.T) {
	t.Parallel()
	if p, err := ParseProvider(" Telegram "); err != nil || p != ProviderTelegram {
		t.Fatalf("ParseProvider(Telegram) = (%v, %v)", p, err)
	}
	if _, err := ParseProvider("sms"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
