package accounts

import "time"

// Account is the registered product user, resolved via a channel identifier.
// This subsystem reads accounts; registration and credit purchases happen in
// the web application.
type Account struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	PhoneNumber      string    `json:"phone_number,omitempty"`
	TelegramChatID   string    `json:"telegram_chat_id,omitempty"`
	CreditsRemaining int       `json:"credits_remaining"`
	NotifyWhatsApp   bool      `json:"notify_whatsapp"`
	NotifyTelegram   bool      `json:"notify_telegram"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasCredits reports whether the account can submit a diagnosis.
func (a Account) HasCredits() bool {
	return a.CreditsRemaining > 0
}
