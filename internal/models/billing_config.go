package models

type BillingConfig struct {
	Stripe *StripeConfig `json:"stripe,omitempty" yaml:"stripe,omitempty"`

	// WelcomeBonusCredits is granted once per user on the user.created
	// webhook. Zero disables the grant.
	WelcomeBonusCredits int64 `json:"welcome_bonus_credits,omitzero" yaml:"welcome_bonus_credits,omitempty"`

	// RefundOnCancel controls whether a user-initiated cancellation
	// returns the reserved credits. Provider-side failures always refund.
	RefundOnCancel bool `json:"refund_on_cancel" yaml:"refund_on_cancel"`
}

type StripeConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}
