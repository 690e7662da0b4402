package models

type AuthConfig struct {
	ClerkConfig *ClerkAuthConfig `json:"clerk,omitempty" yaml:"clerk,omitempty"`
	APIKey      *APIKeyConfig    `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// ServiceTokenSecret signs the HS256 tokens that internal callers
	// (the web app, sibling services) present on service-only endpoints
	// such as POST /v1/credits/debit.
	ServiceTokenSecret string `json:"service_token_secret,omitempty" yaml:"service_token_secret,omitempty"`
}

type ClerkAuthConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}

type APIKeyConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	HeaderNames []string `yaml:"header_names,omitempty" json:"header_names,omitzero"`
}
