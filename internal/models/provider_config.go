package models

// ProviderConfig describes one external generation provider whose job
// status the poller can query. The map key in Config.Providers is the
// provider name stored on each Generation row.
type ProviderConfig struct {
	Kind           string            `yaml:"kind" json:"kind"` // vertex, bytedance, bfl, minimax
	APIKey         string            `yaml:"api_key,omitempty" json:"api_key,omitzero"`
	BaseURL        string            `yaml:"base_url,omitempty" json:"base_url,omitzero"`
	AuthHeaderName string            `yaml:"auth_header_name,omitempty" json:"auth_header_name,omitzero"`
	TimeoutMs      int               `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitzero"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitzero"`

	// Vertex AI only.
	Project  string `yaml:"project,omitempty" json:"project,omitzero"`
	Location string `yaml:"location,omitempty" json:"location,omitzero"`

	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty" json:"circuit_breaker,omitzero"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold,omitempty" json:"failure_threshold,omitzero"`
	SuccessThreshold int `yaml:"success_threshold,omitempty" json:"success_threshold,omitzero"`
	TimeoutMs        int `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitzero"`
	ResetAfterMs     int `yaml:"reset_after_ms,omitempty" json:"reset_after_ms,omitzero"`
}
