package middleware

import (
	"fmt"
	"strings"

	"github.com/gensy-ai/creative-ledger/internal/services/auth"

	"github.com/gofiber/fiber/v2"
)

type AuthMiddleware struct {
	clerkProvider *auth.ClerkAuthProvider
	apiKeyService *auth.APIKeyService
	serviceTokens *auth.ServiceTokenManager
	config        *AuthMiddlewareConfig
}

type AuthMiddlewareConfig struct {
	Enabled        bool
	ClerkSecretKey string
	HeaderNames    []string
	SkipPaths      []string
	EnableAPIKeys  bool
}

func DefaultAuthMiddlewareConfig() *AuthMiddlewareConfig {
	return &AuthMiddlewareConfig{
		Enabled:     true,
		HeaderNames: []string{"Authorization"},
		SkipPaths: []string{
			"/health",
			"/webhooks",
		},
		EnableAPIKeys: true,
	}
}

func NewAuthMiddleware(clerkProvider *auth.ClerkAuthProvider, apiKeyService *auth.APIKeyService, serviceTokens *auth.ServiceTokenManager, config *AuthMiddlewareConfig) *AuthMiddleware {
	if config == nil {
		config = DefaultAuthMiddlewareConfig()
	}
	if len(config.HeaderNames) == 0 {
		config.HeaderNames = []string{"Authorization"}
	}
	return &AuthMiddleware{
		clerkProvider: clerkProvider,
		apiKeyService: apiKeyService,
		serviceTokens: serviceTokens,
		config:        config,
	}
}

// RequireAuth authenticates the caller as an end user via Clerk session
// token or API key.
func (m *AuthMiddleware) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.config.Enabled || m.shouldSkipPath(c.Path()) {
			return c.Next()
		}

		token := m.extractToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		authCtx, err := m.validateToken(c, token)
		if err != nil || authCtx == nil {
			errMsg := "Invalid or expired token"
			if err != nil {
				errMsg = err.Error()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": errMsg,
			})
		}

		c.Locals("auth_context", authCtx)
		c.Locals("auth_type", string(authCtx.Type))

		return c.Next()
	}
}

// RequireServiceAuth authenticates internal service-to-service callers
// by signed service token. User credentials are not accepted here.
func (m *AuthMiddleware) RequireServiceAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.serviceTokens == nil || !m.serviceTokens.Enabled() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Service authentication is not configured",
			})
		}

		token := m.extractToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		caller, err := m.serviceTokens.Verify(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid service token",
			})
		}

		c.Locals("auth_context", &auth.AuthContext{
			Type:    auth.AuthTypeService,
			Service: &auth.ServiceAuthContext{Caller: caller},
		})

		return c.Next()
	}
}

func (m *AuthMiddleware) extractToken(c *fiber.Ctx) string {
	for _, headerName := range m.config.HeaderNames {
		if header := c.Get(headerName); header != "" {
			if after, ok := strings.CutPrefix(header, "Bearer "); ok {
				return after
			}
			return strings.TrimSpace(header)
		}
	}

	return ""
}

func (m *AuthMiddleware) validateToken(c *fiber.Ctx, token string) (*auth.AuthContext, error) {
	// API keys have a fixed prefix, so they can be routed without a
	// failed Clerk verification first
	if strings.HasPrefix(token, "gsk_") {
		if !m.config.EnableAPIKeys || m.apiKeyService == nil {
			return nil, fmt.Errorf("API key authentication is disabled")
		}
		return m.tryAPIKey(c, token)
	}

	if m.clerkProvider != nil {
		if authCtx, err := m.tryClerkToken(c, token); err == nil && authCtx != nil {
			return authCtx, nil
		}
	}

	return nil, fmt.Errorf("invalid token")
}

func (m *AuthMiddleware) tryClerkToken(c *fiber.Ctx, token string) (*auth.AuthContext, error) {
	claims, err := m.clerkProvider.ValidateToken(c.Context(), token)
	if err != nil {
		return nil, err
	}

	return &auth.AuthContext{
		Type: auth.AuthTypeClerk,
		Clerk: &auth.ClerkAuthContext{
			UserID: claims.Subject,
			Claims: claims,
		},
	}, nil
}

func (m *AuthMiddleware) tryAPIKey(c *fiber.Ctx, token string) (*auth.AuthContext, error) {
	apiKey, err := m.apiKeyService.ValidateAPIKey(c.Context(), token)
	if err != nil {
		return nil, err
	}

	scopes := []string{}
	if apiKey.Scopes != "" {
		scopes = strings.Split(apiKey.Scopes, ",")
	}

	return &auth.AuthContext{
		Type: auth.AuthTypeAPIKey,
		APIKey: &auth.APIKeyAuthContext{
			Key:    apiKey,
			UserID: apiKey.UserID,
			Scopes: scopes,
		},
	}, nil
}

func (m *AuthMiddleware) shouldSkipPath(path string) bool {
	for _, skipPath := range m.config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}
