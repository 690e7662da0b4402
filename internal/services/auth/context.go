package auth

import (
	"github.com/gensy-ai/creative-ledger/internal/models"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/gofiber/fiber/v2"
)

type AuthType string

const (
	AuthTypeClerk   AuthType = "clerk"
	AuthTypeAPIKey  AuthType = "api_key"
	AuthTypeService AuthType = "service"
)

// AuthContext describes who is calling: an end user via Clerk session,
// a programmatic caller via API key, or a sibling service via signed
// service token.
type AuthContext struct {
	Type    AuthType
	Clerk   *ClerkAuthContext
	APIKey  *APIKeyAuthContext
	Service *ServiceAuthContext
}

type ClerkAuthContext struct {
	UserID string
	Claims *clerk.SessionClaims
}

type APIKeyAuthContext struct {
	Key    *models.APIKey
	UserID string
	Scopes []string
}

type ServiceAuthContext struct {
	// Caller is the service name baked into the token subject
	Caller string
}

func (a *AuthContext) GetUserID() (string, bool) {
	switch a.Type {
	case AuthTypeClerk:
		if a.Clerk != nil {
			return a.Clerk.UserID, a.Clerk.UserID != ""
		}
	case AuthTypeAPIKey:
		if a.APIKey != nil {
			return a.APIKey.UserID, a.APIKey.UserID != ""
		}
	}
	return "", false
}

func (a *AuthContext) IsClerk() bool {
	return a.Type == AuthTypeClerk
}

func (a *AuthContext) IsAPIKey() bool {
	return a.Type == AuthTypeAPIKey
}

func (a *AuthContext) IsService() bool {
	return a.Type == AuthTypeService
}

func GetAuthContext(c *fiber.Ctx) *AuthContext {
	authCtx, ok := c.Locals("auth_context").(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

func GetUserID(c *fiber.Ctx) (string, bool) {
	authCtx := GetAuthContext(c)
	if authCtx == nil {
		return "", false
	}
	return authCtx.GetUserID()
}

func IsServiceAuth(c *fiber.Ctx) bool {
	authCtx := GetAuthContext(c)
	return authCtx != nil && authCtx.IsService()
}
