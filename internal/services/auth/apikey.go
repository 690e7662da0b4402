package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gensy-ai/creative-ledger/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// APIKeyService manages programmatic access keys. Only the SHA-256 hash
// is stored; the plaintext key leaves the service exactly once, in the
// create response.
type APIKeyService struct {
	db *gorm.DB
}

func NewAPIKeyService(db *gorm.DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// AutoMigrate creates the api_keys table
func (s *APIKeyService) AutoMigrate() error {
	return s.db.AutoMigrate(&models.APIKey{})
}

// CreateAPIKey mints a new key for the user
func (s *APIKeyService) CreateAPIKey(ctx context.Context, req models.APIKeyCreateRequest) (*models.APIKeyResponse, error) {
	if req.Name == "" {
		return nil, models.NewValidationError("key name is required", nil)
	}
	if req.UserID == "" {
		return nil, models.NewValidationError("user ID is required", nil)
	}

	rawKey, err := models.GenerateAPIKey()
	if err != nil {
		return nil, models.NewInternalError("failed to generate API key", err)
	}

	key := models.APIKey{
		Name:      req.Name,
		KeyHash:   models.HashAPIKey(rawKey),
		KeyPrefix: models.ExtractKeyPrefix(rawKey),
		UserID:    req.UserID,
		Scopes:    strings.Join(req.Scopes, ","),
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	fiberlog.Infof("Created API key %s (%s) for user %s", key.KeyPrefix, key.Name, key.UserID)

	resp := toAPIKeyResponse(&key)
	resp.Key = rawKey
	return resp, nil
}

// ValidateAPIKey resolves a raw key to its record, rejecting revoked and
// expired keys.
func (s *APIKeyService) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if !strings.HasPrefix(rawKey, "gsk_") {
		return nil, fmt.Errorf("invalid API key format")
	}

	var key models.APIKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", models.HashAPIKey(rawKey), true).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate API key: %w", err)
	}

	if !key.ExpiresAt.IsZero() && time.Now().After(key.ExpiresAt) {
		return nil, fmt.Errorf("API key expired")
	}

	// Last-used tracking is advisory, a failed update never blocks auth
	if err := s.db.WithContext(ctx).Model(&key).Update("last_used_at", time.Now()).Error; err != nil {
		fiberlog.Warnf("Failed to update last_used_at for API key %s: %v", key.KeyPrefix, err)
	}

	return &key, nil
}

// ListAPIKeys returns the user's keys, hashes excluded
func (s *APIKeyService) ListAPIKeys(ctx context.Context, userID string) ([]models.APIKeyResponse, error) {
	var keys []models.APIKey
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}

	responses := make([]models.APIKeyResponse, 0, len(keys))
	for i := range keys {
		responses = append(responses, *toAPIKeyResponse(&keys[i]))
	}
	return responses, nil
}

// RevokeAPIKey deactivates a key owned by the user
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, userID string, keyID uint) error {
	result := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("API key", fmt.Sprintf("%d", keyID))
	}
	return nil
}

func toAPIKeyResponse(key *models.APIKey) *models.APIKeyResponse {
	return &models.APIKeyResponse{
		ID:         key.ID,
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		UserID:     key.UserID,
		Scopes:     key.Scopes,
		IsActive:   key.IsActive,
		ExpiresAt:  key.ExpiresAt,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
	}
}
