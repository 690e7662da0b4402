package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

type APIKey struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"not null;size:255" json:"name"`
	KeyHash    string    `gorm:"uniqueIndex;not null;size:64" json:"-"`
	KeyPrefix  string    `gorm:"not null;index;size:12" json:"key_prefix"`
	UserID     string    `gorm:"size:255;index;default:''" json:"user_id,omitempty"`
	Scopes     string    `gorm:"type:text;default:''" json:"scopes,omitzero"`
	IsActive   bool      `gorm:"not null;default:true;index" json:"is_active"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

type APIKeyCreateRequest struct {
	Name      string    `json:"name" validate:"required,min=1,max=255"`
	UserID    string    `json:"user_id,omitempty"`
	Scopes    []string  `json:"scopes,omitzero"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type APIKeyResponse struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key,omitzero"`
	KeyPrefix  string    `json:"key_prefix"`
	UserID     string    `json:"user_id,omitempty"`
	Scopes     string    `json:"scopes,omitzero"`
	IsActive   bool      `json:"is_active"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return "gsk_" + base64.URLEncoding.EncodeToString(b)[:43], nil
}

func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}

func ExtractKeyPrefix(key string) string {
	if len(key) < 12 {
		return key
	}
	return key[:12]
}
