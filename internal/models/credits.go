package models

import "time"

type TransactionKind string

const (
	TransactionPurchase TransactionKind = "purchase"
	TransactionUsage    TransactionKind = "usage"
	TransactionRefund   TransactionKind = "refund"
	TransactionBonus    TransactionKind = "bonus"
)

// Account caches the replayable transaction sum for O(1) balance reads.
// Balance is denominated in whole credits and never goes below zero.
type Account struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"uniqueIndex;not null;size:255" json:"user_id"`
	Balance        int64     `gorm:"not null;default:0" json:"balance"`
	TotalPurchased int64     `gorm:"not null;default:0" json:"total_purchased"`
	TotalUsed      int64     `gorm:"not null;default:0" json:"total_used"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// CreditTransaction is an append-only ledger entry. Rows are never
// updated or deleted after insert.
type CreditTransaction struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string          `gorm:"not null;index;size:255" json:"user_id"`
	Kind              TransactionKind `gorm:"not null;index;size:20" json:"kind"`
	Amount            int64           `gorm:"not null" json:"amount"`
	BalanceAfter      int64           `gorm:"not null" json:"balance_after"`
	Description       string          `gorm:"type:text;default:''" json:"description,omitempty"`
	GenerationID      string          `gorm:"index;size:36;default:''" json:"generation_id,omitempty"`
	PaymentIntentID   string          `gorm:"index;size:100;default:''" json:"payment_intent_id,omitempty"`
	CheckoutSessionID string          `gorm:"size:100;default:''" json:"checkout_session_id,omitempty"`
	Metadata          Metadata        `json:"metadata"`
	CreatedAt         time.Time       `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

// CreditPackage is a purchasable bundle mapped to a Stripe price.
type CreditPackage struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"not null;size:100" json:"name"`
	Description   string    `gorm:"type:text;default:''" json:"description,omitempty"`
	Credits       int64     `gorm:"not null" json:"credits"`
	Price         float64   `gorm:"not null" json:"price"`
	StripePriceID string    `gorm:"uniqueIndex;not null;size:100" json:"stripe_price_id"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// AppendTransactionParams is the store-level write. Amount is signed:
// negative amounts are rejected atomically when they would drive the
// balance below zero.
type AppendTransactionParams struct {
	UserID            string
	Kind              TransactionKind
	Amount            int64
	Description       string
	GenerationID      string
	PaymentIntentID   string
	CheckoutSessionID string
	Metadata          Metadata
}

// Service-level params carry non-negative amounts; the sign is applied
// by kind inside the accounting service.
type DebitParams struct {
	UserID       string
	Amount       int64
	Description  string
	GenerationID string
	Metadata     Metadata
}

type CreditParams struct {
	UserID            string
	Amount            int64
	Kind              TransactionKind
	Description       string
	GenerationID      string
	PaymentIntentID   string
	CheckoutSessionID string
	Metadata          Metadata
}

type DebitResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"new_balance"`
	Required   int64 `json:"required,omitzero"`
	Available  int64 `json:"available,omitzero"`
}

type CreditResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"new_balance"`
}

type BalanceCheck struct {
	Sufficient     bool  `json:"sufficient"`
	CurrentBalance int64 `json:"current_balance"`
	Required       int64 `json:"required"`
	Shortfall      int64 `json:"shortfall,omitzero"`
}
