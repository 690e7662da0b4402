package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/gensy-ai/creative-ledger/internal/models"

	"gorm.io/gorm"
)

// Store owns the two ledger tables: the account row holding the cached
// balance and the append-only credit_transactions log. All balance
// mutations go through AppendTx so the two stay consistent.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the ledger tables
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Account{},
		&models.CreditTransaction{},
		&models.CreditPackage{},
	)
}

// GetOrCreateAccount provisions the account row on first touch so new
// users read a zero balance instead of a not-found error.
func (s *Store) GetOrCreateAccount(ctx context.Context, userID string) (*models.Account, error) {
	return s.getOrCreateAccountTx(s.db.WithContext(ctx), userID)
}

func (s *Store) getOrCreateAccountTx(tx *gorm.DB, userID string) (*models.Account, error) {
	if userID == "" {
		return nil, models.NewValidationError("user ID is required", nil)
	}

	var account models.Account
	err := tx.Where("user_id = ?", userID).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load account for user %s: %w", userID, err)
	}

	account = models.Account{UserID: userID, Balance: 0}
	if err := tx.Create(&account).Error; err != nil {
		// Lost a provisioning race, the row exists now
		if retryErr := tx.Where("user_id = ?", userID).First(&account).Error; retryErr == nil {
			return &account, nil
		}
		return nil, fmt.Errorf("failed to create account for user %s: %w", userID, err)
	}

	return &account, nil
}

// Balance returns the current balance, zero for users with no account yet
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	account, err := s.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Append applies a signed ledger entry in its own transaction.
func (s *Store) Append(ctx context.Context, params models.AppendTransactionParams) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.AppendTx(tx, params)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendTx applies a signed ledger entry inside the caller's transaction.
// Negative amounts use an atomic conditional update so the balance can
// never be driven below zero, even under concurrent debits. Callers that
// bundle the debit with other writes (generation reserve) get the check
// and the rollback for free.
func (s *Store) AppendTx(tx *gorm.DB, params models.AppendTransactionParams) (*models.CreditTransaction, error) {
	if params.UserID == "" {
		return nil, models.NewValidationError("user ID is required", nil)
	}

	account, err := s.getOrCreateAccountTx(tx, params.UserID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"balance": gorm.Expr("balance + ?", params.Amount),
	}
	query := tx.Model(&models.Account{}).Where("user_id = ?", params.UserID)

	if params.Amount < 0 {
		// The floor check and the decrement are a single statement, so two
		// racing debits cannot both observe a sufficient balance.
		query = query.Where("balance >= ?", -params.Amount)
		updates["total_used"] = gorm.Expr("total_used + ?", -params.Amount)
	} else if params.Kind == models.TransactionPurchase || params.Kind == models.TransactionBonus {
		updates["total_purchased"] = gorm.Expr("total_purchased + ?", params.Amount)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update balance for user %s: %w", params.UserID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.NewInsufficientCreditsError(-params.Amount, account.Balance)
	}

	var updated models.Account
	if err := tx.Where("user_id = ?", params.UserID).First(&updated).Error; err != nil {
		return nil, fmt.Errorf("failed to reload account for user %s: %w", params.UserID, err)
	}

	entry := &models.CreditTransaction{
		UserID:            params.UserID,
		Kind:              params.Kind,
		Amount:            params.Amount,
		BalanceAfter:      updated.Balance,
		Description:       params.Description,
		GenerationID:      params.GenerationID,
		PaymentIntentID:   params.PaymentIntentID,
		CheckoutSessionID: params.CheckoutSessionID,
		Metadata:          params.Metadata,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append credit transaction: %w", err)
	}

	return entry, nil
}

// Transactions returns the user's ledger entries newest first, optionally
// filtered by kind.
func (s *Store) Transactions(ctx context.Context, userID string, kind models.TransactionKind, limit, offset int) ([]models.CreditTransaction, int64, error) {
	if userID == "" {
		return nil, 0, models.NewValidationError("user ID is required", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("user_id = ?", userID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count credit transactions: %w", err)
	}

	var entries []models.CreditTransaction
	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list credit transactions: %w", err)
	}

	return entries, total, nil
}

// HasRefundForGeneration reports whether a refund entry already exists
// for the generation inside the caller's transaction.
func (s *Store) HasRefundForGeneration(tx *gorm.DB, generationID string) (bool, error) {
	var count int64
	err := tx.Model(&models.CreditTransaction{}).
		Where("generation_id = ? AND kind = ?", generationID, models.TransactionRefund).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check refund for generation %s: %w", generationID, err)
	}
	return count > 0, nil
}

// HasTransactionForPaymentIntent guards Stripe webhook retries against
// double-crediting a purchase.
func (s *Store) HasTransactionForPaymentIntent(ctx context.Context, paymentIntentID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("payment_intent_id = ?", paymentIntentID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check payment intent %s: %w", paymentIntentID, err)
	}
	return count > 0, nil
}

// DB exposes the underlying handle for services that need to compose
// ledger writes with their own rows in one transaction.
func (s *Store) DB() *gorm.DB {
	return s.db
}
