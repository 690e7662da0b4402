package credits

import (
	"context"

	"github.com/gensy-ai/creative-ledger/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Service implements credit accounting on top of the ledger store:
// debits, credits, refunds and balance checks. Amounts at this layer are
// non-negative; the sign comes from the operation.
type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Balance returns the user's current credit balance
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.store.Balance(ctx, userID)
}

// HasSufficientBalance checks affordability without mutating anything.
// The answer is advisory: the authoritative check happens atomically
// inside Debit, so a passing check can still lose to a concurrent charge.
func (s *Service) HasSufficientBalance(ctx context.Context, userID string, required int64) (*models.BalanceCheck, error) {
	if required < 0 {
		return nil, models.NewValidationError("required amount must be non-negative", nil)
	}

	balance, err := s.store.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	check := &models.BalanceCheck{
		Sufficient:     balance >= required,
		CurrentBalance: balance,
		Required:       required,
	}
	if !check.Sufficient {
		check.Shortfall = required - balance
	}
	return check, nil
}

// Debit charges the user in its own transaction. A zero amount is
// recorded as a no-op usage entry so free operations still appear in
// history. Returns an insufficient-credits error when the atomic floor
// check rejects the charge.
func (s *Service) Debit(ctx context.Context, params models.DebitParams) (*models.DebitResult, error) {
	var result *models.DebitResult
	err := s.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.DebitTx(tx, params)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DebitTx charges the user inside the caller's transaction so the charge
// rolls back together with whatever the caller is reserving.
func (s *Service) DebitTx(tx *gorm.DB, params models.DebitParams) (*models.DebitResult, error) {
	if params.Amount < 0 {
		return nil, models.NewValidationError("debit amount must be non-negative", nil)
	}

	entry, err := s.store.AppendTx(tx, models.AppendTransactionParams{
		UserID:       params.UserID,
		Kind:         models.TransactionUsage,
		Amount:       -params.Amount,
		Description:  params.Description,
		GenerationID: params.GenerationID,
		Metadata:     params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Debugf("Debited %d credits from user %s, balance now %d",
		params.Amount, params.UserID, entry.BalanceAfter)

	return &models.DebitResult{Success: true, NewBalance: entry.BalanceAfter}, nil
}

// Credit adds credits to the user's balance
func (s *Service) Credit(ctx context.Context, params models.CreditParams) (*models.CreditResult, error) {
	if params.Amount <= 0 {
		return nil, models.NewValidationError("credit amount must be positive", nil)
	}

	kind := params.Kind
	if kind == "" {
		kind = models.TransactionPurchase
	}

	entry, err := s.store.Append(ctx, models.AppendTransactionParams{
		UserID:            params.UserID,
		Kind:              kind,
		Amount:            params.Amount,
		Description:       params.Description,
		GenerationID:      params.GenerationID,
		PaymentIntentID:   params.PaymentIntentID,
		CheckoutSessionID: params.CheckoutSessionID,
		Metadata:          params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Infof("Credited %d credits to user %s (%s), balance now %d",
		params.Amount, params.UserID, kind, entry.BalanceAfter)

	return &models.CreditResult{Success: true, NewBalance: entry.BalanceAfter}, nil
}

// RefundTx returns a generation's charge inside the caller's transaction.
// At most one refund entry can ever exist per generation: a second call
// finds the existing entry and returns without writing.
func (s *Service) RefundTx(tx *gorm.DB, userID string, amount int64, generationID, description string) (*models.CreditResult, error) {
	if amount < 0 {
		return nil, models.NewValidationError("refund amount must be non-negative", nil)
	}
	if generationID == "" {
		return nil, models.NewValidationError("generation ID is required for refunds", nil)
	}

	refunded, err := s.store.HasRefundForGeneration(tx, generationID)
	if err != nil {
		return nil, err
	}
	if refunded {
		fiberlog.Warnf("Refund for generation %s already recorded, skipping", generationID)
		return &models.CreditResult{Success: false}, nil
	}

	// Zero-cost generations get no refund entry at all
	if amount == 0 {
		return &models.CreditResult{Success: false}, nil
	}

	entry, err := s.store.AppendTx(tx, models.AppendTransactionParams{
		UserID:       userID,
		Kind:         models.TransactionRefund,
		Amount:       amount,
		Description:  description,
		GenerationID: generationID,
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Infof("Refunded %d credits to user %s for generation %s, balance now %d",
		amount, userID, generationID, entry.BalanceAfter)

	return &models.CreditResult{Success: true, NewBalance: entry.BalanceAfter}, nil
}

// Refund is the standalone variant running in its own transaction
func (s *Service) Refund(ctx context.Context, userID string, amount int64, generationID, description string) (*models.CreditResult, error) {
	var result *models.CreditResult
	err := s.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.RefundTx(tx, userID, amount, generationID, description)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// History returns the user's ledger entries newest first
func (s *Service) History(ctx context.Context, userID string, kind models.TransactionKind, limit, offset int) ([]models.CreditTransaction, int64, error) {
	return s.store.Transactions(ctx, userID, kind, limit, offset)
}
