package credits

import (
	"context"
	"testing"

	"github.com/gensy-ai/creative-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *Store) {
	t.Helper()

	store := newTestStore(t)
	return NewService(store), store
}

func TestHasSufficientBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID: "user_1", Amount: 100, Kind: models.TransactionPurchase,
	})
	require.NoError(t, err)

	t.Run("sufficient", func(t *testing.T) {
		check, err := svc.HasSufficientBalance(ctx, "user_1", 100)
		require.NoError(t, err)
		assert.True(t, check.Sufficient)
		assert.Equal(t, int64(100), check.CurrentBalance)
		assert.Equal(t, int64(0), check.Shortfall)
	})

	t.Run("insufficient reports shortfall", func(t *testing.T) {
		check, err := svc.HasSufficientBalance(ctx, "user_1", 130)
		require.NoError(t, err)
		assert.False(t, check.Sufficient)
		assert.Equal(t, int64(30), check.Shortfall)
	})

	t.Run("zero required always passes", func(t *testing.T) {
		check, err := svc.HasSufficientBalance(ctx, "user_fresh", 0)
		require.NoError(t, err)
		assert.True(t, check.Sufficient)
		assert.Equal(t, int64(0), check.CurrentBalance)
	})

	t.Run("negative required rejected", func(t *testing.T) {
		_, err := svc.HasSufficientBalance(ctx, "user_1", -1)
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeValidation))
	})
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("successful debit", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Credit(ctx, models.CreditParams{UserID: "user_d", Amount: 50})
		require.NoError(t, err)

		result, err := svc.Debit(ctx, models.DebitParams{
			UserID: "user_d", Amount: 20, Description: "image generation",
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(30), result.NewBalance)
	})

	t.Run("insufficient debit surfaces required and available", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Credit(ctx, models.CreditParams{UserID: "user_poor", Amount: 5})
		require.NoError(t, err)

		_, err = svc.Debit(ctx, models.DebitParams{UserID: "user_poor", Amount: 10})
		require.Error(t, err)

		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, models.ErrorTypeInsufficientCredits, appErr.Type)
		assert.Equal(t, int64(10), appErr.Required)
		assert.Equal(t, int64(5), appErr.Available)
	})

	t.Run("zero amount still records a usage entry", func(t *testing.T) {
		svc, store := newTestService(t)

		result, err := svc.Debit(ctx, models.DebitParams{
			UserID: "user_free", Amount: 0, Description: "free preview",
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(0), result.NewBalance)

		entries, total, err := store.Transactions(ctx, "user_free", models.TransactionUsage, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, int64(0), entries[0].Amount)
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Debit(ctx, models.DebitParams{UserID: "user_d", Amount: -1})
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeValidation))
	})
}

func TestRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("refund restores balance", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Credit(ctx, models.CreditParams{UserID: "user_r", Amount: 40})
		require.NoError(t, err)
		_, err = svc.Debit(ctx, models.DebitParams{UserID: "user_r", Amount: 25, GenerationID: "gen_a"})
		require.NoError(t, err)

		result, err := svc.Refund(ctx, "user_r", 25, "gen_a", "refund for failed generation")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(40), result.NewBalance)
	})

	t.Run("second refund for same generation is a no-op", func(t *testing.T) {
		svc, store := newTestService(t)

		_, err := svc.Credit(ctx, models.CreditParams{UserID: "user_rr", Amount: 40})
		require.NoError(t, err)
		_, err = svc.Debit(ctx, models.DebitParams{UserID: "user_rr", Amount: 25, GenerationID: "gen_b"})
		require.NoError(t, err)

		first, err := svc.Refund(ctx, "user_rr", 25, "gen_b", "refund")
		require.NoError(t, err)
		assert.True(t, first.Success)

		second, err := svc.Refund(ctx, "user_rr", 25, "gen_b", "refund")
		require.NoError(t, err)
		assert.False(t, second.Success)

		balance, err := svc.Balance(ctx, "user_rr")
		require.NoError(t, err)
		assert.Equal(t, int64(40), balance)

		_, total, err := store.Transactions(ctx, "user_rr", models.TransactionRefund, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("zero amount writes no refund entry", func(t *testing.T) {
		svc, store := newTestService(t)

		result, err := svc.Refund(ctx, "user_z", 0, "gen_free", "refund")
		require.NoError(t, err)
		assert.False(t, result.Success)

		_, total, err := store.Transactions(ctx, "user_z", models.TransactionRefund, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})

	t.Run("generation ID is required", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Refund(ctx, "user_r", 10, "", "refund")
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeValidation))
	})
}

func TestCredit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("defaults kind to purchase", func(t *testing.T) {
		result, err := svc.Credit(ctx, models.CreditParams{UserID: "user_c", Amount: 10})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(10), result.NewBalance)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := svc.Credit(ctx, models.CreditParams{UserID: "user_c", Amount: 0})
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeValidation))
	})
}
