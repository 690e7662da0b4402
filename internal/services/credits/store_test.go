package credits

import (
	"context"
	"testing"

	"github.com/gensy-ai/creative-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// In-memory sqlite is per-connection, keep the pool at one
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore(newTestDB(t))
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestGetOrCreateAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("provisions account on first read", func(t *testing.T) {
		account, err := store.GetOrCreateAccount(ctx, "user_new")
		require.NoError(t, err)
		assert.Equal(t, "user_new", account.UserID)
		assert.Equal(t, int64(0), account.Balance)
	})

	t.Run("returns existing account", func(t *testing.T) {
		first, err := store.GetOrCreateAccount(ctx, "user_existing")
		require.NoError(t, err)

		second, err := store.GetOrCreateAccount(ctx, "user_existing")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("rejects empty user ID", func(t *testing.T) {
		_, err := store.GetOrCreateAccount(ctx, "")
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeValidation))
	})
}

func TestAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("credit increases balance and records balance after", func(t *testing.T) {
		store := newTestStore(t)

		entry, err := store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_1",
			Kind:   models.TransactionPurchase,
			Amount: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(100), entry.BalanceAfter)

		balance, err := store.Balance(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)

		account, err := store.GetOrCreateAccount(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.TotalPurchased)
	})

	t.Run("debit decreases balance and tracks total used", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_2", Kind: models.TransactionPurchase, Amount: 100,
		})
		require.NoError(t, err)

		entry, err := store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_2", Kind: models.TransactionUsage, Amount: -30,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(70), entry.BalanceAfter)

		account, err := store.GetOrCreateAccount(ctx, "user_2")
		require.NoError(t, err)
		assert.Equal(t, int64(30), account.TotalUsed)
	})

	t.Run("rejects debit below zero", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_3", Kind: models.TransactionPurchase, Amount: 50,
		})
		require.NoError(t, err)

		_, err = store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_3", Kind: models.TransactionUsage, Amount: -51,
		})
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeInsufficientCredits))

		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, int64(51), appErr.Required)
		assert.Equal(t, int64(50), appErr.Available)

		// Rejected debit leaves no trace
		balance, err := store.Balance(ctx, "user_3")
		require.NoError(t, err)
		assert.Equal(t, int64(50), balance)

		entries, total, err := store.Transactions(ctx, "user_3", "", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Len(t, entries, 1)
	})

	t.Run("debit of exact balance drains to zero", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_4", Kind: models.TransactionPurchase, Amount: 25,
		})
		require.NoError(t, err)

		entry, err := store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_4", Kind: models.TransactionUsage, Amount: -25,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), entry.BalanceAfter)
	})

	t.Run("repeated debits stop at the floor", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.Append(ctx, models.AppendTransactionParams{
			UserID: "user_5", Kind: models.TransactionPurchase, Amount: 100,
		})
		require.NoError(t, err)

		successes := 0
		for range 10 {
			_, err := store.Append(ctx, models.AppendTransactionParams{
				UserID: "user_5", Kind: models.TransactionUsage, Amount: -30,
			})
			if err == nil {
				successes++
			} else {
				assert.True(t, models.IsErrorType(err, models.ErrorTypeInsufficientCredits))
			}
		}

		assert.Equal(t, 3, successes)

		balance, err := store.Balance(ctx, "user_5")
		require.NoError(t, err)
		assert.Equal(t, int64(10), balance)
	})
}

func TestTransactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, models.AppendTransactionParams{
		UserID: "user_hist", Kind: models.TransactionPurchase, Amount: 100,
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, models.AppendTransactionParams{
		UserID: "user_hist", Kind: models.TransactionUsage, Amount: -10,
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, models.AppendTransactionParams{
		UserID: "user_hist", Kind: models.TransactionRefund, Amount: 10, GenerationID: "gen_1",
	})
	require.NoError(t, err)

	t.Run("returns newest first", func(t *testing.T) {
		entries, total, err := store.Transactions(ctx, "user_hist", "", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, entries, 3)
		assert.Equal(t, models.TransactionRefund, entries[0].Kind)
		assert.Equal(t, models.TransactionPurchase, entries[2].Kind)
	})

	t.Run("filters by kind", func(t *testing.T) {
		entries, total, err := store.Transactions(ctx, "user_hist", models.TransactionUsage, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(-10), entries[0].Amount)
	})

	t.Run("does not leak other users", func(t *testing.T) {
		entries, total, err := store.Transactions(ctx, "user_other", "", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
		assert.Empty(t, entries)
	})
}

func TestHasRefundForGeneration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, models.AppendTransactionParams{
		UserID: "user_r", Kind: models.TransactionRefund, Amount: 5, GenerationID: "gen_refunded",
	})
	require.NoError(t, err)

	refunded, err := store.HasRefundForGeneration(store.DB(), "gen_refunded")
	require.NoError(t, err)
	assert.True(t, refunded)

	refunded, err = store.HasRefundForGeneration(store.DB(), "gen_fresh")
	require.NoError(t, err)
	assert.False(t, refunded)
}
