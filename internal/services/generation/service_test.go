package generation

import (
	"context"
	"testing"

	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/credits"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db      *gorm.DB
	store   *credits.Store
	credits *credits.Service
	service *Service
}

func newTestEnv(t *testing.T, refundOnCancel bool) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// In-memory sqlite is per-connection, keep the pool at one
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := credits.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	creditService := credits.NewService(store)

	service := NewService(db, creditService, nil, refundOnCancel)
	require.NoError(t, service.AutoMigrate())

	return &testEnv{db: db, store: store, credits: creditService, service: service}
}

func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.credits.Credit(context.Background(), models.CreditParams{
		UserID: userID, Amount: amount, Kind: models.TransactionPurchase,
	})
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	balance, err := e.credits.Balance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func (e *testEnv) refundCount(t *testing.T, userID string) int64 {
	t.Helper()
	_, total, err := e.store.Transactions(context.Background(), userID, models.TransactionRefund, 100, 0)
	require.NoError(t, err)
	return total
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves credits and creates pending generation", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_1", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_1", Type: models.GenerationImage, CreditsRequired: 30,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, gen.ID)
		assert.Equal(t, models.GenerationPending, gen.Status)
		assert.Equal(t, int64(30), gen.CreditsUsed)
		assert.Equal(t, int64(70), env.balance(t, "user_1"))
	})

	t.Run("insufficient balance leaves no generation behind", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_2", 10)

		_, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_2", Type: models.GenerationVideo, CreditsRequired: 50,
		})
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeInsufficientCredits))

		var count int64
		require.NoError(t, env.db.Model(&models.Generation{}).Count(&count).Error)
		assert.Equal(t, int64(0), count)
		assert.Equal(t, int64(10), env.balance(t, "user_2"))
	})

	t.Run("zero cost generation is free", func(t *testing.T) {
		env := newTestEnv(t, false)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_3", Type: models.GenerationImage, CreditsRequired: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), gen.CreditsUsed)
		assert.Equal(t, int64(0), env.balance(t, "user_3"))
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		env := newTestEnv(t, false)

		_, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_4", Type: "hologram", CreditsRequired: 1,
		})
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeValidation))
	})
}

func TestStartBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("items charge independently", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_b", 50)

		batchID, results, err := env.service.StartBatch(ctx, models.StartBatchParams{
			UserID: "user_b",
			Items: []models.StartGenerationParams{
				{Type: models.GenerationImage, CreditsRequired: 30},
				{Type: models.GenerationImage, CreditsRequired: 30},
				{Type: models.GenerationImage, CreditsRequired: 20},
			},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, batchID)
		require.Len(t, results, 3)

		succeeded, failed := 0, 0
		for _, r := range results {
			if r.Generation != nil {
				assert.Equal(t, batchID, r.Generation.BatchID)
				succeeded++
			} else {
				require.NotNil(t, r.Error)
				assert.Equal(t, models.ErrorTypeInsufficientCredits, r.Error.Type)
				failed++
			}
		}
		// 50 credits can cover at most one 30 plus the 20, never all three
		assert.Equal(t, 1, failed)
		assert.Equal(t, 2, succeeded)
		assert.GreaterOrEqual(t, env.balance(t, "user_b"), int64(0))
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		env := newTestEnv(t, false)

		_, _, err := env.service.StartBatch(ctx, models.StartBatchParams{UserID: "user_b"})
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeValidation))
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("completes and keeps the charge", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_c", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_c", Type: models.GenerationImage, CreditsRequired: 40,
		})
		require.NoError(t, err)

		completed, err := env.service.Complete(ctx, gen.ID, "https://cdn.example.com/out.png")
		require.NoError(t, err)
		assert.Equal(t, models.GenerationCompleted, completed.Status)
		assert.Equal(t, "https://cdn.example.com/out.png", completed.ResultURL)
		assert.NotNil(t, completed.CompletedAt)

		assert.Equal(t, int64(60), env.balance(t, "user_c"))
		assert.Equal(t, int64(0), env.refundCount(t, "user_c"))
	})

	t.Run("repeat completion is idempotent", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_c2", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_c2", Type: models.GenerationImage, CreditsRequired: 40,
		})
		require.NoError(t, err)

		_, err = env.service.Complete(ctx, gen.ID, "https://cdn.example.com/a.png")
		require.NoError(t, err)

		again, err := env.service.Complete(ctx, gen.ID, "https://cdn.example.com/b.png")
		require.NoError(t, err)
		// First completion wins, the result URL does not change
		assert.Equal(t, "https://cdn.example.com/a.png", again.ResultURL)
		assert.Equal(t, int64(60), env.balance(t, "user_c2"))
	})

	t.Run("cannot complete a failed generation", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_c3", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_c3", Type: models.GenerationImage, CreditsRequired: 40,
		})
		require.NoError(t, err)

		_, err = env.service.Fail(ctx, gen.ID, "provider error")
		require.NoError(t, err)

		_, err = env.service.Complete(ctx, gen.ID, "https://cdn.example.com/late.png")
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeInvalidState))
	})

	t.Run("unknown generation", func(t *testing.T) {
		env := newTestEnv(t, false)

		_, err := env.service.Complete(ctx, "missing", "")
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeNotFound))
	})
}

func TestFail(t *testing.T) {
	ctx := context.Background()

	t.Run("failure refunds the charge exactly once", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_f", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_f", Type: models.GenerationVideo, CreditsRequired: 60,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(40), env.balance(t, "user_f"))

		failed, err := env.service.Fail(ctx, gen.ID, "model crashed")
		require.NoError(t, err)
		assert.Equal(t, models.GenerationFailed, failed.Status)
		assert.Equal(t, "model crashed", failed.ErrorMessage)
		assert.Equal(t, int64(100), env.balance(t, "user_f"))

		// Repeat failure neither errors nor refunds again
		_, err = env.service.Fail(ctx, gen.ID, "model crashed again")
		require.NoError(t, err)
		assert.Equal(t, int64(100), env.balance(t, "user_f"))
		assert.Equal(t, int64(1), env.refundCount(t, "user_f"))
	})

	t.Run("zero cost failure writes no refund", func(t *testing.T) {
		env := newTestEnv(t, false)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_f2", Type: models.GenerationImage, CreditsRequired: 0,
		})
		require.NoError(t, err)

		_, err = env.service.Fail(ctx, gen.ID, "provider error")
		require.NoError(t, err)
		assert.Equal(t, int64(0), env.refundCount(t, "user_f2"))
	})

	t.Run("cannot fail a completed generation", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_f3", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_f3", Type: models.GenerationImage, CreditsRequired: 10,
		})
		require.NoError(t, err)

		_, err = env.service.Complete(ctx, gen.ID, "https://cdn.example.com/done.png")
		require.NoError(t, err)

		_, err = env.service.Fail(ctx, gen.ID, "too late")
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeInvalidState))
		assert.Equal(t, int64(90), env.balance(t, "user_f3"))
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel without refund forfeits the charge", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_x", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_x", Type: models.GenerationImage, CreditsRequired: 30,
		})
		require.NoError(t, err)

		cancelled, err := env.service.Cancel(ctx, gen.ID, "user_x")
		require.NoError(t, err)
		assert.Equal(t, models.GenerationFailed, cancelled.Status)
		assert.Equal(t, models.ErrorReasonCancelled, cancelled.ErrorMessage)
		assert.Equal(t, int64(70), env.balance(t, "user_x"))
	})

	t.Run("cancel with refund policy returns the charge", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.fund(t, "user_y", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_y", Type: models.GenerationImage, CreditsRequired: 30,
		})
		require.NoError(t, err)

		_, err = env.service.Cancel(ctx, gen.ID, "user_y")
		require.NoError(t, err)
		assert.Equal(t, int64(100), env.balance(t, "user_y"))
	})

	t.Run("cannot cancel a completed generation", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.fund(t, "user_z", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_z", Type: models.GenerationImage, CreditsRequired: 30,
		})
		require.NoError(t, err)

		_, err = env.service.Complete(ctx, gen.ID, "https://cdn.example.com/done.png")
		require.NoError(t, err)

		_, err = env.service.Cancel(ctx, gen.ID, "user_z")
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeInvalidState))
		assert.Equal(t, int64(70), env.balance(t, "user_z"))
	})

	t.Run("foreign generation reads as not found", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.fund(t, "user_owner", 100)

		gen, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_owner", Type: models.GenerationImage, CreditsRequired: 10,
		})
		require.NoError(t, err)

		_, err = env.service.Cancel(ctx, gen.ID, "user_intruder")
		require.Error(t, err)
		assert.True(t, models.IsErrorType(err, models.ErrorTypeNotFound))
	})
}

func TestMarkProcessing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	env.fund(t, "user_p", 100)

	gen, err := env.service.Start(ctx, models.StartGenerationParams{
		UserID: "user_p", Type: models.GenerationVideo, CreditsRequired: 10,
	})
	require.NoError(t, err)

	processing, err := env.service.MarkProcessing(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationProcessing, processing.Status)

	// Repeat is a no-op
	again, err := env.service.MarkProcessing(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationProcessing, again.Status)

	_, err = env.service.Complete(ctx, gen.ID, "")
	require.NoError(t, err)

	_, err = env.service.MarkProcessing(ctx, gen.ID)
	require.Error(t, err)
	assert.True(t, models.IsErrorType(err, models.ErrorTypeInvalidState))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	env.fund(t, "user_l", 100)

	for range 3 {
		_, err := env.service.Start(ctx, models.StartGenerationParams{
			UserID: "user_l", Type: models.GenerationImage, CreditsRequired: 10,
		})
		require.NoError(t, err)
	}
	gen, err := env.service.Start(ctx, models.StartGenerationParams{
		UserID: "user_l", Type: models.GenerationVideo, CreditsRequired: 10,
	})
	require.NoError(t, err)
	_, err = env.service.Fail(ctx, gen.ID, "boom")
	require.NoError(t, err)

	t.Run("all", func(t *testing.T) {
		gens, total, err := env.service.List(ctx, "user_l", "", "", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, gens, 4)
	})

	t.Run("by status", func(t *testing.T) {
		_, total, err := env.service.List(ctx, "user_l", models.GenerationFailed, "", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("by type", func(t *testing.T) {
		_, total, err := env.service.List(ctx, "user_l", "", models.GenerationImage, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})
}
