package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/credits"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const maxBatchConcurrency = 8

// Service drives the generation lifecycle. Every transition is a
// conditional update keyed on the current status, so concurrent callers
// race for the single permitted transition and losers observe the
// winner's terminal state.
type Service struct {
	db             *gorm.DB
	credits        *credits.Service
	events         *EventRecorder
	refundOnCancel bool
}

func NewService(db *gorm.DB, creditService *credits.Service, events *EventRecorder, refundOnCancel bool) *Service {
	return &Service{
		db:             db,
		credits:        creditService,
		events:         events,
		refundOnCancel: refundOnCancel,
	}
}

// AutoMigrate creates the generation tables
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Generation{}, &models.GenerationEvent{})
}

func (s *Service) recordEvent(generationID, userID string, from, to models.GenerationStatus, detail string) {
	if s.events == nil {
		return
	}
	s.events.Record(models.GenerationEvent{
		GenerationID: generationID,
		UserID:       userID,
		FromStatus:   from,
		ToStatus:     to,
		Detail:       detail,
	})
}

// Start reserves credits and creates the generation in one transaction.
// If the debit is rejected the row never becomes visible, so there is no
// window where a generation exists without its charge.
func (s *Service) Start(ctx context.Context, params models.StartGenerationParams) (*models.Generation, error) {
	if params.UserID == "" {
		return nil, models.NewValidationError("user ID is required", nil)
	}
	if !params.Type.Valid() {
		return nil, models.NewValidationError(fmt.Sprintf("unknown generation type %q", params.Type), nil)
	}
	if params.CreditsRequired < 0 {
		return nil, models.NewValidationError("credits required must be non-negative", nil)
	}

	gen := &models.Generation{
		ID:            uuid.NewString(),
		UserID:        params.UserID,
		Type:          params.Type,
		Status:        models.GenerationPending,
		CreditsUsed:   params.CreditsRequired,
		Provider:      params.Provider,
		ProviderJobID: params.ProviderJobID,
		BatchID:       params.BatchID,
		Metadata:      params.Metadata,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(gen).Error; err != nil {
			return fmt.Errorf("failed to create generation: %w", err)
		}

		_, err := s.credits.DebitTx(tx, models.DebitParams{
			UserID:       params.UserID,
			Amount:       params.CreditsRequired,
			Description:  fmt.Sprintf("%s generation", params.Type),
			GenerationID: gen.ID,
			Metadata:     params.Metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Infof("Started generation %s for user %s (%s, %d credits)",
		gen.ID, params.UserID, params.Type, params.CreditsRequired)
	s.recordEvent(gen.ID, params.UserID, "", models.GenerationPending, "generation started")

	return gen, nil
}

// StartBatch reserves each item independently so one unaffordable item
// fails alone instead of sinking its siblings. All items share a batch ID.
func (s *Service) StartBatch(ctx context.Context, params models.StartBatchParams) (string, []models.BatchItemResult, error) {
	if params.UserID == "" {
		return "", nil, models.NewValidationError("user ID is required", nil)
	}
	if len(params.Items) == 0 {
		return "", nil, models.NewValidationError("batch must contain at least one item", nil)
	}

	batchID := uuid.NewString()
	results := make([]models.BatchItemResult, len(params.Items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchConcurrency)

	for i, item := range params.Items {
		item.UserID = params.UserID
		item.BatchID = batchID

		g.Go(func() error {
			gen, err := s.Start(ctx, item)
			if err != nil {
				results[i] = models.BatchItemResult{Error: models.SanitizeError(err)}
				return nil
			}
			results[i] = models.BatchItemResult{Generation: gen}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	return batchID, results, nil
}

// Get loads a generation by ID
func (s *Service) Get(ctx context.Context, id string) (*models.Generation, error) {
	var gen models.Generation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&gen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("generation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load generation %s: %w", id, err)
	}
	return &gen, nil
}

// GetForUser loads a generation and enforces ownership. A foreign
// generation reads as not found rather than forbidden.
func (s *Service) GetForUser(ctx context.Context, id, userID string) (*models.Generation, error) {
	gen, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if gen.UserID != userID {
		return nil, models.NewNotFoundError("generation", id)
	}
	return gen, nil
}

// List returns the user's generations newest first with optional filters
func (s *Service) List(ctx context.Context, userID string, status models.GenerationStatus, genType models.GenerationType, limit, offset int) ([]models.Generation, int64, error) {
	if userID == "" {
		return nil, 0, models.NewValidationError("user ID is required", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&models.Generation{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if genType != "" {
		query = query.Where("type = ?", genType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count generations: %w", err)
	}

	var gens []models.Generation
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&gens).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list generations: %w", err)
	}

	return gens, total, nil
}

// MarkProcessing advances pending to processing. Already processing is a
// no-op; terminal states reject the transition.
func (s *Service) MarkProcessing(ctx context.Context, id string) (*models.Generation, error) {
	result := s.db.WithContext(ctx).Model(&models.Generation{}).
		Where("id = ? AND status = ?", id, models.GenerationPending).
		Update("status", models.GenerationProcessing)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark generation %s processing: %w", id, result.Error)
	}

	gen, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if result.RowsAffected > 0 {
		s.recordEvent(id, gen.UserID, models.GenerationPending, models.GenerationProcessing, "")
		return gen, nil
	}

	if gen.Status == models.GenerationProcessing {
		return gen, nil
	}
	return nil, models.NewInvalidStateError(
		fmt.Sprintf("generation %s is %s, cannot start processing", id, gen.Status))
}

// SetProviderJob attaches the provider job handle once dispatch succeeds
func (s *Service) SetProviderJob(ctx context.Context, id, provider, providerJobID string) error {
	err := s.db.WithContext(ctx).Model(&models.Generation{}).
		Where("id = ?", id).
		Updates(map[string]any{"provider": provider, "provider_job_id": providerJobID}).Error
	if err != nil {
		return fmt.Errorf("failed to set provider job for generation %s: %w", id, err)
	}
	return nil
}

// Complete finishes a generation successfully. Credits stay charged.
// Completing an already completed generation is a no-op; completing a
// failed one is an invalid transition.
func (s *Service) Complete(ctx context.Context, id, resultURL string) (*models.Generation, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.Generation{}).
		Where("id = ? AND status IN ?", id, []models.GenerationStatus{models.GenerationPending, models.GenerationProcessing}).
		Updates(map[string]any{
			"status":       models.GenerationCompleted,
			"result_url":   resultURL,
			"completed_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to complete generation %s: %w", id, result.Error)
	}

	gen, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if result.RowsAffected > 0 {
		fiberlog.Infof("Generation %s completed", id)
		s.recordEvent(id, gen.UserID, "", models.GenerationCompleted, "")
		return gen, nil
	}

	if gen.Status == models.GenerationCompleted {
		return gen, nil
	}
	return nil, models.NewInvalidStateError(
		fmt.Sprintf("generation %s is %s, cannot complete", id, gen.Status))
}

// Fail moves a generation to failed and refunds its charge. The status
// update and the refund share one transaction: only the caller that wins
// the transition writes the refund, and the refund ledger entry is keyed
// by generation so a second refund can never slip in.
func (s *Service) Fail(ctx context.Context, id, reason string) (*models.Generation, error) {
	return s.failWithRefund(ctx, id, reason, true)
}

func (s *Service) failWithRefund(ctx context.Context, id, reason string, refund bool) (*models.Generation, error) {
	var gen *models.Generation
	var transitioned bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.Generation{}).
			Where("id = ? AND status IN ?", id, []models.GenerationStatus{models.GenerationPending, models.GenerationProcessing}).
			Updates(map[string]any{
				"status":        models.GenerationFailed,
				"error_message": reason,
				"completed_at":  now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to fail generation %s: %w", id, result.Error)
		}

		var current models.Generation
		if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("generation", id)
			}
			return fmt.Errorf("failed to load generation %s: %w", id, err)
		}
		gen = &current
		transitioned = result.RowsAffected > 0

		if !transitioned {
			return nil
		}
		if !refund || current.CreditsUsed == 0 {
			return nil
		}

		_, err := s.credits.RefundTx(tx, current.UserID, current.CreditsUsed, id,
			fmt.Sprintf("refund for failed %s generation", current.Type))
		return err
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		fiberlog.Infof("Generation %s failed: %s", id, reason)
		s.recordEvent(id, gen.UserID, "", models.GenerationFailed, reason)
		return gen, nil
	}

	if gen.Status == models.GenerationFailed {
		return gen, nil
	}
	return nil, models.NewInvalidStateError(
		fmt.Sprintf("generation %s is %s, cannot fail", id, gen.Status))
}

// Cancel is a user-initiated failure. Unlike provider failures the
// refund is a policy decision; with refunds off the reservation is
// forfeited. Cancelling a terminal generation is rejected.
func (s *Service) Cancel(ctx context.Context, id, userID string) (*models.Generation, error) {
	if _, err := s.GetForUser(ctx, id, userID); err != nil {
		return nil, err
	}

	gen, err := s.failWithRefund(ctx, id, models.ErrorReasonCancelled, s.refundOnCancel)
	if err != nil {
		return nil, err
	}

	// failWithRefund treats repeat failures as no-ops, but a cancel of an
	// already finished generation must surface as an error.
	if gen.ErrorMessage != models.ErrorReasonCancelled {
		return nil, models.NewInvalidStateError(
			fmt.Sprintf("generation %s is %s, cannot cancel", id, gen.Status))
	}

	return gen, nil
}
