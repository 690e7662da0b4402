package generation

import (
	"context"
	"errors"
	"sync"

	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/circuitbreaker"
	"github.com/gensy-ai/creative-ledger/internal/services/provider"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Poller answers status queries. Terminal generations are served straight
// from the ledger database and never touch a provider again. Live ones
// are polled through a per-provider circuit breaker, with singleflight
// collapsing concurrent polls for the same generation into one upstream
// call.
type Poller struct {
	service     *Service
	registry    *provider.Registry
	redisClient *redis.Client
	configs     map[string]models.ProviderConfig

	group singleflight.Group

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func NewPoller(service *Service, registry *provider.Registry, redisClient *redis.Client, configs map[string]models.ProviderConfig) *Poller {
	return &Poller{
		service:     service,
		registry:    registry,
		redisClient: redisClient,
		configs:     configs,
		breakers:    make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (p *Poller) breakerFor(providerName string) *circuitbreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[providerName]; ok {
		return cb
	}

	cfg := circuitbreaker.DefaultConfig()
	if pc, ok := p.configs[providerName]; ok {
		cfg = circuitbreaker.ConfigFromModel(pc.CircuitBreaker)
	}
	cb := circuitbreaker.NewWithConfig(p.redisClient, providerName, cfg)
	p.breakers[providerName] = cb
	return cb
}

// Poll returns the current status of a generation, advancing its
// lifecycle when the provider reports progress.
func (p *Poller) Poll(ctx context.Context, generationID, userID string) (*models.PollResult, error) {
	gen, err := p.service.GetForUser(ctx, generationID, userID)
	if err != nil {
		return nil, err
	}

	// Terminal answers are immutable, no provider round trip
	if gen.Terminal() {
		return resultFromGeneration(gen), nil
	}

	// A generation with no provider handle has nothing to poll yet
	if gen.Provider == "" || gen.ProviderJobID == "" {
		return resultFromGeneration(gen), nil
	}

	value, err, _ := p.group.Do(generationID, func() (any, error) {
		return p.pollProvider(ctx, gen)
	})
	if err != nil {
		return nil, err
	}
	return value.(*models.PollResult), nil
}

// pollProvider contacts the provider exactly once per singleflight
// window. Transient faults, open breakers and unknown providers all
// degrade to "still processing": a status read must never fail a
// generation that the provider has not itself declared failed.
func (p *Poller) pollProvider(ctx context.Context, gen *models.Generation) (*models.PollResult, error) {
	client, ok := p.registry.Get(gen.Provider)
	if !ok {
		fiberlog.Warnf("No client registered for provider %s, reporting generation %s as-is",
			gen.Provider, gen.ID)
		return resultFromGeneration(gen), nil
	}

	cb := p.breakerFor(gen.Provider)
	if !cb.CanExecute() {
		fiberlog.Debugf("Circuit breaker open for provider %s, skipping poll of generation %s",
			gen.Provider, gen.ID)
		return resultFromGeneration(gen), nil
	}

	status, err := client.GetJob(ctx, gen.ProviderJobID)
	if err != nil {
		if models.IsErrorType(err, models.ErrorTypeProviderTransient) {
			cb.RecordFailure()
			fiberlog.Warnf("Transient fault polling provider %s for generation %s: %v",
				gen.Provider, gen.ID, err)
			return resultFromGeneration(gen), nil
		}

		// The provider answered and rejected the job itself
		cb.RecordSuccess()
		var appErr *models.AppError
		reason := "provider rejected job"
		if errors.As(err, &appErr) {
			reason = appErr.Message
		}
		failed, failErr := p.service.Fail(ctx, gen.ID, reason)
		if failErr != nil {
			return nil, failErr
		}
		return resultFromGeneration(failed), nil
	}

	cb.RecordSuccess()
	return p.applyStatus(ctx, gen, status)
}

func (p *Poller) applyStatus(ctx context.Context, gen *models.Generation, status *provider.JobStatus) (*models.PollResult, error) {
	switch status.State {
	case provider.JobQueued:
		result := resultFromGeneration(gen)
		result.Progress = status.Progress
		return result, nil

	case provider.JobRunning:
		updated, err := p.service.MarkProcessing(ctx, gen.ID)
		if err != nil {
			// Lost a race against a terminal transition, report what won
			if models.IsErrorType(err, models.ErrorTypeInvalidState) {
				current, getErr := p.service.Get(ctx, gen.ID)
				if getErr != nil {
					return nil, getErr
				}
				return resultFromGeneration(current), nil
			}
			return nil, err
		}
		result := resultFromGeneration(updated)
		result.Progress = status.Progress
		return result, nil

	case provider.JobSucceeded:
		completed, err := p.service.Complete(ctx, gen.ID, status.ResultURL)
		if err != nil {
			return nil, err
		}
		return resultFromGeneration(completed), nil

	case provider.JobFailed:
		failed, err := p.service.Fail(ctx, gen.ID, status.Reason)
		if err != nil {
			return nil, err
		}
		return resultFromGeneration(failed), nil

	default:
		fiberlog.Warnf("Provider %s returned unknown job state %q for generation %s",
			gen.Provider, status.State, gen.ID)
		return resultFromGeneration(gen), nil
	}
}

func resultFromGeneration(gen *models.Generation) *models.PollResult {
	result := &models.PollResult{
		GenerationID: gen.ID,
		Status:       gen.Status,
		ResultURL:    gen.ResultURL,
	}
	if gen.Status == models.GenerationFailed {
		result.Error = gen.ErrorMessage
	}
	if gen.Status == models.GenerationCompleted {
		result.Progress = 100
	}
	return result
}
