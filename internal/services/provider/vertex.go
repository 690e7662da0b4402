package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/gensy-ai/creative-ledger/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"
)

// vertexClient polls Veo video jobs on Vertex AI through the long-running
// operations API. The genai client is built lazily so a misconfigured
// provider fails at first poll instead of at startup.
type vertexClient struct {
	name   string
	config models.ProviderConfig

	mu     sync.Mutex
	client *genai.Client
}

func newVertexClient(name string, config models.ProviderConfig) (*vertexClient, error) {
	if config.Project == "" || config.Location == "" {
		return nil, fmt.Errorf("provider %s: project and location are required for vertex", name)
	}
	return &vertexClient{name: name, config: config}, nil
}

func (c *vertexClient) Name() string {
	return c.name
}

func (c *vertexClient) getClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  c.config.Project,
		Location: c.config.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	fiberlog.Debugf("Created Vertex AI client for provider %s (project %s)", c.name, c.config.Project)
	c.client = client
	return client, nil
}

func (c *vertexClient) GetJob(ctx context.Context, jobID string) (*JobStatus, error) {
	if jobID == "" {
		return nil, models.NewValidationError("provider job ID is required", nil)
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, models.NewProviderTransientError(c.name, err)
	}

	op := &genai.GenerateVideosOperation{Name: jobID}
	op, err = client.Operations.GetVideosOperation(ctx, op, nil)
	if err != nil {
		return nil, models.NewProviderTransientError(c.name, err)
	}

	if !op.Done {
		return &JobStatus{State: JobRunning}, nil
	}

	if op.Error != nil {
		reason := "operation failed"
		if msg, ok := op.Error["message"].(string); ok && msg != "" {
			reason = msg
		}
		return &JobStatus{State: JobFailed, Reason: reason}, nil
	}

	status := &JobStatus{State: JobSucceeded, Progress: 100}
	if op.Response != nil && len(op.Response.GeneratedVideos) > 0 {
		if video := op.Response.GeneratedVideos[0].Video; video != nil {
			status.ResultURL = video.URI
		}
	}
	return status, nil
}
