package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/httpclient"
)

// restClient polls providers that expose a plain HTTP job-status
// endpoint. The per-vendor shape (path, auth header, status vocabulary)
// is selected by kind.
type restClient struct {
	name    string
	kind    string
	config  models.ProviderConfig
	client  *httpclient.Client
	timeout time.Duration
}

func newRESTClient(name string, config models.ProviderConfig) (*restClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url is required", name)
	}

	timeout := 15 * time.Second
	if config.TimeoutMs > 0 {
		timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	}

	return &restClient{
		name:    name,
		kind:    config.Kind,
		config:  config,
		client:  httpclient.New(strings.TrimRight(config.BaseURL, "/")),
		timeout: timeout,
	}, nil
}

func (c *restClient) Name() string {
	return c.name
}

func (c *restClient) requestOptions(ctx context.Context, query map[string]string) *httpclient.RequestOptions {
	headers := make(map[string]string, len(c.config.Headers)+1)
	for k, v := range c.config.Headers {
		headers[k] = v
	}
	if c.config.APIKey != "" {
		header := c.config.AuthHeaderName
		if header == "" {
			header = "Authorization"
		}
		value := c.config.APIKey
		if header == "Authorization" {
			value = "Bearer " + c.config.APIKey
		}
		headers[header] = value
	}

	return &httpclient.RequestOptions{
		Context:     ctx,
		Timeout:     c.timeout,
		Headers:     headers,
		QueryParams: query,
	}
}

func (c *restClient) GetJob(ctx context.Context, jobID string) (*JobStatus, error) {
	if jobID == "" {
		return nil, models.NewValidationError("provider job ID is required", nil)
	}

	switch c.kind {
	case "bytedance":
		return c.getBytedanceJob(ctx, jobID)
	case "bfl":
		return c.getBFLJob(ctx, jobID)
	case "minimax":
		return c.getMinimaxJob(ctx, jobID)
	default:
		return nil, models.NewInternalError(fmt.Sprintf("unknown provider kind %q", c.kind), nil)
	}
}

// classify maps a transport failure onto the transient/fatal split. A
// 404 means the job itself is gone, which no retry will fix.
func (c *restClient) classify(err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Transient() {
			return models.NewProviderTransientError(c.name, err)
		}
		if statusErr.StatusCode == http.StatusNotFound {
			return models.NewProviderFatalError(c.name, "job not found")
		}
		return models.NewProviderFatalError(c.name, statusErr.Body)
	}
	return models.NewProviderTransientError(c.name, err)
}

type bytedanceTaskResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *restClient) getBytedanceJob(ctx context.Context, jobID string) (*JobStatus, error) {
	var resp bytedanceTaskResponse
	err := c.client.Get("/api/v3/contents/generations/tasks/"+jobID, &resp, c.requestOptions(ctx, nil))
	if err != nil {
		return nil, c.classify(err)
	}

	switch resp.Status {
	case "queued":
		return &JobStatus{State: JobQueued}, nil
	case "running":
		return &JobStatus{State: JobRunning}, nil
	case "succeeded":
		return &JobStatus{State: JobSucceeded, ResultURL: resp.Content.VideoURL}, nil
	case "failed", "cancelled":
		reason := resp.Error.Message
		if reason == "" {
			reason = "task " + resp.Status
		}
		return &JobStatus{State: JobFailed, Reason: reason}, nil
	default:
		return nil, models.NewProviderTransientError(c.name,
			fmt.Errorf("unrecognized task status %q", resp.Status))
	}
}

type bflResultResponse struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Result   struct {
		Sample string `json:"sample"`
	} `json:"result"`
	Details map[string]any `json:"details"`
}

func (c *restClient) getBFLJob(ctx context.Context, jobID string) (*JobStatus, error) {
	var resp bflResultResponse
	err := c.client.Get("/v1/get_result", &resp, c.requestOptions(ctx, map[string]string{"id": jobID}))
	if err != nil {
		return nil, c.classify(err)
	}

	switch resp.Status {
	case "Pending":
		return &JobStatus{State: JobRunning, Progress: int(resp.Progress * 100)}, nil
	case "Ready":
		return &JobStatus{State: JobSucceeded, Progress: 100, ResultURL: resp.Result.Sample}, nil
	case "Error":
		return &JobStatus{State: JobFailed, Reason: "generation error"}, nil
	case "Content Moderated", "Request Moderated":
		return &JobStatus{State: JobFailed, Reason: "content moderated"}, nil
	case "Task not found":
		return nil, models.NewProviderFatalError(c.name, "job not found")
	default:
		return nil, models.NewProviderTransientError(c.name,
			fmt.Errorf("unrecognized result status %q", resp.Status))
	}
}

type minimaxQueryResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	FileID   string `json:"file_id"`
	VideoURL string `json:"video_url"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

func (c *restClient) getMinimaxJob(ctx context.Context, jobID string) (*JobStatus, error) {
	var resp minimaxQueryResponse
	err := c.client.Get("/v1/query/video_generation", &resp, c.requestOptions(ctx, map[string]string{"task_id": jobID}))
	if err != nil {
		return nil, c.classify(err)
	}

	if resp.BaseResp.StatusCode != 0 {
		return nil, models.NewProviderFatalError(c.name, resp.BaseResp.StatusMsg)
	}

	switch resp.Status {
	case "Queueing":
		return &JobStatus{State: JobQueued}, nil
	case "Preparing", "Processing":
		return &JobStatus{State: JobRunning}, nil
	case "Success":
		url := resp.VideoURL
		if url == "" {
			url = resp.FileID
		}
		return &JobStatus{State: JobSucceeded, ResultURL: url}, nil
	case "Fail":
		reason := resp.BaseResp.StatusMsg
		if reason == "" {
			reason = "generation failed"
		}
		return &JobStatus{State: JobFailed, Reason: reason}, nil
	default:
		return nil, models.NewProviderTransientError(c.name,
			fmt.Errorf("unrecognized task status %q", resp.Status))
	}
}
