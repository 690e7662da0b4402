package models

import "time"

type GenerationType string

const (
	GenerationImage      GenerationType = "image"
	GenerationVideo      GenerationType = "video"
	GenerationUpscale    GenerationType = "upscale"
	GenerationBatch      GenerationType = "batch"
	GenerationConversion GenerationType = "conversion"
)

func (t GenerationType) Valid() bool {
	switch t {
	case GenerationImage, GenerationVideo, GenerationUpscale, GenerationBatch, GenerationConversion:
		return true
	}
	return false
}

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// ErrorReasonCancelled marks user-initiated cancellation, which is a
// sub-case of failed rather than a status of its own.
const ErrorReasonCancelled = "Cancelled by user"

// Generation is one attempt at an AI creation job, created at the moment
// credits are reserved and mutated only through status transitions.
type Generation struct {
	ID            string           `gorm:"primaryKey;size:36" json:"id"`
	UserID        string           `gorm:"not null;index;size:255" json:"user_id"`
	Type          GenerationType   `gorm:"not null;index;size:20" json:"type"`
	Status        GenerationStatus `gorm:"not null;index;size:20" json:"status"`
	CreditsUsed   int64            `gorm:"not null;default:0" json:"credits_used"`
	Provider      string           `gorm:"size:50;default:''" json:"provider,omitempty"`
	ProviderJobID string           `gorm:"index;size:255;default:''" json:"provider_job_id,omitempty"`
	BatchID       string           `gorm:"index;size:36;default:''" json:"batch_id,omitempty"`
	ResultURL     string           `gorm:"type:text;default:''" json:"result_url,omitempty"`
	ErrorMessage  string           `gorm:"type:text;default:''" json:"error_message,omitempty"`
	Metadata      Metadata         `json:"metadata"`
	CreatedAt     time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"not null;autoUpdateTime" json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Terminal reports whether no further transitions are permitted.
func (g *Generation) Terminal() bool {
	return g.Status == GenerationCompleted || g.Status == GenerationFailed
}

// GenerationEvent is the audit trail of lifecycle transitions, written
// asynchronously so request paths never block on it.
type GenerationEvent struct {
	ID           uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	GenerationID string           `gorm:"not null;index;size:36" json:"generation_id"`
	UserID       string           `gorm:"index;size:255;default:''" json:"user_id,omitempty"`
	FromStatus   GenerationStatus `gorm:"size:20;default:''" json:"from_status,omitempty"`
	ToStatus     GenerationStatus `gorm:"not null;size:20" json:"to_status"`
	Detail       string           `gorm:"type:text;default:''" json:"detail,omitempty"`
	CreatedAt    time.Time        `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

type StartGenerationParams struct {
	UserID          string
	Type            GenerationType
	Provider        string
	ProviderJobID   string
	CreditsRequired int64
	BatchID         string
	Metadata        Metadata
}

type StartBatchParams struct {
	UserID string
	Items  []StartGenerationParams
}

type BatchItemResult struct {
	Generation *Generation `json:"generation,omitempty"`
	Error      *AppError   `json:"error,omitempty"`
}

// PollResult is the Status Poller's answer. A transient provider fault
// is reported as status=processing, never as an error.
type PollResult struct {
	GenerationID string           `json:"generation_id"`
	Status       GenerationStatus `json:"status"`
	Progress     int              `json:"progress,omitzero"`
	ResultURL    string           `json:"result_url,omitzero"`
	Error        string           `json:"error,omitzero"`
}
