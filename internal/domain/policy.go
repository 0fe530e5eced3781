package domain

import (
	"context"
	"time"
)

// Actions submitted to the policy-decision collaborator.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionTransition = "transition"
	ActionUpload     = "upload"
	ActionDownload   = "download"
	ActionLink       = "link"
	ActionRead       = "read"
)

type PolicyInput struct {
	Principal string `json:"principal"`
	TenantID  string `json:"tenant_id"`
	Action    string `json:"action"`

	ArtifactID   string     `json:"artifact_id,omitempty"`
	TypeName     string     `json:"type_name,omitempty"`
	Owner        string     `json:"owner,omitempty"`
	Visibility   Visibility `json:"visibility,omitempty"`
	TargetStatus string     `json:"target_status,omitempty"`
}

type PolicyDecision struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`
}

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}
