// Package transport defines the collaborator boundary the SDK talks to the
// backend through: a decide client for feature-flag evaluation and a batch
// sender for event delivery. Retry and backoff policy live behind these
// interfaces, not in the SDK core.
package transport

import (
	"context"

	"github.com/mfclarke-cnx/posthog-go/internal/event"
)

// DecideRequest carries the identity context for a flag evaluation.
type DecideRequest struct {
	APIKey      string            `json:"api_key"`
	DistinctID  string            `json:"distinct_id"`
	AnonymousID string            `json:"$anon_distinct_id,omitempty"`
	Groups      map[string]string `json:"groups,omitempty"`
}

// DecideResponse is the backend's flag evaluation result. Payload values
// arrive as JSON-encoded strings and are decoded lazily on read.
type DecideResponse struct {
	FeatureFlags              map[string]any    `json:"featureFlags"`
	FeatureFlagPayloads       map[string]string `json:"featureFlagPayloads"`
	ErrorsWhileComputingFlags bool              `json:"errorsWhileComputingFlags"`
}

// Sane reports whether the response carries the two expected mappings. A
// response missing them is treated as a failed fetch by the flag manager.
func (r *DecideResponse) Sane() bool {
	return r != nil && r.FeatureFlags != nil && r.FeatureFlagPayloads != nil
}

// Decider fetches feature-flag state for an identity.
type Decider interface {
	Decide(ctx context.Context, req DecideRequest) (*DecideResponse, error)
}

// BatchSender delivers a batch of events. A nil return means the whole
// batch was acknowledged; any error leaves the batch eligible for retry.
type BatchSender interface {
	SendBatch(ctx context.Context, events []*event.Event) error
}
