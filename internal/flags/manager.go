// Package flags owns the feature-flag cache: remote fetch with a
// single-flight guard, partial-failure-safe merging into the persisted
// store, and lock-protected synchronous reads.
package flags

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/bus"
	"github.com/mfclarke-cnx/posthog-go/internal/storage"
	"github.com/mfclarke-cnx/posthog-go/internal/transport"
)

// Manager coordinates flag fetches and serves synchronous reads.
//
// Two locks, never held together: loadingMu guards the single-flight bit,
// storeMu guards the cached mappings. Reads never wait on network I/O.
type Manager struct {
	loadingMu sync.Mutex
	loading   bool

	storeMu  sync.RWMutex
	flags    map[string]any
	payloads map[string]string

	decider transport.Decider
	store   storage.Store
	updates *bus.Bus
	log     *zap.Logger
}

// NewManager hydrates the cache from storage so flag reads work before the
// first fetch completes.
func NewManager(decider transport.Decider, store storage.Store, updates *bus.Bus, log *zap.Logger) *Manager {
	m := &Manager{
		decider: decider,
		store:   store,
		updates: updates,
		log:     log,
	}
	m.hydrate()
	return m
}

func (m *Manager) hydrate() {
	cached, err := m.store.GetDict(storage.KeyEnabledFlags)
	if err != nil {
		m.log.Warn("Failed to read cached feature flags", zap.Error(err))
		return
	}
	if cached == nil {
		return
	}

	payloads := map[string]string{}
	rawPayloads, err := m.store.GetDict(storage.KeyEnabledFlagPayloads)
	if err != nil {
		m.log.Warn("Failed to read cached flag payloads", zap.Error(err))
	}
	for key, value := range rawPayloads {
		if s, ok := value.(string); ok {
			payloads[key] = s
		}
	}

	m.storeMu.Lock()
	m.flags = cached
	m.payloads = payloads
	m.storeMu.Unlock()

	m.log.Debug("Hydrated feature flags from storage",
		zap.Int("flag_count", len(cached)))
}

// Load fetches flags for the given identity. It returns immediately; the
// fetch runs on its own goroutine and onComplete fires when it finishes.
// A call that overlaps an in-flight fetch is dropped: its onComplete is
// never invoked and no second request is issued.
func (m *Manager) Load(ctx context.Context, distinctID, anonymousID string, groups map[string]string, onComplete func()) {
	m.loadingMu.Lock()
	if m.loading {
		m.loadingMu.Unlock()
		m.log.Debug("Feature flag load already in flight, dropping request")
		return
	}
	m.loading = true
	m.loadingMu.Unlock()

	go m.fetch(ctx, distinctID, anonymousID, groups, onComplete)
}

func (m *Manager) fetch(ctx context.Context, distinctID, anonymousID string, groups map[string]string, onComplete func()) {
	resp, err := m.decider.Decide(ctx, transport.DecideRequest{
		DistinctID:  distinctID,
		AnonymousID: anonymousID,
		Groups:      groups,
	})

	switch {
	case err != nil:
		m.log.Warn("Feature flag fetch failed", zap.Error(err))
	case !resp.Sane():
		m.log.Warn("Decide response missing flag mappings, ignoring")
	case resp.ErrorsWhileComputingFlags:
		m.log.Info("Server reported errors computing flags, merging with cache")
		m.merge(resp)
	default:
		m.replace(resp)
	}

	m.loadingMu.Lock()
	m.loading = false
	m.loadingMu.Unlock()

	m.updates.Publish()

	if onComplete != nil {
		onComplete()
	}
}

// merge overlays the response onto the cached mappings key by key,
// preserving flags the server could not recompute in this pass.
func (m *Manager) merge(resp *transport.DecideResponse) {
	m.storeMu.Lock()

	merged := make(map[string]any, len(m.flags)+len(resp.FeatureFlags))
	for key, value := range m.flags {
		merged[key] = value
	}
	for key, value := range resp.FeatureFlags {
		merged[key] = value
	}

	mergedPayloads := make(map[string]string, len(m.payloads)+len(resp.FeatureFlagPayloads))
	for key, value := range m.payloads {
		mergedPayloads[key] = value
	}
	for key, value := range resp.FeatureFlagPayloads {
		mergedPayloads[key] = value
	}

	m.flags = merged
	m.payloads = mergedPayloads
	m.storeMu.Unlock()

	m.persist(merged, mergedPayloads)
}

// replace discards the cache in favor of the response.
func (m *Manager) replace(resp *transport.DecideResponse) {
	flags := make(map[string]any, len(resp.FeatureFlags))
	for key, value := range resp.FeatureFlags {
		flags[key] = value
	}
	payloads := make(map[string]string, len(resp.FeatureFlagPayloads))
	for key, value := range resp.FeatureFlagPayloads {
		payloads[key] = value
	}

	m.storeMu.Lock()
	m.flags = flags
	m.payloads = payloads
	m.storeMu.Unlock()

	m.persist(flags, payloads)
}

func (m *Manager) persist(flags map[string]any, payloads map[string]string) {
	if err := m.store.SetDict(storage.KeyEnabledFlags, flags); err != nil {
		m.log.Error("Failed to persist feature flags", zap.Error(err))
	}

	rawPayloads := make(map[string]any, len(payloads))
	for key, value := range payloads {
		rawPayloads[key] = value
	}
	if err := m.store.SetDict(storage.KeyEnabledFlagPayloads, rawPayloads); err != nil {
		m.log.Error("Failed to persist flag payloads", zap.Error(err))
	}
}

// Flags returns a snapshot of the flag mapping, or nil if flags have never
// been loaded or hydrated.
func (m *Manager) Flags() map[string]any {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()

	if m.flags == nil {
		return nil
	}
	out := make(map[string]any, len(m.flags))
	for key, value := range m.flags {
		out[key] = value
	}
	return out
}

// IsEnabled reports whether a flag is on. An absent key is off; a boolean
// value is returned as-is; any other non-nil value (variant strings
// included) counts as enabled.
func (m *Manager) IsEnabled(key string) bool {
	m.storeMu.RLock()
	value, ok := m.flags[key]
	m.storeMu.RUnlock()

	if !ok || value == nil {
		return false
	}
	if b, isBool := value.(bool); isBool {
		return b
	}
	return true
}

// Flag returns the raw flag value with no boolean coercion, or nil if the
// key is absent.
func (m *Manager) Flag(key string) any {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()
	return m.flags[key]
}

// Payload returns the decoded payload for key. An absent key yields nil.
// A payload that fails to decode as JSON is logged and returned as the
// raw string; the caller never sees an error.
func (m *Manager) Payload(key string) any {
	m.storeMu.RLock()
	raw, ok := m.payloads[key]
	m.storeMu.RUnlock()

	if !ok {
		return nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		m.log.Warn("Flag payload is not valid JSON, returning raw string",
			zap.String("flag_key", key),
			zap.Error(err))
		return raw
	}
	return decoded
}

// Clear wipes the cache and its persisted slots (user reset/logout).
func (m *Manager) Clear() {
	m.storeMu.Lock()
	m.flags = nil
	m.payloads = nil
	m.storeMu.Unlock()

	if err := m.store.Delete(storage.KeyEnabledFlags); err != nil {
		m.log.Error("Failed to clear persisted flags", zap.Error(err))
	}
	if err := m.store.Delete(storage.KeyEnabledFlagPayloads); err != nil {
		m.log.Error("Failed to clear persisted flag payloads", zap.Error(err))
	}
}
