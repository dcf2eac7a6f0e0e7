// Package storage provides the durable dictionary store the SDK persists
// its state through: feature flags, flag payloads, registered properties
// and the pending event queue each occupy one slot.
package storage

// Well-known slot keys.
const (
	KeyEnabledFlags         = "enabledFeatureFlags"
	KeyEnabledFlagPayloads  = "enabledFeatureFlagPayloads"
	KeyRegisteredProperties = "registeredProperties"
	KeyQueuedEvents         = "queuedEvents"
)

// Store is a durable string-keyed dictionary store. Implementations must
// be safe for concurrent use.
type Store interface {
	// GetDict returns the dictionary stored under key, or nil if the slot
	// has never been written.
	GetDict(key string) (map[string]any, error)

	// SetDict replaces the dictionary stored under key.
	SetDict(key string, value map[string]any) error

	// Delete removes the slot for key. Deleting a missing slot is not an
	// error.
	Delete(key string) error
}
