package posthog

import (
	"sort"

	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/event"
	"github.com/mfclarke-cnx/posthog-go/internal/property"
	"github.com/mfclarke-cnx/posthog-go/internal/storage"
)

// CaptureOption adjusts a single capture call.
type CaptureOption func(*captureOptions)

type captureOptions struct {
	userProperties        map[string]any
	userPropertiesSetOnce map[string]any
	groups                map[string]string
}

// WithUserProperties attaches a $set mapping to the event.
func WithUserProperties(props map[string]any) CaptureOption {
	return func(o *captureOptions) { o.userProperties = props }
}

// WithUserPropertiesSetOnce attaches a $set_once mapping to the event.
func WithUserPropertiesSetOnce(props map[string]any) CaptureOption {
	return func(o *captureOptions) { o.userPropertiesSetOnce = props }
}

// WithGroups overrides registered groups for this event only; entries
// merge over the registered group mapping.
func WithGroups(groups map[string]string) CaptureOption {
	return func(o *captureOptions) { o.groups = groups }
}

// Capture records an analytics event. Properties merge in precedence
// registered < caller-supplied < computed (group context and feature-flag
// state); everything passes through the sanitizer. Flag state comes from
// the local cache only; capturing never triggers a fetch.
func (c *Client) Capture(name string, properties map[string]any, opts ...CaptureOption) {
	var o captureOptions
	for _, opt := range opts {
		opt(&o)
	}
	c.capture(name, properties, o)
}

func (c *Client) capture(name string, properties map[string]any, o captureOptions) {
	c.registeredMu.Lock()
	registered := make(map[string]any, len(c.registered))
	for k, v := range c.registered {
		registered[k] = v
	}
	c.registeredMu.Unlock()

	props := property.Merge(registered, properties)

	if len(o.userProperties) > 0 {
		props["$set"] = property.Sanitize(o.userProperties)
	}
	if len(o.userPropertiesSetOnce) > 0 {
		props["$set_once"] = property.Sanitize(o.userPropertiesSetOnce)
	}

	groups := c.groupsSnapshot()
	if len(o.groups) > 0 {
		merged := make(map[string]string, len(groups)+len(o.groups))
		for k, v := range groups {
			merged[k] = v
		}
		for k, v := range o.groups {
			merged[k] = v
		}
		groups = merged
	}
	if len(groups) > 0 {
		groupProps := make(map[string]any, len(groups))
		for groupType, groupKey := range groups {
			groupProps[groupType] = groupKey
		}
		props["$groups"] = groupProps
	}

	if flagState := c.flags.Flags(); flagState != nil {
		active := make([]string, 0, len(flagState))
		for key, value := range flagState {
			props["$feature/"+key] = value
			if c.flags.IsEnabled(key) {
				active = append(active, key)
			}
		}
		sort.Strings(active)
		props["$active_feature_flags"] = active
	}

	c.identityMu.Lock()
	distinctID := c.distinctID
	c.identityMu.Unlock()

	e, err := event.New(name, distinctID, props)
	if err != nil {
		c.log.Warn("Dropping invalid capture",
			zap.String("event_name", name),
			zap.Error(err))
		return
	}

	c.queue.Enqueue(e)

	c.log.Debug("Event captured",
		zap.String("event_name", name),
		zap.String("uuid", e.UUID))
}

// Identify attributes subsequent events to distinctID and captures an
// $identify event carrying the previous anonymous id. userProperties and
// setOnce may be nil.
func (c *Client) Identify(distinctID string, userProperties, setOnce map[string]any) {
	if distinctID == "" {
		c.log.Warn("Identify called with empty distinct id, ignoring")
		return
	}

	c.identityMu.Lock()
	anonymousID := c.anonymousID
	c.distinctID = distinctID
	c.identityMu.Unlock()

	c.capture("$identify", map[string]any{
		"$anon_distinct_id": anonymousID,
	}, captureOptions{
		userProperties:        userProperties,
		userPropertiesSetOnce: setOnce,
	})
}

// Alias links another id to the current identity.
func (c *Client) Alias(alias string) {
	c.capture("$create_alias", map[string]any{"alias": alias}, captureOptions{})
}

// Screen records a screen view.
func (c *Client) Screen(screenName string, properties map[string]any) {
	props := property.Merge(properties, map[string]any{"$screen_name": screenName})
	c.capture("$screen", props, captureOptions{})
}

// Group registers a group membership for all subsequent events and
// refreshes flags, since group context changes flag evaluation.
func (c *Client) Group(groupType, groupKey string) {
	c.groupsMu.Lock()
	c.groups[groupType] = groupKey
	c.groupsMu.Unlock()

	c.ReloadFeatureFlags(nil)
}

// GroupIdentify captures a $groupidentify event describing a group.
func (c *Client) GroupIdentify(groupType, groupKey string, properties map[string]any) {
	c.capture("$groupidentify", map[string]any{
		"$group_type": groupType,
		"$group_key":  groupKey,
		"$group_set":  property.Sanitize(properties),
	}, captureOptions{})
}

// Register upserts properties attached to every subsequent capture. The
// mapping persists across restarts until Unregister or Reset.
func (c *Client) Register(properties map[string]any) {
	clean := property.Sanitize(properties)

	c.registeredMu.Lock()
	for key, value := range clean {
		c.registered[key] = value
	}
	snapshot := make(map[string]any, len(c.registered))
	for k, v := range c.registered {
		snapshot[k] = v
	}
	c.registeredMu.Unlock()

	if err := c.store.SetDict(storage.KeyRegisteredProperties, snapshot); err != nil {
		c.log.Error("Failed to persist registered properties", zap.Error(err))
	}
}

// Unregister removes one registered property.
func (c *Client) Unregister(key string) {
	c.registeredMu.Lock()
	delete(c.registered, key)
	snapshot := make(map[string]any, len(c.registered))
	for k, v := range c.registered {
		snapshot[k] = v
	}
	c.registeredMu.Unlock()

	if err := c.store.SetDict(storage.KeyRegisteredProperties, snapshot); err != nil {
		c.log.Error("Failed to persist registered properties", zap.Error(err))
	}
}
