package posthog

import "fmt"

// IsFeatureEnabled reads the cached flag state for key: absent keys are
// off, boolean values are returned as-is, and any other non-nil value (a
// variant string, for instance) counts as enabled. Never hits the
// network.
func (c *Client) IsFeatureEnabled(key string) bool {
	enabled := c.flags.IsEnabled(key)
	c.reportFlagCalled(key, c.flags.Flag(key))
	return enabled
}

// GetFeatureFlag returns the raw cached flag value with no coercion, or
// nil if the key is absent.
func (c *Client) GetFeatureFlag(key string) any {
	value := c.flags.Flag(key)
	c.reportFlagCalled(key, value)
	return value
}

// GetFeatureFlagPayload returns the decoded payload for key, the raw
// string if it is not valid JSON, or nil if the key has no payload.
func (c *Client) GetFeatureFlagPayload(key string) any {
	return c.flags.Payload(key)
}

// GetFeatureFlags returns a snapshot of the flag mapping, or nil if flags
// have never been loaded.
func (c *Client) GetFeatureFlags() map[string]any {
	return c.flags.Flags()
}

// reportFlagCalled emits a $feature_flag_called event for flag-read
// calls, once per distinct flag/response pair, when enabled in config.
func (c *Client) reportFlagCalled(key string, response any) {
	if !c.cfg.Flags.SendFeatureFlagEvent {
		return
	}

	dedupeKey := fmt.Sprintf("%s:%v", key, response)

	c.flagCalledMu.Lock()
	if _, seen := c.flagCalled[dedupeKey]; seen {
		c.flagCalledMu.Unlock()
		return
	}
	c.flagCalled[dedupeKey] = struct{}{}
	c.flagCalledMu.Unlock()

	c.capture("$feature_flag_called", map[string]any{
		"$feature_flag":          key,
		"$feature_flag_response": response,
	}, captureOptions{})
}
