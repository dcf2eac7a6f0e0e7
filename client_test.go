package posthog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/event"
	"github.com/mfclarke-cnx/posthog-go/internal/storage"
	"github.com/mfclarke-cnx/posthog-go/internal/transport"
)

// stubDecider serves a fixed decide response and counts calls.
type stubDecider struct {
	mu    sync.Mutex
	resp  *transport.DecideResponse
	err   error
	calls int
}

func (d *stubDecider) Decide(ctx context.Context, req transport.DecideRequest) (*transport.DecideResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.resp, d.err
}

// collectSender records every delivered event.
type collectSender struct {
	mu     sync.Mutex
	events []*event.Event
}

func (s *collectSender) SendBatch(ctx context.Context, events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *collectSender) byName(name string) []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*event.Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestClient(t *testing.T, decider *stubDecider, opts ...Option) (*Client, *collectSender) {
	t.Helper()

	cfg := DefaultConfig("phc_test")
	cfg.Queue.BatchSize = 100
	cfg.Queue.FlushIntervalSec = 3600
	cfg.Flags.PreloadOnStart = false

	sender := &collectSender{}
	base := []Option{
		WithStore(storage.NewMemoryStore()),
		WithDecider(decider),
		WithBatchSender(sender),
		WithLogger(zap.NewNop()),
		WithDistinctID("user_1"),
	}

	c, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, sender
}

func reload(t *testing.T, c *Client) {
	t.Helper()
	done := make(chan struct{})
	c.ReloadFeatureFlags(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flag reload did not complete")
	}
}

func enabledFlagsDecider() *stubDecider {
	return &stubDecider{resp: &transport.DecideResponse{
		FeatureFlags:        map[string]any{"trial": true, "arm": "control", "off": false},
		FeatureFlagPayloads: map[string]string{"trial": `{"days": 14}`},
	}}
}

func flushAndDrain(t *testing.T, c *Client, sender *collectSender, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.Flush()
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.events) >= want
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClient_RequiresAPIKey(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := DefaultConfig("")
	_, err = New(cfg, WithLogger(zap.NewNop()))
	assert.Error(t, err)
}

func TestClient_CaptureDecoratesWithFlagState(t *testing.T) {
	c, sender := newTestClient(t, enabledFlagsDecider())
	reload(t, c)

	c.Capture("purchase", map[string]any{"amount": 9.99})
	flushAndDrain(t, c, sender, 1)

	events := sender.byName("purchase")
	require.Len(t, events, 1)
	props := events[0].Properties

	assert.Equal(t, 9.99, props["amount"])
	assert.Equal(t, []any{"arm", "trial"}, props["$active_feature_flags"])
	assert.Equal(t, true, props["$feature/trial"])
	assert.Equal(t, "control", props["$feature/arm"])
	assert.Equal(t, false, props["$feature/off"])
	assert.Equal(t, "user_1", events[0].DistinctID)
}

func TestClient_CaptureWithoutFlagsHasNoFlagProps(t *testing.T) {
	c, sender := newTestClient(t, &stubDecider{})

	c.Capture("purchase", nil)
	flushAndDrain(t, c, sender, 1)

	props := sender.byName("purchase")[0].Properties
	assert.NotContains(t, props, "$active_feature_flags")
}

func TestClient_CapturePrecedence(t *testing.T) {
	c, sender := newTestClient(t, &stubDecider{})

	c.Register(map[string]any{"source": "registered", "app": "demo"})
	c.Capture("e", map[string]any{"source": "caller"})
	flushAndDrain(t, c, sender, 1)

	props := sender.byName("e")[0].Properties
	assert.Equal(t, "caller", props["source"])
	assert.Equal(t, "demo", props["app"])
}

func TestClient_CaptureUserProperties(t *testing.T) {
	c, sender := newTestClient(t, &stubDecider{})

	c.Capture("e", nil,
		WithUserProperties(map[string]any{"plan": "pro"}),
		WithUserPropertiesSetOnce(map[string]any{"signup": "2024"}),
	)
	flushAndDrain(t, c, sender, 1)

	props := sender.byName("e")[0].Properties
	assert.Equal(t, map[string]any{"plan": "pro"}, props["$set"])
	assert.Equal(t, map[string]any{"signup": "2024"}, props["$set_once"])
}

func TestClient_GroupsInjection(t *testing.T) {
	decider := &stubDecider{}
	c, sender := newTestClient(t, decider)

	c.Group("company", "acme")

	c.Capture("e", nil, WithGroups(map[string]string{"team": "growth"}))
	flushAndDrain(t, c, sender, 1)

	props := sender.byName("e")[0].Properties
	assert.Equal(t, map[string]any{"company": "acme", "team": "growth"}, props["$groups"])

	// Group registration triggered a flag refresh carrying the group.
	assert.Eventually(t, func() bool {
		decider.mu.Lock()
		defer decider.mu.Unlock()
		return decider.calls >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestClient_Identify(t *testing.T) {
	c, sender := newTestClient(t, &stubDecider{})

	c.identityMu.Lock()
	anonymousID := c.anonymousID
	c.identityMu.Unlock()

	c.Identify("real_user", map[string]any{"plan": "pro"}, nil)
	c.Capture("after", nil)
	flushAndDrain(t, c, sender, 2)

	identify := sender.byName("$identify")
	require.Len(t, identify, 1)
	assert.Equal(t, "real_user", identify[0].DistinctID)
	assert.Equal(t, anonymousID, identify[0].Properties["$anon_distinct_id"])
	assert.Equal(t, map[string]any{"plan": "pro"}, identify[0].Properties["$set"])

	after := sender.byName("after")
	require.Len(t, after, 1)
	assert.Equal(t, "real_user", after[0].DistinctID)
}

func TestClient_AliasScreenGroupIdentify(t *testing.T) {
	c, sender := newTestClient(t, &stubDecider{})

	c.Alias("other_id")
	c.Screen("Checkout", map[string]any{"step": 2})
	c.GroupIdentify("company", "acme", map[string]any{"tier": "enterprise"})
	flushAndDrain(t, c, sender, 3)

	alias := sender.byName("$create_alias")
	require.Len(t, alias, 1)
	assert.Equal(t, "other_id", alias[0].Properties["alias"])

	screen := sender.byName("$screen")
	require.Len(t, screen, 1)
	assert.Equal(t, "Checkout", screen[0].Properties["$screen_name"])
	assert.Equal(t, 2, screen[0].Properties["step"])

	group := sender.byName("$groupidentify")
	require.Len(t, group, 1)
	assert.Equal(t, "company", group[0].Properties["$group_type"])
	assert.Equal(t, "acme", group[0].Properties["$group_key"])
	assert.Equal(t, map[string]any{"tier": "enterprise"}, group[0].Properties["$group_set"])
}

func TestClient_RegisteredPropertiesPersist(t *testing.T) {
	store := storage.NewMemoryStore()

	cfg := DefaultConfig("phc_test")
	cfg.Flags.PreloadOnStart = false

	first, err := New(cfg, WithStore(store), WithDecider(&stubDecider{}),
		WithBatchSender(&collectSender{}), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	first.Register(map[string]any{"app": "demo"})
	first.Unregister("missing")
	first.Close()

	second, err := New(cfg, WithStore(store), WithDecider(&stubDecider{}),
		WithBatchSender(&collectSender{}), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer second.Close()

	second.registeredMu.Lock()
	defer second.registeredMu.Unlock()
	assert.Equal(t, "demo", second.registered["app"])
}

func TestClient_FeatureFlagCalledEvent(t *testing.T) {
	c, sender := newTestClient(t, enabledFlagsDecider())
	reload(t, c)

	assert.True(t, c.IsFeatureEnabled("trial"))
	assert.True(t, c.IsFeatureEnabled("trial"))
	assert.Equal(t, "control", c.GetFeatureFlag("arm"))

	flushAndDrain(t, c, sender, 2)

	called := sender.byName("$feature_flag_called")
	require.Len(t, called, 2)

	byFlag := map[string]any{}
	for _, e := range called {
		byFlag[e.Properties["$feature_flag"].(string)] = e.Properties["$feature_flag_response"]
	}
	assert.Equal(t, true, byFlag["trial"])
	assert.Equal(t, "control", byFlag["arm"])
}

func TestClient_FeatureFlagCalledDisabled(t *testing.T) {
	decider := enabledFlagsDecider()

	cfg := DefaultConfig("phc_test")
	cfg.Queue.FlushIntervalSec = 3600
	cfg.Flags.PreloadOnStart = false
	cfg.Flags.SendFeatureFlagEvent = false

	sender := &collectSender{}
	c, err := New(cfg, WithStore(storage.NewMemoryStore()), WithDecider(decider),
		WithBatchSender(sender), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer c.Close()
	reload(t, c)

	c.IsFeatureEnabled("trial")
	c.Flush()
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, sender.byName("$feature_flag_called"))
}

func TestClient_FlagPayloadRead(t *testing.T) {
	c, _ := newTestClient(t, enabledFlagsDecider())
	reload(t, c)

	assert.Equal(t, map[string]any{"days": float64(14)}, c.GetFeatureFlagPayload("trial"))
	assert.Nil(t, c.GetFeatureFlagPayload("absent"))
}

func TestClient_Reset(t *testing.T) {
	c, _ := newTestClient(t, enabledFlagsDecider())
	reload(t, c)
	c.Register(map[string]any{"app": "demo"})

	require.True(t, c.IsFeatureEnabled("trial"))

	c.Reset()

	assert.Nil(t, c.GetFeatureFlags())
	assert.False(t, c.IsFeatureEnabled("trial"))

	c.identityMu.Lock()
	assert.Equal(t, c.anonymousID, c.distinctID)
	c.identityMu.Unlock()
}

func TestClient_FlagsUpdatedSignal(t *testing.T) {
	c, _ := newTestClient(t, enabledFlagsDecider())

	updated := c.OnFeatureFlagsUpdated()
	reload(t, c)

	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("no flags-updated signal")
	}
}
