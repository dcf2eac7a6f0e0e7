package posthog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/bus"
	"github.com/mfclarke-cnx/posthog-go/internal/config"
	"github.com/mfclarke-cnx/posthog-go/internal/flags"
	"github.com/mfclarke-cnx/posthog-go/internal/logger"
	"github.com/mfclarke-cnx/posthog-go/internal/queue"
	"github.com/mfclarke-cnx/posthog-go/internal/storage"
	"github.com/mfclarke-cnx/posthog-go/internal/transport/httpapi"
	transportsqs "github.com/mfclarke-cnx/posthog-go/internal/transport/sqs"
)

// Config is the SDK configuration. Use LoadConfig to populate it from the
// environment or DefaultConfig for programmatic setup.
type Config = config.Config

// LoadConfig reads configuration from POSTHOG_* environment variables.
func LoadConfig() (*Config, error) { return config.Load() }

// DefaultConfig returns a ready-to-adjust configuration for apiKey.
func DefaultConfig(apiKey string) *Config { return config.Default(apiKey) }

// Client is the SDK entry point. All methods are safe for concurrent use;
// none of them block on network I/O.
type Client struct {
	cfg   *Config
	log   *zap.Logger
	store storage.Store

	flags   *flags.Manager
	queue   *queue.Queue
	updates *bus.Bus

	identityMu  sync.Mutex
	distinctID  string
	anonymousID string

	registeredMu sync.Mutex
	registered   map[string]any

	groupsMu sync.Mutex
	groups   map[string]string

	flagCalledMu sync.Mutex
	flagCalled   map[string]struct{}

	cancel context.CancelFunc
}

// New builds and starts a client. Close releases it.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil || cfg.Client.APIKey == "" {
		return nil, fmt.Errorf("config with a non-empty API key is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		var err error
		log, err = logger.New(cfg.Client.Environment)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	store := o.store
	if store == nil {
		if cfg.Storage.Dir != "" {
			fileStore, err := storage.NewFileStore(cfg.Storage.Dir)
			if err != nil {
				return nil, err
			}
			store = fileStore
		} else {
			store = storage.NewMemoryStore()
		}
	}

	httpClient := httpapi.NewClient(cfg.Client.Endpoint, cfg.Client.APIKey, o.httpClient, log)

	decider := o.decider
	if decider == nil {
		decider = httpClient
	}

	sender := o.sender
	if sender == nil {
		if cfg.SQS.Enabled {
			sqsSender, err := transportsqs.NewSender(context.Background(), cfg.SQS, log)
			if err != nil {
				return nil, err
			}
			sender = sqsSender
		} else {
			sender = httpClient
		}
	}

	updates := bus.New()

	c := &Client{
		cfg:         cfg,
		log:         log,
		store:       store,
		updates:     updates,
		flags:       flags.NewManager(decider, store, updates, log),
		anonymousID: uuid.NewString(),
		groups:      map[string]string{},
		flagCalled:  map[string]struct{}{},
	}

	c.distinctID = o.distinctID
	if c.distinctID == "" {
		c.distinctID = c.anonymousID
	}

	c.registered = c.loadRegistered()

	c.queue = queue.New(sender, store, queue.Config{
		BatchSize:     cfg.Queue.BatchSize,
		MaxQueueSize:  cfg.Queue.MaxQueueSize,
		FlushInterval: time.Duration(cfg.Queue.FlushIntervalSec) * time.Second,
	}, o.reachable, log)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.queue.Start(ctx)

	if cfg.Flags.PreloadOnStart {
		c.ReloadFeatureFlags(nil)
	}

	log.Info("Client started",
		zap.String("endpoint", cfg.Client.Endpoint),
		zap.Int("batch_size", cfg.Queue.BatchSize))

	return c, nil
}

func (c *Client) loadRegistered() map[string]any {
	registered, err := c.store.GetDict(storage.KeyRegisteredProperties)
	if err != nil {
		c.log.Warn("Failed to read registered properties", zap.Error(err))
	}
	if registered == nil {
		registered = map[string]any{}
	}
	return registered
}

// Flush asks the delivery loop to attempt a batch now.
func (c *Client) Flush() {
	c.queue.RequestFlush()
}

// Close stops the delivery loop after one final flush attempt. The client
// must not be used afterwards.
func (c *Client) Close() {
	c.cancel()
	c.queue.Wait()
	c.log.Info("Client closed")
}

// OnFeatureFlagsUpdated returns a channel that receives a signal after
// every completed flag refresh. Consecutive signals coalesce.
func (c *Client) OnFeatureFlagsUpdated() <-chan struct{} {
	return c.updates.Subscribe()
}

// ReloadFeatureFlags fetches flags for the current identity. onComplete
// may be nil; it fires when the fetch finishes. A reload overlapping an
// in-flight fetch is dropped.
func (c *Client) ReloadFeatureFlags(onComplete func()) {
	c.identityMu.Lock()
	distinctID, anonymousID := c.distinctID, c.anonymousID
	c.identityMu.Unlock()

	c.flags.Load(context.Background(), distinctID, anonymousID, c.groupsSnapshot(), onComplete)
}

func (c *Client) groupsSnapshot() map[string]string {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()

	if len(c.groups) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.groups))
	for k, v := range c.groups {
		out[k] = v
	}
	return out
}

// Reset clears identity-scoped state: flag cache, registered properties
// and group registrations. The pending queue is kept; captured events are
// still owed to the backend.
func (c *Client) Reset() {
	c.flags.Clear()

	c.registeredMu.Lock()
	c.registered = map[string]any{}
	c.registeredMu.Unlock()
	if err := c.store.Delete(storage.KeyRegisteredProperties); err != nil {
		c.log.Error("Failed to clear registered properties", zap.Error(err))
	}

	c.groupsMu.Lock()
	c.groups = map[string]string{}
	c.groupsMu.Unlock()

	c.identityMu.Lock()
	c.anonymousID = uuid.NewString()
	c.distinctID = c.anonymousID
	c.identityMu.Unlock()

	c.flagCalledMu.Lock()
	c.flagCalled = map[string]struct{}{}
	c.flagCalledMu.Unlock()
}
