// Package posthog is a client-side telemetry SDK: it turns capture calls
// into durable, batched deliveries to the backend and keeps a locally
// cached view of server-computed feature flags that can be read
// synchronously without touching the network.
package posthog

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/event"
	"github.com/mfclarke-cnx/posthog-go/internal/storage"
	"github.com/mfclarke-cnx/posthog-go/internal/transport"
)

// Store is the durable dictionary collaborator the SDK persists flags,
// registered properties and the pending queue through.
type Store = storage.Store

// Event is a captured analytics event as handed to a BatchSender.
type Event = event.Event

// DecideRequest and DecideResponse are the wire shapes of a flag fetch.
type (
	DecideRequest  = transport.DecideRequest
	DecideResponse = transport.DecideResponse
)

// Decider fetches feature-flag state; BatchSender delivers event batches.
// Custom implementations replace the built-in HTTP transport via the
// WithDecider and WithBatchSender options.
type (
	Decider     = transport.Decider
	BatchSender = transport.BatchSender
)

// Option customizes client construction, mostly for tests and embedders
// that bring their own collaborators.
type Option func(*options)

type options struct {
	store      storage.Store
	decider    transport.Decider
	sender     transport.BatchSender
	httpClient *http.Client
	reachable  <-chan struct{}
	log        *zap.Logger
	distinctID string
}

// WithStore replaces the storage collaborator.
func WithStore(store Store) Option {
	return func(o *options) { o.store = store }
}

// WithHTTPClient replaces the HTTP client used by the default transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithDecider replaces the feature-flag fetch transport.
func WithDecider(decider Decider) Option {
	return func(o *options) { o.decider = decider }
}

// WithBatchSender replaces the event delivery transport.
func WithBatchSender(sender BatchSender) Option {
	return func(o *options) { o.sender = sender }
}

// WithReachabilitySignal wires a connectivity collaborator: every receive
// on the channel (network became reachable) triggers a flush attempt.
func WithReachabilitySignal(reachable <-chan struct{}) Option {
	return func(o *options) { o.reachable = reachable }
}

// WithLogger replaces the SDK logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithDistinctID seeds the identity instead of starting anonymous.
func WithDistinctID(distinctID string) Option {
	return func(o *options) { o.distinctID = distinctID }
}
