package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/config"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/router"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/id"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/streams"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/supervisor"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/transport"
)

// Callbacks is the set of functions a feature registers. Nil fields are
// skipped. They run on the connection's read goroutine and must not block.
type Callbacks = router.Callbacks

// Options assembles a Client.
type Options struct {
	Transport transport.Transport

	Backoff           resilience.Settings
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	AckTimeout        time.Duration
	RetainTerminal    time.Duration

	IDs     *id.Generator
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Client is the composition root of the realtime layer: one transport, one
// supervisor, one stream registry and one router, shared by every
// Subscription. Create one per process and pass it by reference.
type Client struct {
	supervisor *supervisor.Supervisor
	registry   *streams.Registry
	router     *router.Router
	ids        *id.Generator
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	mu   sync.Mutex
	subs map[string]*Subscription
}

// New wires a client around opts.Transport. Nothing is dialed until Connect.
func New(opts Options) *Client {
	logger := logging.OrNop(opts.Logger)
	ids := opts.IDs
	if ids == nil {
		ids = id.Default()
	}
	codec := protocol.NewCodec()

	sup := supervisor.New(opts.Transport, supervisor.Options{
		Backoff:           opts.Backoff,
		HeartbeatInterval: opts.HeartbeatInterval,
		DialTimeout:       opts.DialTimeout,
		Codec:             codec,
		Logger:            logger.Named("supervisor"),
		Metrics:           opts.Metrics,
	})
	reg := streams.NewRegistry(sup, streams.Options{
		AckTimeout:     opts.AckTimeout,
		RetainTerminal: opts.RetainTerminal,
		IDs:            ids,
		Logger:         logger.Named("streams"),
		Metrics:        opts.Metrics,
	})
	rt := router.New(reg, router.Options{
		Codec:   codec,
		Logger:  logger.Named("router"),
		Metrics: opts.Metrics,
	})

	reg.SetFailureHandler(rt.DeliverStreamError)
	sup.SetObserver(rt)

	return &Client{
		supervisor: sup,
		registry:   reg,
		router:     rt,
		ids:        ids,
		logger:     logger,
		metrics:    opts.Metrics,
		subs:       make(map[string]*Subscription),
	}
}

// NewFromConfig builds a WebSocket client from loaded configuration.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) *Client {
	logger = logging.OrNop(logger)
	rc := cfg.Realtime

	var tokens transport.TokenSource
	switch {
	case cfg.Auth.TokenURL != "":
		tokens = transport.NewRESTTokenSource(cfg.Auth.TokenURL, cfg.Auth.Timeout.Std())
	case cfg.Auth.Token != "":
		tokens = transport.StaticToken(cfg.Auth.Token)
	}

	tr := transport.NewWebSocket(transport.Options{
		URL:              rc.URL,
		Tokens:           tokens,
		HandshakeTimeout: rc.HandshakeTimeout.Std(),
		PingInterval:     rc.PingInterval.Std(),
		PongWait:         rc.PongWait.Std(),
		SendQueue:        rc.SendQueue,
		SendRPS:          rc.SendRPS,
		Logger:           logger.Named("transport"),
	})

	return New(Options{
		Transport: tr,
		Backoff: resilience.Settings{
			Min:        rc.BackoffMin.Std(),
			Max:        rc.BackoffMax.Std(),
			Multiplier: rc.BackoffMultiplier,
			Jitter:     resilience.DefaultSettings().Jitter,
			MaxRetries: rc.MaxRetries,
		},
		HeartbeatInterval: rc.HeartbeatInterval.Std(),
		DialTimeout:       rc.HandshakeTimeout.Std() + cfg.Auth.Timeout.Std(),
		AckTimeout:        rc.AckTimeout.Std(),
		RetainTerminal:    rc.RetainTerminal.Std(),
		Logger:            logger,
		Metrics:           metrics,
	})
}

// Connect dials the shared connection. See supervisor.Supervisor.Connect.
func (c *Client) Connect(ctx context.Context) error {
	return c.supervisor.Connect(ctx)
}

// Close shuts the shared connection down. Every subscriber receives
// OnDisconnect and every live stream fails with ErrClosed. Subscriptions
// stay registered; a later Connect serves them again.
func (c *Client) Close() error {
	return c.supervisor.Close()
}

// Shutdown closes every subscription, then the connection, and stops the
// registry's timers. The client is not usable afterwards.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	err := c.supervisor.Close()
	c.registry.Close()
	return err
}

// Subscribe registers a feature's callbacks and returns its handle. The
// shared connection is not dialed by subscribing.
func (c *Client) Subscribe(cb Callbacks, opts ...SubscribeOption) (*Subscription, error) {
	sub := &Subscription{
		id:     c.ids.NewSubscriberID().String(),
		client: c,
	}
	for _, opt := range opts {
		opt(sub)
	}

	user := cb
	wrapped := Callbacks{
		OnMessage: user.OnMessage,
		OnConnect: func() {
			sub.setErr(nil)
			if user.OnConnect != nil {
				user.OnConnect()
			}
		},
		OnDisconnect: user.OnDisconnect,
		OnError: func(err error) {
			sub.setErr(err)
			if user.OnError != nil {
				user.OnError(err)
			}
		},
	}

	if err := c.router.Register(sub.id, wrapped); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	c.logger.Debug("Subscribed", zap.String("subscriber_id", sub.id))
	return sub, nil
}

// Unsubscribe is sub.Close.
func (c *Client) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Close()
	}
}

// State returns the shared connection state.
func (c *Client) State() supervisor.State {
	return c.supervisor.State()
}

// IsConnected reports whether the shared connection is Open.
func (c *Client) IsConnected() bool {
	return c.supervisor.IsConnected()
}

// IsConnecting reports whether a dial is pending or scheduled.
func (c *Client) IsConnecting() bool {
	return c.supervisor.IsConnecting()
}

// Err returns the last connection error, nil once Open.
func (c *Client) Err() error {
	return c.supervisor.Err()
}

// Streams returns every retained stream handle.
func (c *Client) Streams() []streams.Handle {
	return c.registry.Snapshot()
}

// Stream returns one handle by client or server id.
func (c *Client) Stream(streamID string) (streams.Handle, bool) {
	return c.registry.Get(streamID)
}

// Diagnostics returns recent frames and callbacks the router could not
// handle normally.
func (c *Client) Diagnostics() []router.Diagnostic {
	return c.router.Diagnostics()
}

// Subscribers returns the number of registered subscriptions.
func (c *Client) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// SendMessage sends an envelope on behalf of no particular subscriber.
func (c *Client) SendMessage(env protocol.Envelope) error {
	return c.supervisor.Send(env)
}

func (c *Client) forget(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()
	c.router.Unregister(subID)
}

// Metrics returns the collectors the client records into; nil when none
// were configured.
func (c *Client) Metrics() *monitoring.Metrics {
	return c.metrics
}
