package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cowatch/internal/events"
	"cowatch/internal/gateway"
	"cowatch/internal/heartbeat"
	"cowatch/internal/logging"
	"cowatch/internal/metrics"
	"cowatch/internal/protocol"
	"cowatch/internal/reflection"
	"cowatch/internal/rooms"
	"cowatch/internal/router"
	"cowatch/internal/state"
	"cowatch/internal/storage"
	"cowatch/internal/transport"
)

var (
	ErrRunning = errors.New("core already running")
	ErrNoVideo = errors.New("video id is required")
)

// SystemConnection is the health entry the core reports for its own relay session.
const SystemConnection = "Connection"

const unreachableMessage = "Server could not be reached"

// Core owns the session and every component acting on it. Relay frames arrive on the
// transport's read goroutine; collaborator calls may come from any goroutine.
type Core struct {
	opts Options
	log  zerolog.Logger

	store      *state.Store
	bus        *events.Bus
	kv         storage.KV
	metrics    metrics.Collector
	sanitize   *rooms.Sanitizer
	transport  *transport.Transport
	monitor    *heartbeat.Monitor
	router     *router.Router
	gateway    *gateway.Gateway
	rooms      *rooms.Manager
	player     *reflection.RemotePlayer
	sampler    *reflection.Sampler
	reconciler *reflection.Reconciler
	guard      *reflection.NavigationGuard

	lost chan struct{}

	mu          sync.Mutex
	runCtx      context.Context
	cycleCancel context.CancelFunc
	cycleDone   chan struct{}
}

// New wires the components and seeds the identity from kv.
func New(opts Options, kv storage.KV, collector metrics.Collector, log zerolog.Logger) (*Core, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	c := &Core{
		opts:     opts,
		log:      logging.Component(log, "core"),
		store:    state.NewStore(),
		bus:      events.NewBus(),
		kv:       kv,
		metrics:  collector,
		sanitize: rooms.NewSanitizer(),
		lost:     make(chan struct{}, 1),
	}

	relay := opts.Relay
	relay.Clock = opts.Clock
	relay.OnAttempt = func(err error) {
		if err != nil {
			c.metrics.ConnectAttempt("failed")
			return
		}
		c.metrics.ConnectAttempt("ok")
	}
	c.transport = transport.New(relay, logging.Component(log, "transport"))
	c.transport.OnMessage(c.handleFrame)

	c.gateway = gateway.New(c.store, c.transport, gateway.Options{
		ReflectionRate:  opts.RateLimit,
		ReflectionBurst: opts.RateBurst,
		Observer:        collector,
	}, logging.Component(log, "gateway"))

	hb := opts.Heartbeat
	hb.Clock = opts.Clock
	c.monitor = heartbeat.New(hb, c.sendPing, logging.Component(log, "heartbeat"))
	c.monitor.OnLost(c.connectionLost)

	c.router = router.New(logging.Component(log, "router"))
	c.router.OnError(func(cerr router.ConnectionError) {
		c.bus.Publish(events.SendError, cerr)
	})

	c.player = reflection.NewRemotePlayer(c.bus)
	sampler := opts.Sampler
	sampler.Clock = opts.Clock
	c.sampler = reflection.NewSampler(sampler, c.player, c.gateway, collector, logging.Component(log, "sampler"))
	c.reconciler = reflection.NewReconciler(c.player, opts.DeadBand, logging.Component(log, "reconciler"))
	c.guard = reflection.NewNavigationGuard(c.store, c.ShowTruePage)

	c.rooms = rooms.NewManager(c.store, c.bus, c.sanitize, logging.Component(log, "rooms"))
	c.rooms.OnRoleChanged(c.sampler.OnRoleChanged)
	c.rooms.Register(c.router)
	c.registerHandlers()

	if kv != nil {
		id, err := storage.LoadIdentity(kv)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
		c.store.Collected(state.Identity{Name: id.Name, Image: id.Image})
	}
	return c, nil
}

func (c *Core) Bus() *events.Bus { return c.bus }

func (c *Core) Metrics() metrics.Collector { return c.metrics }

// Run drives connect cycles while the session is primary and blocks until ctx is done.
func (c *Core) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.runCtx != nil {
		c.mu.Unlock()
		return ErrRunning
	}
	c.runCtx = ctx
	c.mu.Unlock()

	if c.opts.StartPrimary {
		c.SetPrimary(true)
	} else if c.store.Snapshot().IsPrimaryTab {
		c.startCycle()
	}

	<-ctx.Done()
	c.stopCycle()
	c.monitor.Stop()
	c.sampler.OnRoleChanged(state.Session{})
	c.transport.Drop()
	c.log.Info().Msg("core stopped")
	return nil
}

func (c *Core) isPrimary() bool {
	return c.store.Snapshot().IsPrimaryTab
}

// startCycle launches the connect loop unless one is running or Run has not started.
func (c *Core) startCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx == nil || c.runCtx.Err() != nil || c.cycleCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	done := make(chan struct{})
	c.cycleCancel, c.cycleDone = cancel, done
	go func() {
		defer close(done)
		c.connectLoop(ctx)
		c.mu.Lock()
		if c.cycleDone == done {
			c.cycleCancel, c.cycleDone = nil, nil
		}
		c.mu.Unlock()
		cancel()
	}()
}

func (c *Core) stopCycle() {
	c.mu.Lock()
	cancel, done := c.cycleCancel, c.cycleDone
	c.cycleCancel, c.cycleDone = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// connectLoop connects, runs the heartbeat and reconnects after every liveness loss.
func (c *Core) connectLoop(ctx context.Context) {
	for {
		c.bus.Publish(events.SendState, c.store.Connecting().Public())
		conn, err := c.transport.Connect(ctx, c.isPrimary)
		if err != nil {
			if errors.Is(err, transport.ErrMaxAttempts) {
				c.log.Error().Err(err).Msg("giving up on the relay")
				c.bus.Publish(events.SendState, c.store.Failed().Public())
				return
			}
			c.log.Info().Err(err).Msg("connect cycle ended")
			return
		}

		select {
		case <-c.lost:
		default:
		}
		sess := c.store.Connected()
		c.log.Info().Uint64("handle", conn.ID()).Msg("connected")
		c.bus.Publish(events.SendState, sess.Public())
		c.monitor.Start()
		c.authorizeIfReady()

		select {
		case <-ctx.Done():
			c.monitor.Stop()
			c.transport.Drop()
			return
		case <-c.lost:
		}
	}
}

// connectionLost runs once the heartbeat gives up on the current connection.
func (c *Core) connectionLost() {
	c.metrics.ConnectionLost()
	c.monitor.Stop()
	c.bus.Publish(events.SendError, router.ConnectionError{
		Message:            unreachableMessage,
		ActionType:         protocol.ActionPong,
		ResolutionStrategy: router.ReturnToInitial,
	})
	sess := c.store.ConnectionLost()
	c.rooms.Announce()
	c.bus.Publish(events.SendState, sess.Public())
	c.transport.Drop()
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

// sendPing refuses probes the gateway would not send so they are not counted as dropped.
func (c *Core) sendPing(p protocol.PingPong) error {
	err := c.gateway.Ping(p)
	switch {
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, gateway.ErrNotAuthorized):
		return fmt.Errorf("%w: %v", heartbeat.ErrNotSent, err)
	}
	return err
}

func (c *Core) handleFrame(data []byte) {
	actionType, err := c.router.Dispatch(data)
	if actionType != "" {
		c.metrics.Inbound(actionType)
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("frame not applied")
	}
}
