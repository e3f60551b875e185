package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tablerelay/internal/protocol"
	"tablerelay/internal/rules"
	"tablerelay/internal/view"
	"tablerelay/pkg/realtime"
)

// ErrSessionClosed is returned for requests on a closed session.
var ErrSessionClosed = errors.New("session closed")

// SessionOptions configure a session.
type SessionOptions struct {
	Players      int
	Rules        rules.Options
	Version      protocol.Version
	GameLogDelay time.Duration
	MaxAIMoves   int
	Logger       logrus.FieldLogger
}

// Session is one local game: an event loop, the logic bus, the adapter that
// owns the state and the mount that projects it for renderers.
type Session struct {
	ID        string
	CreatedAt time.Time
	Players   int

	loop    *realtime.Loop
	engine  rules.Engine
	bus     *Bus
	adapter *Adapter
	mount   *view.Mount
	wire    *realtime.Broadcaster[protocol.Envelope]
	version protocol.Version
	log     logrus.FieldLogger
}

// NewSession sets up the game and launches it. The session's loop runs until
// ctx is done or Close is called.
func NewSession(ctx context.Context, id string, engine rules.Engine, opts SessionOptions) (*Session, error) {
	if err := checkPlayers(opts.Players); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("session", id)
	version := opts.Version
	if version == 0 {
		version = protocol.Current
	}

	loop := realtime.NewLoop()
	bus := realtime.NewEmitter[json.RawMessage]()
	s := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Players:   opts.Players,
		loop:      loop,
		engine:    engine,
		bus:       bus,
		wire:      realtime.NewBroadcaster[protocol.Envelope](32),
		version:   version,
		log:       logger,
	}
	s.mount = view.NewMount(bus, logger)
	for _, name := range []string{protocol.EventPlayer, protocol.EventState, protocol.EventGameLog} {
		name := name
		bus.On(name, func(p json.RawMessage) error {
			if n := s.wire.PublishOrEvict(protocol.Envelope{V: version, T: name, M: p}); n > 0 {
				s.log.WithFields(logrus.Fields{"event": name, "evicted": n}).Warn("dropped lagging wire subscribers")
			}
			return nil
		})
	}

	adapter, err := NewAdapter(engine, bus, AdapterOptions{
		Players:      opts.Players,
		Rules:        opts.Rules,
		Version:      version,
		GameLogDelay: opts.GameLogDelay,
		Scheduler:    loop,
		MaxAIMoves:   opts.MaxAIMoves,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	s.adapter = adapter

	// Nothing else can reach the bus before the loop starts.
	if err := adapter.Launch(); err != nil {
		return nil, err
	}
	loop.Run(ctx)
	return s, nil
}

func checkPlayers(n int) error {
	if n < MinPlayers || n > MaxPlayers {
		return fmt.Errorf("players must be between %d and %d, got %d", MinPlayers, MaxPlayers, n)
	}
	return nil
}

// Mount is the session's view projection.
func (s *Session) Mount() *view.Mount {
	return s.mount
}

// Version is the gamelog shape used on the session's bus.
func (s *Session) Version() protocol.Version {
	return s.version
}

// Wire carries every player, state and gamelog event for transports. A
// subscriber that falls behind is dropped and its channel closed; it should
// reconnect and start from a fresh snapshot.
func (s *Session) Wire() *realtime.Broadcaster[protocol.Envelope] {
	return s.wire
}

// EmitLogic runs an emission on the logic bus and waits for its error.
func (s *Session) EmitLogic(ctx context.Context, name string, payload json.RawMessage) error {
	name = protocol.Normalize(name)
	return s.do(ctx, func() error { return s.bus.Emit(name, payload) })
}

// EmitView runs an emission on the view-side channel and waits for its error.
func (s *Session) EmitView(ctx context.Context, name string, payload json.RawMessage) error {
	return s.do(ctx, func() error { return s.mount.Emitter().Emit(name, payload) })
}

// Authoritative returns a copy of the full, unstripped state.
func (s *Session) Authoritative(ctx context.Context) (rules.State, error) {
	var out rules.State
	err := s.do(ctx, func() error {
		out = s.adapter.State()
		return nil
	})
	return out, err
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	err := s.loop.Do(ctx, fn)
	if errors.Is(err, realtime.ErrLoopStopped) {
		return ErrSessionClosed
	}
	return err
}

// Close stops the loop and disconnects subscribers.
func (s *Session) Close() {
	s.loop.Stop()
	s.loop.Wait()
	s.mount.Close()
	s.wire.Close()
	if c, ok := s.engine.(interface{ Close() }); ok {
		c.Close()
	}
}

// Closed reports whether the session no longer accepts events.
func (s *Session) Closed() bool {
	return s.loop.Stopped()
}
