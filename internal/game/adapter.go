package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tablerelay/internal/protocol"
	"tablerelay/internal/rules"
	"tablerelay/pkg/realtime"
)

// HumanPlayer is the viewpoint every move is attributed to.
const HumanPlayer = 0

// DefaultMaxAIMoves bounds one AI chain.
const DefaultMaxAIMoves = 10000

// ErrAIChainTooLong is returned when AI players keep having moves past the limit.
var ErrAIChainTooLong = errors.New("ai chain did not settle")

// Bus is the logic-facing event channel.
type Bus = realtime.Emitter[json.RawMessage]

// Scheduler defers a task; realtime.Loop implements it.
type Scheduler interface {
	Defer(d time.Duration, fn func())
}

// AdapterOptions configure NewAdapter.
type AdapterOptions struct {
	Players      int
	Rules        rules.Options
	Version      protocol.Version
	GameLogDelay time.Duration
	// Scheduler receives deferred gamelog emissions. Without one, gamelog
	// is emitted before HandleMove returns.
	Scheduler  Scheduler
	MaxAIMoves int
	Logger     logrus.FieldLogger
}

// Adapter owns the authoritative game state. It applies the human's moves
// and every AI move that follows, and publishes stripped snapshots and log
// pages on the bus. It is not safe for concurrent use; run it on one loop.
type Adapter struct {
	engine rules.Engine
	bus    *Bus
	state  rules.State
	opts   AdapterOptions
	log    logrus.FieldLogger
}

// NewAdapter sets up a game with every player but the human marked as AI and
// registers the adapter's handlers on bus.
func NewAdapter(engine rules.Engine, bus *Bus, opts AdapterOptions) (*Adapter, error) {
	if opts.Players < 1 {
		return nil, fmt.Errorf("players must be at least 1, got %d", opts.Players)
	}
	if opts.Version == 0 {
		opts.Version = protocol.Current
	}
	if opts.MaxAIMoves <= 0 {
		opts.MaxAIMoves = DefaultMaxAIMoves
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	state, err := engine.Setup(opts.Players, opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	for i := 0; i < state.PlayerCount(); i++ {
		if i == HumanPlayer {
			continue
		}
		if state, err = state.WithAI(i, true); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	a := &Adapter{
		engine: engine,
		bus:    bus,
		state:  state,
		opts:   opts,
		log:    opts.Logger,
	}
	bus.On(protocol.EventMove, func(p json.RawMessage) error {
		return a.HandleMove(rules.Move(p))
	})
	for _, name := range protocol.Aliases(protocol.EventFetchState) {
		bus.On(name, func(json.RawMessage) error {
			return a.HandleFetchState()
		})
	}
	bus.On(protocol.EventFetchLog, func(p json.RawMessage) error {
		var req protocol.FetchLogPayload
		if len(p) > 0 {
			if err := json.Unmarshal(p, &req); err != nil {
				return fmt.Errorf("decode fetchLog: %w", err)
			}
		}
		return a.HandleFetchLog(req.Start)
	})
	return a, nil
}

// Launch announces the human viewpoint and the initial snapshot.
func (a *Adapter) Launch() error {
	player, err := json.Marshal(protocol.PlayerPayload{Index: HumanPlayer})
	if err != nil {
		return err
	}
	if err := a.bus.Emit(protocol.EventPlayer, player); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"players": a.state.PlayerCount(),
		"version": a.opts.Version,
	}).Info("game launched")
	return a.HandleFetchState()
}

// HandleMove applies move for the human, then lets AI players move until
// none of them has anything left to do, and publishes one gamelog covering
// the human move and the whole AI chain.
func (a *Adapter) HandleMove(move rules.Move) error {
	index := a.state.LogLen()
	next, err := a.engine.Move(a.state, move, HumanPlayer)
	if err != nil {
		a.log.WithError(err).WithField("move", string(move)).Warn("move rejected")
		return fmt.Errorf("apply move: %w", err)
	}
	a.state = next

	chain, err := a.advanceAI()
	if err != nil {
		return err
	}

	payload, err := a.gameLog(index)
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"start":    index,
		"entries":  a.state.LogLen() - index,
		"ai_moves": chain,
	}).Debug("move applied")

	if a.opts.Scheduler == nil || a.opts.GameLogDelay <= 0 {
		return a.bus.Emit(protocol.EventGameLog, payload)
	}
	a.opts.Scheduler.Defer(a.opts.GameLogDelay, func() {
		if err := a.bus.Emit(protocol.EventGameLog, payload); err != nil {
			a.log.WithError(err).Error("deliver gamelog")
		}
	})
	return nil
}

// advanceAI commits each AI transition as it happens, so a failing engine
// leaves the state at the last good position.
func (a *Adapter) advanceAI() (int, error) {
	for n := 0; ; n++ {
		player, ok := a.state.NextAI()
		if !ok {
			return n, nil
		}
		if n >= a.opts.MaxAIMoves {
			return n, fmt.Errorf("%w after %d moves", ErrAIChainTooLong, n)
		}
		next, err := a.engine.MoveAI(a.state, player)
		if err != nil {
			return n, fmt.Errorf("ai move for player %d: %w", player, err)
		}
		a.state = next
	}
}

// HandleFetchState publishes the stripped snapshot.
func (a *Adapter) HandleFetchState() error {
	stripped, err := a.engine.StripSecret(a.state, HumanPlayer)
	if err != nil {
		return fmt.Errorf("strip state: %w", err)
	}
	return a.bus.Emit(protocol.EventState, stripped.Raw())
}

// HandleFetchLog publishes the log from start onwards right away.
func (a *Adapter) HandleFetchLog(start int) error {
	if start < 0 {
		start = 0
	}
	if n := a.state.LogLen(); start > n {
		start = n
	}
	payload, err := a.gameLog(start)
	if err != nil {
		return err
	}
	return a.bus.Emit(protocol.EventGameLog, payload)
}

func (a *Adapter) gameLog(start int) (json.RawMessage, error) {
	stripped, err := a.engine.StripSecret(a.state, HumanPlayer)
	if err != nil {
		return nil, fmt.Errorf("strip state: %w", err)
	}
	page := protocol.LogPage{
		Start:          start,
		Log:            stripped.LogFrom(start),
		AvailableMoves: stripped.AllAvailableMoves(),
	}
	return protocol.EncodeGameLog(a.opts.Version, page)
}

// State returns a copy of the authoritative state.
func (a *Adapter) State() rules.State {
	return a.state.Clone()
}
