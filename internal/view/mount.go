// Package view binds the logic-side events of a game to a projection that
// renderers subscribe to.
package view

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"tablerelay/internal/protocol"
	"tablerelay/internal/rules"
	"tablerelay/pkg/realtime"
)

// Render notifications published to subscribers.
const (
	RenderState  = "state"
	RenderPlayer = "player"
	RenderLog    = "log"
)

// Projection is what a view currently knows about the game. A Projection
// returned by Mount.Projection is never modified afterwards.
type Projection struct {
	State          rules.State
	Player         int
	HasPlayer      bool
	Log            []json.RawMessage
	AvailableMoves []json.RawMessage
	Revision       uint64
}

// LogLen is the length of the log the view holds.
func (p Projection) LogLen() int {
	return len(p.Log)
}

func (p Projection) clone() Projection {
	p.Log = append([]json.RawMessage(nil), p.Log...)
	p.AvailableMoves = append([]json.RawMessage(nil), p.AvailableMoves...)
	return p
}

// Mount keeps a Projection in step with the logic bus. Handlers run on the
// bus's goroutine; Projection and Subscribe may be called from any goroutine.
type Mount struct {
	mu      sync.RWMutex
	proj    Projection
	logic   *realtime.Emitter[json.RawMessage]
	view    *realtime.Emitter[json.RawMessage]
	renders *realtime.Broadcaster[string]
	log     logrus.FieldLogger
}

// NewMount registers the mount's handlers on logic.
func NewMount(logic *realtime.Emitter[json.RawMessage], logger logrus.FieldLogger) *Mount {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Mount{
		logic:   logic,
		view:    realtime.NewEmitter[json.RawMessage](),
		renders: realtime.NewBroadcaster[string](16),
		log:     logger,
	}
	m.view.On(protocol.EventMove, func(p json.RawMessage) error {
		return logic.Emit(protocol.EventMove, p)
	})
	logic.On(protocol.EventState, m.onState)
	logic.On(protocol.EventStateUpdated, m.onStateUpdated)
	logic.On(protocol.EventPlayer, m.onPlayer)
	logic.On(protocol.EventGameLog, m.onGameLog)
	return m
}

// Emitter is the view-side channel: rendered components emit move on it and
// listen for addLog.
func (m *Mount) Emitter() *realtime.Emitter[json.RawMessage] {
	return m.view
}

// Projection returns the current projection.
func (m *Mount) Projection() Projection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proj.clone()
}

// Subscribe returns a channel receiving a Render* name after each change.
func (m *Mount) Subscribe() chan string {
	return m.renders.Subscribe()
}

// Unsubscribe stops delivery to ch and closes it.
func (m *Mount) Unsubscribe(ch chan string) {
	m.renders.Unsubscribe(ch)
}

// Close drops every subscriber.
func (m *Mount) Close() {
	m.renders.Close()
}

func (m *Mount) onState(p json.RawMessage) error {
	state, err := rules.ParseState(p)
	if err != nil {
		return fmt.Errorf("mount state: %w", err)
	}
	m.mu.Lock()
	m.proj = Projection{
		State:          state,
		Player:         m.proj.Player,
		HasPlayer:      m.proj.HasPlayer,
		Log:            state.LogFrom(0),
		AvailableMoves: state.AllAvailableMoves(),
		Revision:       m.proj.Revision + 1,
	}
	m.mu.Unlock()
	m.renders.Publish(RenderState)
	return nil
}

func (m *Mount) onStateUpdated(json.RawMessage) error {
	m.mu.RLock()
	start := len(m.proj.Log)
	m.mu.RUnlock()
	req, err := json.Marshal(protocol.FetchLogPayload{Start: start})
	if err != nil {
		return err
	}
	return m.logic.Emit(protocol.EventFetchLog, req)
}

func (m *Mount) onPlayer(p json.RawMessage) error {
	var player protocol.PlayerPayload
	if err := json.Unmarshal(p, &player); err != nil {
		return fmt.Errorf("mount player: %w", err)
	}
	m.mu.Lock()
	next := m.proj.clone()
	next.Player = player.Index
	next.HasPlayer = true
	next.Revision++
	m.proj = next
	m.mu.Unlock()
	m.renders.Publish(RenderPlayer)
	return nil
}

func (m *Mount) onGameLog(p json.RawMessage) error {
	page, _, err := protocol.DecodeGameLog(p)
	if err != nil {
		return fmt.Errorf("mount gamelog: %w", err)
	}
	addLog, err := protocol.EncodeAddLog(page)
	if err != nil {
		return err
	}
	if err := m.view.Emit(protocol.EventAddLog, addLog); err != nil {
		return err
	}

	m.mu.Lock()
	next := m.proj.clone()
	start := page.Start
	if start > len(next.Log) {
		m.log.WithFields(logrus.Fields{
			"start": start,
			"known": len(next.Log),
		}).Warn("gamelog page skips entries")
		start = len(next.Log)
	}
	next.Log = append(next.Log[:start], page.Log...)
	next.AvailableMoves = page.AvailableMoves
	next.Revision++
	m.proj = next
	m.mu.Unlock()

	// A log page does not carry the state it leads to; pull the snapshot so
	// State, Log and AvailableMoves describe the same position.
	if err := m.logic.Emit(protocol.EventFetchState, nil); err != nil {
		return fmt.Errorf("refresh state: %w", err)
	}
	m.renders.Publish(RenderLog)
	return nil
}
