// Package rules defines the contract of the external rules engine and the
// opaque game state it produces.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrNoPlayer is returned when a player index is outside the state's players.
var ErrNoPlayer = errors.New("no such player")

// Move is a player's chosen action, opaque to this layer.
type Move = json.RawMessage

// Options are passed through to Engine.Setup.
type Options map[string]any

// Engine computes game transitions. Implementations are pure with respect to
// the State values they receive: the input is never modified.
type Engine interface {
	Setup(players int, opts Options) (State, error)
	Move(s State, m Move, player int) (State, error)
	MoveAI(s State, player int) (State, error)
	StripSecret(s State, viewer int) (State, error)
}

// State is a full or stripped game state encoded as a JSON object. Only the
// fields below are read here:
//
//	log                        ordered array of past moves
//	players                    array of player objects
//	players.N.isAI             whether moves for N are chosen by the engine
//	players.N.availableMoves   null or empty when N has nothing to do
//
// State values are treated as immutable; every method that changes a state
// returns a new one.
type State []byte

// ParseState validates raw JSON and copies it into a State.
func ParseState(raw []byte) (State, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("state is not valid JSON")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, errors.New("state is not a JSON object")
	}
	return State(bytes.Clone(raw)), nil
}

// Clone returns an independent copy.
func (s State) Clone() State {
	return State(bytes.Clone(s))
}

// Raw returns a copy of the document as a json.RawMessage.
func (s State) Raw() json.RawMessage {
	return json.RawMessage(bytes.Clone(s))
}

// LogLen is the number of log entries.
func (s State) LogLen() int {
	return int(gjson.GetBytes(s, "log.#").Int())
}

// LogFrom returns copies of the log entries at positions start and later.
func (s State) LogFrom(start int) []json.RawMessage {
	entries := gjson.GetBytes(s, "log").Array()
	if start < 0 {
		start = 0
	}
	if start >= len(entries) {
		return []json.RawMessage{}
	}
	out := make([]json.RawMessage, 0, len(entries)-start)
	for _, e := range entries[start:] {
		out = append(out, json.RawMessage(e.Raw))
	}
	return out
}

// PlayerCount is the number of players.
func (s State) PlayerCount() int {
	return int(gjson.GetBytes(s, "players.#").Int())
}

func (s State) player(i int, field string) gjson.Result {
	return gjson.GetBytes(s, "players."+strconv.Itoa(i)+"."+field)
}

// IsAI reports whether player i is engine controlled.
func (s State) IsAI(i int) bool {
	return s.player(i, "isAI").Bool()
}

// AvailableMoves returns a copy of player i's available moves, or nil.
func (s State) AvailableMoves(i int) json.RawMessage {
	r := s.player(i, "availableMoves")
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(r.Raw)
}

// AllAvailableMoves returns AvailableMoves for every player, in player order.
func (s State) AllAvailableMoves() []json.RawMessage {
	n := s.PlayerCount()
	out := make([]json.RawMessage, n)
	for i := 0; i < n; i++ {
		out[i] = s.AvailableMoves(i)
	}
	return out
}

// HasMoves reports whether player i has a non-empty set of available moves.
func (s State) HasMoves(i int) bool {
	r := s.player(i, "availableMoves")
	switch {
	case !r.Exists():
		return false
	case r.IsArray():
		return len(r.Array()) > 0
	case r.IsObject():
		return len(r.Map()) > 0
	case r.Type == gjson.Null, r.Type == gjson.False:
		return false
	case r.Type == gjson.String:
		return r.Str != ""
	default:
		return true
	}
}

// NextAI returns the first AI player that has available moves.
func (s State) NextAI() (int, bool) {
	n := s.PlayerCount()
	for i := 0; i < n; i++ {
		if s.IsAI(i) && s.HasMoves(i) {
			return i, true
		}
	}
	return -1, false
}

// WithAI returns a copy of s with player i's isAI flag set to ai.
func (s State) WithAI(i int, ai bool) (State, error) {
	if i < 0 || i >= s.PlayerCount() {
		return nil, fmt.Errorf("%w: %d", ErrNoPlayer, i)
	}
	out, err := sjson.SetBytes(s.Clone(), "players."+strconv.Itoa(i)+".isAI", ai)
	if err != nil {
		return nil, fmt.Errorf("set isAI: %w", err)
	}
	return State(out), nil
}

// Equal reports whether two states are byte-for-byte identical.
func (s State) Equal(o State) bool {
	return bytes.Equal(s, o)
}
