package game

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"tablerelay/internal/protocol"
	"tablerelay/internal/rules"
	"tablerelay/internal/rules/luarules"
	"tablerelay/pkg/realtime"
)

type recorded struct {
	name    string
	payload json.RawMessage
}

// recorder captures bus events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []recorded
	notify chan recorded
}

func record(bus *Bus, names ...string) *recorder {
	r := &recorder{notify: make(chan recorded, 64)}
	for _, name := range names {
		name := name
		bus.On(name, func(p json.RawMessage) error {
			ev := recorded{name: name, payload: p}
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			select {
			case r.notify <- ev:
			default:
			}
			return nil
		})
	}
	return r
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func (r *recorder) named(name string) []recorded {
	var out []recorded
	for _, ev := range r.all() {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newPileEngine(t *testing.T) *luarules.Engine {
	t.Helper()
	e, err := luarules.NewBuiltin("pile")
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func newPileAdapter(t *testing.T, players int, opts AdapterOptions) (*Adapter, *Bus, *recorder) {
	t.Helper()
	bus := realtime.NewEmitter[json.RawMessage]()
	rec := record(bus, protocol.EventPlayer, protocol.EventState, protocol.EventGameLog)
	opts.Players = players
	if opts.Rules == nil {
		opts.Rules = rules.Options{"seed": 17}
	}
	opts.Logger = quietLogger()
	a, err := NewAdapter(newPileEngine(t), bus, opts)
	require.NoError(t, err)
	return a, bus, rec
}

// humanMove picks the first available move of the human from a state.
func humanMove(t *testing.T, s rules.State) rules.Move {
	t.Helper()
	moves := gjson.GetBytes(s, "players.0.availableMoves").Array()
	require.NotEmpty(t, moves, "human has no moves")
	return rules.Move(moves[0].Raw)
}

func TestAdapter_MarksEveryoneButHumanAsAI(t *testing.T) {
	a, _, _ := newPileAdapter(t, 4, AdapterOptions{})
	s := a.State()
	assert.False(t, s.IsAI(HumanPlayer))
	for i := 1; i < 4; i++ {
		assert.True(t, s.IsAI(i), "player %d", i)
	}
}

func TestAdapter_LaunchEmitsPlayerThenState(t *testing.T) {
	a, _, rec := newPileAdapter(t, 2, AdapterOptions{})
	require.NoError(t, a.Launch())

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventPlayer, events[0].name)
	assert.JSONEq(t, `{"index":0}`, string(events[0].payload))
	assert.Equal(t, protocol.EventState, events[1].name)

	state := rules.State(events[1].payload)
	assert.True(t, gjson.GetBytes(state, "players.0.hand").Exists())
	assert.False(t, gjson.GetBytes(state, "players.1.hand").Exists(), "opponent hand must be stripped")
	assert.True(t, state.IsAI(1))
}

func TestAdapter_MoveEmitsOneGameLogForWholeChain(t *testing.T) {
	a, _, rec := newPileAdapter(t, 2, AdapterOptions{})
	move := humanMove(t, a.State())

	require.NoError(t, a.HandleMove(move))

	logs := rec.named(protocol.EventGameLog)
	require.Len(t, logs, 1)
	page, v, err := protocol.DecodeGameLog(logs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.V2, v)
	assert.Equal(t, 0, page.Start)
	require.NotEmpty(t, page.Log)
	assert.EqualValues(t, 0, gjson.GetBytes(page.Log[0], "player").Int(), "first entry is the human move")
	for _, entry := range page.Log[1:] {
		assert.NotEqualValues(t, 0, gjson.GetBytes(entry, "player").Int(), "chain holds AI moves only")
	}
	require.Len(t, page.AvailableMoves, 2)

	s := a.State()
	ended := gjson.GetBytes(s, "ended").Bool()
	assert.True(t, ended || s.HasMoves(HumanPlayer), "chain stops at a human decision or the end")
	assert.JSONEq(t, `null`, string(page.AvailableMoves[1]), "opponent moves are stripped")
}

func TestAdapter_PlayToEnd(t *testing.T) {
	for _, players := range []int{2, 3, 5} {
		a, _, rec := newPileAdapter(t, players, AdapterOptions{Rules: rules.Options{"seed": int64(players * 31)}})
		for turn := 0; ; turn++ {
			require.Less(t, turn, 50, "game should end")
			s := a.State()
			if !s.HasMoves(HumanPlayer) {
				break
			}
			before := s.LogLen()
			rec.reset()

			require.NoError(t, a.HandleMove(humanMove(t, s)))

			_, pending := a.State().NextAI()
			assert.False(t, pending, "no AI player left with moves")

			logs := rec.named(protocol.EventGameLog)
			require.Len(t, logs, 1)
			page, _, err := protocol.DecodeGameLog(logs[0].payload)
			require.NoError(t, err)
			assert.Equal(t, before, page.Start)
			assert.Equal(t, a.State().LogLen(), page.Start+len(page.Log))
		}
		assert.True(t, gjson.GetBytes(a.State(), "ended").Bool())
	}
}

func TestAdapter_PayloadsAreIndependent(t *testing.T) {
	a, bus, rec := newPileAdapter(t, 3, AdapterOptions{})
	require.NoError(t, bus.Emit(protocol.EventFetchState, nil))
	first := rec.named(protocol.EventState)[0].payload
	want := append(json.RawMessage(nil), first...)

	for i := range first {
		first[i] = 'x'
	}
	require.NoError(t, a.HandleMove(humanMove(t, a.State())))
	gl := rec.named(protocol.EventGameLog)[0].payload
	for i := range gl {
		gl[i] = 'x'
	}

	rec.reset()
	require.NoError(t, a.HandleFetchLog(0))
	page, _, err := protocol.DecodeGameLog(rec.named(protocol.EventGameLog)[0].payload)
	require.NoError(t, err)
	assert.NotEmpty(t, page.Log)

	rec.reset()
	require.NoError(t, bus.Emit(protocol.EventFetchState, nil))
	after := rec.named(protocol.EventState)[0].payload
	assert.True(t, gjson.ValidBytes(after))
	assert.NotEqual(t, string(want), string(after), "state advanced")

	// and once more with no move in between: identical bytes
	rec.reset()
	require.NoError(t, bus.Emit(protocol.EventFetchState, nil))
	assert.Equal(t, string(after), string(rec.named(protocol.EventState)[0].payload))
}

func TestAdapter_FetchStateIsIdempotent(t *testing.T) {
	a, bus, rec := newPileAdapter(t, 4, AdapterOptions{})
	require.NoError(t, a.HandleMove(humanMove(t, a.State())))
	rec.reset()

	require.NoError(t, bus.Emit(protocol.EventFetchState, nil))
	require.NoError(t, bus.Emit("fetchSate", nil))
	require.NoError(t, bus.Emit(protocol.EventFetchState, nil))

	states := rec.named(protocol.EventState)
	require.Len(t, states, 3)
	assert.Equal(t, string(states[0].payload), string(states[1].payload))
	assert.Equal(t, string(states[0].payload), string(states[2].payload))
}

func TestAdapter_RejectedMoveKeepsState(t *testing.T) {
	a, bus, rec := newPileAdapter(t, 2, AdapterOptions{})
	before := a.State()

	err := bus.Emit(protocol.EventMove, json.RawMessage(`{"play":7}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply move")

	var scriptErr *luarules.ScriptError
	assert.True(t, errors.As(err, &scriptErr))
	assert.True(t, before.Equal(a.State()))
	assert.Empty(t, rec.named(protocol.EventGameLog))
}

func TestAdapter_FetchLogClampsStart(t *testing.T) {
	a, bus, rec := newPileAdapter(t, 2, AdapterOptions{Version: protocol.V1})
	require.NoError(t, a.HandleMove(humanMove(t, a.State())))
	total := a.State().LogLen()
	rec.reset()

	require.NoError(t, bus.Emit(protocol.EventFetchLog, json.RawMessage(`{"start":1}`)))
	require.NoError(t, bus.Emit(protocol.EventFetchLog, json.RawMessage(`{"start":99}`)))
	require.NoError(t, bus.Emit(protocol.EventFetchLog, nil))

	logs := rec.named(protocol.EventGameLog)
	require.Len(t, logs, 3)

	assert.False(t, gjson.GetBytes(logs[0].payload, "data").Exists(), "v1 payload is unwrapped")
	page, v, err := protocol.DecodeGameLog(logs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.V1, v)
	assert.Equal(t, 1, page.Start)
	assert.Len(t, page.Log, total-1)

	page, _, err = protocol.DecodeGameLog(logs[1].payload)
	require.NoError(t, err)
	assert.Equal(t, total, page.Start)
	assert.Empty(t, page.Log)

	page, _, err = protocol.DecodeGameLog(logs[2].payload)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Start)
	assert.Len(t, page.Log, total)

	assert.Error(t, bus.Emit(protocol.EventFetchLog, json.RawMessage(`{"start":"a"}`)))
}

func TestAdapter_DeferredGameLog(t *testing.T) {
	loop := realtime.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Run(ctx)
	defer loop.Stop()

	a, _, rec := newPileAdapter(t, 3, AdapterOptions{Scheduler: loop, GameLogDelay: 30 * time.Millisecond})

	var starts []int
	err := loop.Do(ctx, func() error {
		for i := 0; i < 2; i++ {
			starts = append(starts, a.State().LogLen())
			if err := a.HandleMove(humanMove(t, a.State())); err != nil {
				return err
			}
		}
		assert.Empty(t, rec.named(protocol.EventGameLog), "gamelog is deferred")
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case ev := <-rec.notify:
			require.Equal(t, protocol.EventGameLog, ev.name)
			page, _, err := protocol.DecodeGameLog(ev.payload)
			require.NoError(t, err)
			assert.Equal(t, starts[i], page.Start, "gamelogs arrive in move order")
		case <-time.After(2 * time.Second):
			t.Fatal("gamelog not delivered")
		}
	}
}

// stuckEngine keeps offering the AI a move that changes nothing.
type stuckEngine struct {
	aiCalls int
	aiErr   error
}

func (e *stuckEngine) Setup(int, rules.Options) (rules.State, error) {
	return rules.ParseState([]byte(`{"log":[],"players":[{"availableMoves":[1]},{"availableMoves":[1]}]}`))
}

func (e *stuckEngine) Move(s rules.State, _ rules.Move, _ int) (rules.State, error) {
	return s.Clone(), nil
}

func (e *stuckEngine) MoveAI(s rules.State, _ int) (rules.State, error) {
	e.aiCalls++
	if e.aiErr != nil {
		return nil, e.aiErr
	}
	return s.Clone(), nil
}

func (e *stuckEngine) StripSecret(s rules.State, _ int) (rules.State, error) {
	return s.Clone(), nil
}

func TestAdapter_AIChainIsBounded(t *testing.T) {
	engine := &stuckEngine{}
	bus := realtime.NewEmitter[json.RawMessage]()
	rec := record(bus, protocol.EventGameLog)
	a, err := NewAdapter(engine, bus, AdapterOptions{Players: 2, MaxAIMoves: 5, Logger: quietLogger()})
	require.NoError(t, err)

	err = a.HandleMove(rules.Move(`1`))
	assert.True(t, errors.Is(err, ErrAIChainTooLong))
	assert.Equal(t, 5, engine.aiCalls)
	assert.Empty(t, rec.all())
}

func TestAdapter_AIErrorPropagates(t *testing.T) {
	errBroken := errors.New("broken ai")
	engine := &stuckEngine{aiErr: errBroken}
	bus := realtime.NewEmitter[json.RawMessage]()
	_, err := NewAdapter(engine, bus, AdapterOptions{Players: 2, Logger: quietLogger()})
	require.NoError(t, err)

	err = bus.Emit(protocol.EventMove, json.RawMessage(`1`))
	assert.True(t, errors.Is(err, errBroken))
	assert.Equal(t, 1, engine.aiCalls)
}

func TestNewAdapter_Validation(t *testing.T) {
	bus := realtime.NewEmitter[json.RawMessage]()
	_, err := NewAdapter(&stuckEngine{}, bus, AdapterOptions{Players: 0})
	assert.Error(t, err)
}
