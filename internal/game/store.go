package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tablerelay/internal/protocol"
	"tablerelay/internal/rules"
	"tablerelay/pkg/realtime"
)

// Seats per session, the human included.
const (
	MinPlayers = 2
	MaxPlayers = 10
)

// EngineFactory returns a fresh rules engine for one session.
type EngineFactory func() (rules.Engine, error)

// StoreOptions are applied to every session the store creates.
type StoreOptions struct {
	Version      protocol.Version
	GameLogDelay time.Duration
	Logger       logrus.FieldLogger
}

// Store holds sessions and delegates to realtime.RoomStore for lookup.
type Store struct {
	ctx     context.Context
	cancel  context.CancelFunc
	r       *realtime.RoomStore[*Session]
	factory EngineFactory
	opts    StoreOptions
	log     logrus.FieldLogger
}

// NewStore creates an empty store. Sessions live until Close.
func NewStore(factory EngineFactory, opts StoreOptions) *Store {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		ctx:     ctx,
		cancel:  cancel,
		r:       realtime.NewRoomStore[*Session](),
		factory: factory,
		opts:    opts,
		log:     opts.Logger,
	}
}

// CreateSession starts a game for players seats, seeding the engine with seed.
func (s *Store) CreateSession(players int, seed int64) (*Session, error) {
	if err := checkPlayers(players); err != nil {
		return nil, err
	}
	engine, err := s.factory()
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	id := uuid.NewString()
	sess, err := NewSession(s.ctx, id, engine, SessionOptions{
		Players:      players,
		Rules:        rules.Options{"seed": seed},
		Version:      s.opts.Version,
		GameLogDelay: s.opts.GameLogDelay,
		Logger:       s.log,
	})
	if err != nil {
		return nil, err
	}
	s.r.Create(id, sess)
	s.log.WithFields(logrus.Fields{"session": id, "players": players}).Info("session created")
	return sess, nil
}

// GetSession returns a session by ID if it exists.
func (s *Store) GetSession(id string) (*Session, bool) {
	room, ok := s.r.Get(id)
	if !ok {
		return nil, false
	}
	return room.State, true
}

// Sessions returns every live session, oldest first.
func (s *Store) Sessions() []*Session {
	rooms := s.r.Rooms()
	out := make([]*Session, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.State)
	}
	return out
}

// CloseSession stops and forgets one session.
func (s *Store) CloseSession(id string) bool {
	room, ok := s.r.Delete(id)
	if !ok {
		return false
	}
	room.State.Close()
	return true
}

// Close stops every session.
func (s *Store) Close() {
	s.cancel()
	for _, room := range s.r.Rooms() {
		s.r.Delete(room.ID)
		room.State.Close()
	}
}
