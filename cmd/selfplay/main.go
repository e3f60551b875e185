// Command selfplay runs one local game without a browser. The human seat
// always takes its first available move; every event is printed to stdout
// as one JSON envelope per line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"tablerelay/internal/config"
	"tablerelay/internal/game"
	"tablerelay/internal/protocol"
	"tablerelay/internal/rules"
	"tablerelay/internal/rules/luarules"
)

func main() {
	seed := flag.Int64("seed", 1, "rules seed")
	maxMoves := flag.Int("max-moves", 1000, "stop after this many human moves")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout, *seed, *maxMoves); err != nil {
		logger.WithError(err).Fatal("selfplay")
	}
}

func run(ctx context.Context, cfg config.Config, logger logrus.FieldLogger, out io.Writer, seed int64, maxMoves int) error {
	engine, err := newEngine(cfg.RulesScript)
	if err != nil {
		return err
	}
	sess, err := game.NewSession(ctx, "selfplay", engine, game.SessionOptions{
		Players:      cfg.Players,
		Rules:        rules.Options{"seed": seed},
		Version:      cfg.Version(),
		GameLogDelay: cfg.GameLogDelay,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	wire := sess.Wire().Subscribe()
	enc := json.NewEncoder(out)

	// Launch already happened; replay it from the projection.
	proj := sess.Mount().Projection()
	player, err := json.Marshal(protocol.PlayerPayload{Index: proj.Player})
	if err != nil {
		return err
	}
	for _, env := range []protocol.Envelope{
		{V: sess.Version(), T: protocol.EventPlayer, M: player},
		{V: sess.Version(), T: protocol.EventState, M: proj.State.Raw()},
	} {
		if err := enc.Encode(env); err != nil {
			return err
		}
	}

	for moves := 0; moves < maxMoves; moves++ {
		proj := sess.Mount().Projection()
		if gjson.GetBytes(proj.State.Raw(), "ended").Bool() {
			break
		}
		move, ok := firstMove(proj.AvailableMoves, proj.Player)
		if !ok {
			break
		}
		if err := sess.EmitView(ctx, protocol.EventMove, move); err != nil {
			return fmt.Errorf("move %d: %w", moves, err)
		}
		if err := drainUntilGameLog(ctx, wire, enc); err != nil {
			return err
		}
	}

	final, err := sess.Authoritative(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"log":   final.LogLen(),
		"ended": gjson.GetBytes(final, "ended").Bool(),
	}).Info("selfplay finished")
	return nil
}

func drainUntilGameLog(ctx context.Context, wire <-chan protocol.Envelope, enc *json.Encoder) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-wire:
			if !ok {
				return errors.New("session closed")
			}
			if err := enc.Encode(env); err != nil {
				return err
			}
			if env.T == protocol.EventGameLog {
				return nil
			}
		}
	}
}

func firstMove(available []json.RawMessage, player int) (json.RawMessage, bool) {
	if player < 0 || player >= len(available) {
		return nil, false
	}
	first := gjson.GetBytes(available[player], "0")
	if !first.Exists() {
		return nil, false
	}
	return json.RawMessage(first.Raw), true
}

func newEngine(script string) (rules.Engine, error) {
	var (
		e   *luarules.Engine
		err error
	)
	if script == "" {
		e, err = luarules.NewBuiltin("pile")
	} else {
		var src []byte
		if src, err = os.ReadFile(script); err != nil {
			return nil, err
		}
		e, err = luarules.New(script, src)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
