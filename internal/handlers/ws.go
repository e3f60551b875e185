package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tablerelay/internal/game"
	"tablerelay/internal/protocol"
)

// socket relays one session over Envelope frames. The client picks the
// gamelog shape with ?v=; frames it sends may use either shape.
func (h *GameHandler) socket(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	version := sess.Version()
	if q := r.URL.Query().Get("v"); q != "" {
		n, err := strconv.Atoi(q)
		if err == nil {
			version, err = protocol.ParseVersion(n)
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("bad protocol version %q", q), http.StatusBadRequest)
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket accept")
		return
	}
	defer conn.CloseNow()

	log := h.log.WithFields(logrus.Fields{"session": sess.ID, "version": version})
	wire := sess.Wire().Subscribe()
	defer sess.Wire().Unsubscribe(wire)

	g, ctx := errgroup.WithContext(r.Context())
	send := func(env protocol.Envelope) error {
		out, err := protocol.Downgrade(env, version)
		if err != nil {
			return err
		}
		return wsjson.Write(ctx, conn, out)
	}

	if err := h.greet(sess, send); err != nil {
		log.WithError(err).Warn("websocket greeting")
		return
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case env, ok := <-wire:
				if !ok {
					if sess.Closed() {
						return conn.Close(websocket.StatusGoingAway, "game closed")
					}
					log.Warn("websocket client fell behind")
					return conn.Close(websocket.StatusTryAgainLater, "too slow, reconnect")
				}
				if err := send(env); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		for {
			var env protocol.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return err
			}
			if err := h.dispatch(ctx, sess, env); err != nil {
				if errors.Is(err, game.ErrSessionClosed) {
					return conn.Close(websocket.StatusGoingAway, "game closed")
				}
				log.WithError(err).WithField("event", env.T).Debug("websocket event failed")
				if err := send(errorEnvelope(env.T, err)); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusTryAgainLater:
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Debug("websocket closed")
	}
}

// greet sends the viewpoint and the current projection state, in that order.
func (h *GameHandler) greet(sess *game.Session, send func(protocol.Envelope) error) error {
	proj := sess.Mount().Projection()
	player, err := json.Marshal(protocol.PlayerPayload{Index: proj.Player})
	if err != nil {
		return err
	}
	if err := send(protocol.Envelope{T: protocol.EventPlayer, M: player}); err != nil {
		return err
	}
	return send(protocol.Envelope{T: protocol.EventState, M: proj.State.Raw()})
}

func (h *GameHandler) dispatch(ctx context.Context, sess *game.Session, env protocol.Envelope) error {
	in, err := protocol.Upgrade(env)
	if err != nil {
		return err
	}
	switch in.T {
	case protocol.EventMove:
		return sess.EmitView(ctx, in.T, in.M)
	case protocol.EventFetchState, protocol.EventFetchLog, protocol.EventStateUpdated:
		return sess.EmitLogic(ctx, in.T, in.M)
	default:
		return fmt.Errorf("unknown event %q", env.T)
	}
}

func errorEnvelope(event string, err error) protocol.Envelope {
	payload, _ := json.Marshal(protocol.ErrorPayload{Event: event, Message: err.Error()})
	return protocol.Envelope{T: protocol.EventError, M: payload}
}
