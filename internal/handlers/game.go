package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"tablerelay/internal/game"
	"tablerelay/internal/protocol"
	"tablerelay/internal/view"
	"tablerelay/internal/viewmodel"
	"tablerelay/views/components"
	"tablerelay/views/pages"
)

const maxMoveBytes = 64 << 10

type GameHandler struct {
	store   *game.Store
	baseURL string
	log     logrus.FieldLogger
}

func NewGameHandler(store *game.Store, baseURL string, log logrus.FieldLogger) *GameHandler {
	return &GameHandler{store: store, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), log: log}
}

func (h *GameHandler) RegisterRoutes(r chi.Router) {
	r.Route("/game/{id}", func(r chi.Router) {
		r.Get("/", h.gamePage)
		r.Post("/move", h.move)
		r.Get("/state", h.state)
		r.Get("/board", h.boardFragment)
		r.Get("/log", h.logFragment)
		r.Get("/stream", h.stream)
		r.Get("/ws", h.socket)
	})
}

func (h *GameHandler) session(w http.ResponseWriter, r *http.Request) (*game.Session, bool) {
	sess, ok := h.store.GetSession(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return nil, false
	}
	return sess, true
}

func (h *GameHandler) gamePage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	proj := sess.Mount().Projection()
	data := viewmodel.GamePage{
		Title:     "Table Relay",
		GameID:    sess.ID,
		InviteURL: h.inviteURL(r, sess.ID),
		Version:   int(sess.Version()),
		Board:     buildBoard(sess.ID, proj),
		Log:       buildLog(sess.ID, proj),
	}
	render(w, r, h.log, pages.GamePage(data))
}

func (h *GameHandler) move(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	move, err := readMove(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = sess.EmitView(r.Context(), protocol.EventMove, move)
	switch {
	case errors.Is(err, game.ErrSessionClosed):
		http.Error(w, "game closed", http.StatusGone)
		return
	case err != nil:
		h.log.WithError(err).WithField("session", sess.ID).Info("move failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if r.Header.Get("Hx-Request") == "true" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/game/"+sess.ID+"/", http.StatusSeeOther)
}

// readMove takes the move from a JSON body or from the "move" form field.
func readMove(r *http.Request) (json.RawMessage, error) {
	var raw []byte
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMoveBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read move: %w", err)
		}
		if len(body) > maxMoveBytes {
			return nil, errors.New("move too large")
		}
		raw = body
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid form")
		}
		raw = []byte(r.FormValue("move"))
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("move required")
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("move must be JSON")
	}
	return json.RawMessage(raw), nil
}

func (h *GameHandler) state(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.EmitLogic(r.Context(), protocol.EventFetchState, nil); err != nil {
		if errors.Is(err, game.ErrSessionClosed) {
			http.Error(w, "game closed", http.StatusGone)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(sess.Mount().Projection().State.Raw())
}

func (h *GameHandler) boardFragment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	render(w, r, h.log, components.Board(buildBoard(sess.ID, sess.Mount().Projection())))
}

func (h *GameHandler) logFragment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	render(w, r, h.log, components.Log(buildLog(sess.ID, sess.Mount().Projection())))
}

func (h *GameHandler) stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	mount := sess.Mount()
	sub := mount.Subscribe()
	defer mount.Unsubscribe(sub)

	sendSnapshot := func(includeBoard bool, includeLog bool) {
		proj := mount.Projection()
		if includeBoard {
			writeSSE(w, "board", renderToString(r, components.Board(buildBoard(sess.ID, proj))))
		}
		if includeLog {
			writeSSE(w, "log", renderToString(r, components.Log(buildLog(sess.ID, proj))))
		}
		flusher.Flush()
	}

	sendSnapshot(true, true)

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			switch event {
			case view.RenderPlayer:
				sendSnapshot(true, false)
			case view.RenderState, view.RenderLog:
				sendSnapshot(true, true)
			}
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}

func (h *GameHandler) inviteURL(r *http.Request, gameID string) string {
	if h.baseURL != "" {
		return h.baseURL + "/game/" + gameID + "/"
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/game/" + gameID + "/"
}
