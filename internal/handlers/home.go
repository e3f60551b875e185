package handlers

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"tablerelay/internal/game"
	"tablerelay/internal/viewmodel"
	"tablerelay/views/pages"
)

type HomeHandler struct {
	store          *game.Store
	defaultPlayers int
	log            logrus.FieldLogger
}

func NewHomeHandler(store *game.Store, defaultPlayers int, log logrus.FieldLogger) *HomeHandler {
	return &HomeHandler{store: store, defaultPlayers: clamp(defaultPlayers, game.MinPlayers, game.MaxPlayers), log: log}
}

func (h *HomeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.home)
	r.Post("/games", h.createGame)
}

func (h *HomeHandler) home(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.Sessions()
	links := make([]viewmodel.SessionLink, 0, len(sessions))
	for _, s := range sessions {
		links = append(links, viewmodel.SessionLink{
			ID:        s.ID,
			Players:   s.Players,
			CreatedAt: s.CreatedAt.Format("15:04:05"),
		})
	}
	render(w, r, h.log, pages.HomePage(viewmodel.HomePage{
		Title:          "Table Relay",
		MinPlayers:     game.MinPlayers,
		MaxPlayers:     game.MaxPlayers,
		DefaultPlayers: h.defaultPlayers,
		Sessions:       links,
	}))
}

func (h *HomeHandler) createGame(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	players := clamp(parseInt(r.FormValue("players"), h.defaultPlayers), game.MinPlayers, game.MaxPlayers)
	seed, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("seed")), 10, 64)
	if err != nil {
		seed = rand.Int64N(1 << 31)
	}

	sess, err := h.store.CreateSession(players, seed)
	if err != nil {
		h.log.WithError(err).Error("create session")
		http.Error(w, "could not start game", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/game/"+sess.ID+"/", http.StatusSeeOther)
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
