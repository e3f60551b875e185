// Package pages renders full HTML documents.
package pages

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"tablerelay/internal/viewmodel"
	"tablerelay/views/components"
	"tablerelay/views/markup"
)

func layout(m *markup.Writer, title string) {
	m.Raw(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
	m.Raw(`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
	m.Text(title)
	m.Raw(`</title><link rel="stylesheet" href="/static/style.css">`)
	m.Raw(`<script src="https://unpkg.com/htmx.org@1.9.12"></script>`)
	m.Raw(`<script src="https://unpkg.com/htmx.org@1.9.12/dist/ext/sse.js"></script>`)
	m.Raw(`<script src="/static/app.js" defer></script></head><body>`)
}

// HomePage renders the create-game form and the running sessions.
func HomePage(data viewmodel.HomePage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		m := markup.NewWriter(w)
		layout(m, data.Title)
		m.Raw(`<main><h1>`)
		m.Text(data.Title)
		m.Raw(`</h1><form method="post" action="/games" class="create">`)
		m.Raw(`<label>Players <input type="number" name="players" min="`, strconv.Itoa(data.MinPlayers),
			`" max="`, strconv.Itoa(data.MaxPlayers), `" value="`, strconv.Itoa(data.DefaultPlayers), `"></label>`)
		m.Raw(`<label>Seed <input type="number" name="seed" placeholder="random"></label>`)
		m.Raw(`<button type="submit">New game</button></form>`)
		if len(data.Sessions) > 0 {
			m.Raw(`<h2>Running games</h2><ul class="sessions">`)
			for _, s := range data.Sessions {
				m.Raw(`<li><a href="/game/`)
				m.Text(s.ID)
				m.Raw(`/">`)
				m.Text(strconv.Itoa(s.Players) + " players, started " + s.CreatedAt)
				m.Raw(`</a></li>`)
			}
			m.Raw(`</ul>`)
		}
		m.Raw(`</main></body></html>`)
		return m.Err()
	})
}

// GamePage renders a session with live board and log panels.
func GamePage(data viewmodel.GamePage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		m := markup.NewWriter(w)
		layout(m, data.Title)
		m.Raw(`<main data-game="`)
		m.Text(data.GameID)
		m.Raw(`" data-version="`, strconv.Itoa(data.Version), `"><header><h1>`)
		m.Text(data.Title)
		m.Raw(`</h1><p class="invite">Link: <a href="`)
		m.Text(data.InviteURL)
		m.Raw(`">`)
		m.Text(data.InviteURL)
		m.Raw(`</a></p></header>`)
		m.Raw(`<div hx-ext="sse" sse-connect="/game/`)
		m.Text(data.GameID)
		m.Raw(`/stream"><div id="board" sse-swap="board">`)
		m.Component(ctx, components.Board(data.Board))
		m.Raw(`</div><div id="log" sse-swap="log">`)
		m.Component(ctx, components.Log(data.Log))
		m.Raw(`</div></div><p id="error" class="error" hidden></p></main></body></html>`)
		return m.Err()
	})
}
