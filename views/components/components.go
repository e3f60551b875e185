// Package components renders the fragments that the stream endpoint swaps
// into the game page.
package components

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"tablerelay/internal/viewmodel"
	"tablerelay/views/markup"
)

// Board renders the state summary, the seats and the viewer's moves.
func Board(data viewmodel.BoardFragment) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		m := markup.NewWriter(w)
		m.Raw(`<section class="board" data-revision="`, strconv.FormatUint(data.Revision, 10), `">`)
		if len(data.Summary) > 0 {
			m.Raw(`<dl class="summary">`)
			writeFields(m, data.Summary)
			m.Raw(`</dl>`)
		}

		m.Raw(`<ul class="players">`)
		for _, p := range data.Players {
			class := "player"
			if p.IsYou {
				class += " you"
			}
			m.Raw(`<li class="`, class, `"><span class="name">`)
			m.Text(seatName(p))
			m.Raw(`</span><dl>`)
			writeFields(m, p.Details)
			m.Raw(`</dl></li>`)
		}
		m.Raw(`</ul>`)

		switch {
		case data.Ended:
			m.Raw(`<p class="status">Game over.</p>`)
		case len(data.Moves) == 0:
			m.Raw(`<p class="status">Waiting for the other players.</p>`)
		default:
			m.Raw(`<div class="moves">`)
			for _, mv := range data.Moves {
				m.Raw(`<form method="post" action="/game/`)
				m.Text(data.GameID)
				m.Raw(`/move" hx-post="/game/`)
				m.Text(data.GameID)
				m.Raw(`/move" hx-swap="none"><input type="hidden" name="move" value="`)
				m.Text(mv.Value)
				m.Raw(`"><button type="submit">`)
				m.Text(mv.Label)
				m.Raw(`</button></form>`)
			}
			m.Raw(`</div>`)
		}
		m.Raw(`</section>`)
		return m.Err()
	})
}

// Log renders the game log, oldest entry first.
func Log(data viewmodel.LogFragment) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		m := markup.NewWriter(w)
		if len(data.Entries) == 0 {
			m.Raw(`<p class="log empty">Nothing has happened yet.</p>`)
			return m.Err()
		}
		m.Raw(`<ol class="log" start="0">`)
		for _, e := range data.Entries {
			m.Raw(`<li value="`, strconv.Itoa(e.Index), `">`)
			m.Text(e.Text)
			m.Raw(`</li>`)
		}
		m.Raw(`</ol>`)
		return m.Err()
	})
}

func seatName(p viewmodel.PlayerView) string {
	name := "Player " + strconv.Itoa(p.Index+1)
	switch {
	case p.IsYou:
		name += " (you)"
	case p.IsAI:
		name += " (AI)"
	}
	return name
}

func writeFields(m *markup.Writer, fields []viewmodel.Field) {
	for _, f := range fields {
		m.Raw(`<dt>`)
		m.Text(f.Label)
		m.Raw(`</dt><dd>`)
		m.Text(f.Value)
		m.Raw(`</dd>`)
	}
}
