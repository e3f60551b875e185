package components

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"tablerelay/internal/viewmodel"
)

func TestBoard_RendersMovesEscaped(t *testing.T) {
	var buf bytes.Buffer
	data := viewmodel.BoardFragment{
		GameID:  "g1",
		Players: []viewmodel.PlayerView{{Index: 0, IsYou: true}, {Index: 1, IsAI: true}},
		Moves:   []viewmodel.MoveOption{{Label: "play 3", Value: `{"play":3}`}},
	}
	if err := Board(data).Render(context.Background(), &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	html := buf.String()
	for _, want := range []string{
		`hx-post="/game/g1/move"`,
		`value="{&#34;play&#34;:3}"`,
		"Player 1 (you)",
		"Player 2 (AI)",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("board missing %q in %s", want, html)
		}
	}
}

func TestBoard_Status(t *testing.T) {
	tests := []struct {
		data viewmodel.BoardFragment
		want string
	}{
		{viewmodel.BoardFragment{Ended: true}, "Game over."},
		{viewmodel.BoardFragment{}, "Waiting for the other players."},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := Board(tt.data).Render(context.Background(), &buf); err != nil {
			t.Fatalf("render: %v", err)
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("got %q, want it to contain %q", buf.String(), tt.want)
		}
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	data := viewmodel.LogFragment{Entries: []viewmodel.LogEntry{{Index: 0, Text: `<b>`}, {Index: 1, Text: "pass"}}}
	if err := Log(data).Render(context.Background(), &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	html := buf.String()
	if strings.Contains(html, "<b>") {
		t.Errorf("log entry not escaped: %s", html)
	}
	if !strings.Contains(html, `<li value="1">pass</li>`) {
		t.Errorf("got %s", html)
	}
}
