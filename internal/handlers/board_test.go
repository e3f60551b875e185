package handlers

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"tablerelay/internal/rules"
	"tablerelay/internal/view"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"player":0,"play":3,"pile":6}`, "pile 6, play 3, player 0"},
		{`{"pass":true,"player":2}`, "pass, player 2"},
		{`[3,1,1]`, "[3 1 1]"},
		{`"hello"`, "hello"},
		{`null`, ""},
	}
	for _, tt := range tests {
		if got := describe(gjson.Parse(tt.in)); got != tt.want {
			t.Errorf("describe(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildBoard(t *testing.T) {
	state, err := rules.ParseState([]byte(`{"pile":7,"turn":0,"ended":false,"log":[],"players":[` +
		`{"index":0,"isAI":false,"hand":[3,2],"availableMoves":[{"play":3},{"play":2}]},` +
		`{"index":1,"isAI":true,"handSize":5}]}`))
	if err != nil {
		t.Fatal(err)
	}
	proj := view.Projection{
		State:          state,
		HasPlayer:      true,
		AvailableMoves: state.AllAvailableMoves(),
	}

	board := buildBoard("g", proj)
	if len(board.Summary) != 3 || board.Summary[1].Label != "pile" || board.Summary[1].Value != "7" {
		t.Errorf("summary = %+v", board.Summary)
	}
	if len(board.Players) != 2 || !board.Players[0].IsYou || !board.Players[1].IsAI {
		t.Fatalf("players = %+v", board.Players)
	}
	if got := board.Players[0].Details; len(got) != 1 || got[0].Label != "hand" || got[0].Value != "[3 2]" {
		t.Errorf("details = %+v", got)
	}
	if len(board.Moves) != 2 || board.Moves[0].Value != `{"play":3}` || board.Moves[0].Label != "play 3" {
		t.Errorf("moves = %+v", board.Moves)
	}
}

func TestBuildBoard_NoMovesWhenEnded(t *testing.T) {
	state, err := rules.ParseState([]byte(`{"ended":true,"players":[{"availableMoves":[1]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	board := buildBoard("g", view.Projection{State: state, HasPlayer: true, AvailableMoves: []json.RawMessage{json.RawMessage(`[1]`)}})
	if !board.Ended || len(board.Moves) != 0 {
		t.Errorf("board = %+v", board)
	}
}
