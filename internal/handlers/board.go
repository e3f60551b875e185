package handlers

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"tablerelay/internal/view"
	"tablerelay/internal/viewmodel"
)

// Keys shown by dedicated parts of the board rather than as plain fields.
var hiddenStateKeys = map[string]bool{"log": true, "players": true}
var hiddenPlayerKeys = map[string]bool{"index": true, "isAI": true, "availableMoves": true}

func buildBoard(gameID string, proj view.Projection) viewmodel.BoardFragment {
	state := gjson.ParseBytes(proj.State.Raw())
	board := viewmodel.BoardFragment{
		GameID:    gameID,
		Player:    proj.Player,
		HasPlayer: proj.HasPlayer,
		Revision:  proj.Revision,
		Summary:   fields(state, hiddenStateKeys),
		Ended:     state.Get("ended").Bool(),
	}
	for i, p := range state.Get("players").Array() {
		board.Players = append(board.Players, viewmodel.PlayerView{
			Index:   i,
			IsAI:    p.Get("isAI").Bool(),
			IsYou:   proj.HasPlayer && i == proj.Player,
			Details: fields(p, hiddenPlayerKeys),
		})
	}
	if proj.HasPlayer && proj.Player >= 0 && proj.Player < len(proj.AvailableMoves) && !board.Ended {
		board.Moves = moveOptions(proj.AvailableMoves[proj.Player])
	}
	return board
}

func buildLog(gameID string, proj view.Projection) viewmodel.LogFragment {
	out := viewmodel.LogFragment{GameID: gameID, Entries: make([]viewmodel.LogEntry, 0, len(proj.Log))}
	for i, entry := range proj.Log {
		out.Entries = append(out.Entries, viewmodel.LogEntry{Index: i, Text: describe(gjson.ParseBytes(entry))})
	}
	return out
}

func moveOptions(raw json.RawMessage) []viewmodel.MoveOption {
	if len(raw) == 0 {
		return nil
	}
	moves := gjson.ParseBytes(raw)
	var list []gjson.Result
	switch {
	case moves.IsArray():
		list = moves.Array()
	case moves.IsObject():
		list = []gjson.Result{moves}
	default:
		return nil
	}
	out := make([]viewmodel.MoveOption, 0, len(list))
	for _, m := range list {
		out = append(out, viewmodel.MoveOption{Label: describe(m), Value: m.Raw})
	}
	return out
}

func fields(obj gjson.Result, hidden map[string]bool) []viewmodel.Field {
	var out []viewmodel.Field
	obj.ForEach(func(key, value gjson.Result) bool {
		if !hidden[key.String()] {
			out = append(out, viewmodel.Field{Label: key.String(), Value: describe(value)})
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// describe renders a JSON value as short text: objects become "key value"
// pairs, true flags become their key alone, arrays are comma separated.
func describe(v gjson.Result) string {
	switch {
	case v.IsObject():
		var parts []string
		v.ForEach(func(key, value gjson.Result) bool {
			switch value.Type {
			case gjson.True:
				parts = append(parts, key.String())
			case gjson.False, gjson.Null:
			default:
				parts = append(parts, key.String()+" "+describe(value))
			}
			return true
		})
		sort.Strings(parts)
		return strings.Join(parts, ", ")
	case v.IsArray():
		var parts []string
		for _, item := range v.Array() {
			parts = append(parts, describe(item))
		}
		return "[" + strings.Join(parts, " ") + "]"
	case v.Type == gjson.Null:
		return ""
	default:
		return v.String()
	}
}
