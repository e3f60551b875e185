// Package protocol defines the events exchanged between the view and the
// game logic, their payloads, and the conversions between protocol versions.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Event names.
const (
	EventMove         = "move"
	EventFetchState   = "fetchState"
	EventFetchLog     = "fetchLog"
	EventState        = "state"
	EventStateUpdated = "state:updated"
	EventPlayer       = "player"
	EventGameLog      = "gamelog"
	EventAddLog       = "addLog"
	EventError        = "error"

	// Misspelled name still sent by older views.
	eventFetchStateLegacy = "fetchSate"
)

// Version selects the shape of the gamelog payload.
type Version int

const (
	// V1 sends gamelog as {start, log, availableMoves}.
	V1 Version = 1
	// V2 wraps the page: {start, data: {log, availableMoves}}.
	V2 Version = 2

	Current = V2
)

// ParseVersion maps a number onto a known version; zero means Current.
func ParseVersion(n int) (Version, error) {
	switch Version(n) {
	case 0:
		return Current, nil
	case V1, V2:
		return Version(n), nil
	default:
		return 0, fmt.Errorf("unknown protocol version %d", n)
	}
}

// Normalize maps legacy event names onto their current name.
func Normalize(name string) string {
	if name == eventFetchStateLegacy {
		return EventFetchState
	}
	return name
}

// Aliases returns every name an event may arrive under, including name itself.
func Aliases(name string) []string {
	if name == EventFetchState {
		return []string{EventFetchState, eventFetchStateLegacy}
	}
	return []string{name}
}

// PlayerPayload identifies the viewpoint of a view.
type PlayerPayload struct {
	Index int `json:"index"`
}

// FetchLogPayload asks for the log from Start onwards.
type FetchLogPayload struct {
	Start int `json:"start"`
}

// ErrorPayload reports a failed request back to a remote view.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// LogPage is the version independent content of a gamelog event.
type LogPage struct {
	Start          int               `json:"start"`
	Log            []json.RawMessage `json:"log"`
	AvailableMoves []json.RawMessage `json:"availableMoves"`
}

type logData struct {
	Log            []json.RawMessage `json:"log"`
	AvailableMoves []json.RawMessage `json:"availableMoves"`
}

type enveloped struct {
	Start int     `json:"start"`
	Data  logData `json:"data"`
}

func (p LogPage) normalized() LogPage {
	if p.Log == nil {
		p.Log = []json.RawMessage{}
	}
	if p.AvailableMoves == nil {
		p.AvailableMoves = []json.RawMessage{}
	}
	return p
}

// EncodeGameLog encodes page in the shape of version v.
func EncodeGameLog(v Version, page LogPage) (json.RawMessage, error) {
	page = page.normalized()
	switch v {
	case V1:
		return json.Marshal(page)
	case V2:
		return json.Marshal(enveloped{
			Start: page.Start,
			Data:  logData{Log: page.Log, AvailableMoves: page.AvailableMoves},
		})
	default:
		return nil, fmt.Errorf("unknown protocol version %d", v)
	}
}

// DecodeGameLog decodes a gamelog payload of any version.
func DecodeGameLog(raw json.RawMessage) (LogPage, Version, error) {
	if !gjson.ValidBytes(raw) {
		return LogPage{}, 0, fmt.Errorf("gamelog payload is not valid JSON")
	}
	if gjson.GetBytes(raw, "data").IsObject() {
		var e enveloped
		if err := json.Unmarshal(raw, &e); err != nil {
			return LogPage{}, 0, fmt.Errorf("decode gamelog: %w", err)
		}
		page := LogPage{Start: e.Start, Log: e.Data.Log, AvailableMoves: e.Data.AvailableMoves}
		return page.normalized(), V2, nil
	}
	var page LogPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return LogPage{}, 0, fmt.Errorf("decode gamelog: %w", err)
	}
	return page.normalized(), V1, nil
}

// EncodeAddLog encodes the view-internal addLog event, which always uses
// the unwrapped shape.
func EncodeAddLog(page LogPage) (json.RawMessage, error) {
	return json.Marshal(page.normalized())
}

// Envelope frames one event on a transport.
type Envelope struct {
	V Version         `json:"v,omitempty"`
	T string          `json:"t"`
	M json.RawMessage `json:"m,omitempty"`
}

// Upgrade converts an envelope from any version into the Current one.
func Upgrade(env Envelope) (Envelope, error) {
	return convert(env, Current)
}

// Downgrade converts an envelope into version v.
func Downgrade(env Envelope, v Version) (Envelope, error) {
	return convert(env, v)
}

func convert(env Envelope, v Version) (Envelope, error) {
	out := Envelope{V: v, T: Normalize(env.T), M: env.M}
	if out.T != EventGameLog || len(env.M) == 0 {
		return out, nil
	}
	page, _, err := DecodeGameLog(env.M)
	if err != nil {
		return Envelope{}, err
	}
	out.M, err = EncodeGameLog(v, page)
	if err != nil {
		return Envelope{}, err
	}
	return out, nil
}
