/*
Package server implements msgpack IPC for next-word prediction.

The server reads a stream of msgpack-encoded requests from stdin and writes
one msgpack response per request to stdout. Logs go to stderr so they never
interleave with the stream.

# IPC

Each message carries an ID and an action. A message without an action is a
prediction request. Typed text uses "|" as the cursor and a trailing space to
mean the last word is complete:

	{"id": "req_001", "x": "i want to e", "l": 6}

The server responds with suggestions best first:

	{"id": "req_001", "s": [{"w": "eat", "r": 1, "sc": 0.82, "src": "local"}], "c": 1, "t": 145}

The context can also be sent pre-split:

	{"id": "req_002", "ctx": ["i", "want"], "p": "t"}

Other actions report status:

	{"id": "obs_001", "action": "observe", "x": "i want to eat pizza"}
	{"id": "cfg_001", "action": "reload"}
	{"id": "st_001", "action": "stats"}
	{"id": "hc_001", "action": "health"}
	{"id": "sv_001", "action": "save"}

Requests without an ID get a generated one. Remote service trouble never
shows up in responses; predictions just come from the local model.
*/
package server

import (
	"github.com/bastiangx/nextword/pkg/availability"
)

// Actions understood by the server.
const (
	ActionPredict = "predict"
	ActionObserve = "observe"
	ActionReload  = "reload"
	ActionStats   = "stats"
	ActionHealth  = "health"
	ActionSave    = "save"
)

// Request is any client message. Fields not used by the action are ignored.
type Request struct {
	ID      string   `msgpack:"id"`
	Action  string   `msgpack:"action,omitempty"`
	Text    string   `msgpack:"x,omitempty"`
	Words   []string `msgpack:"ctx,omitempty"`
	Partial string   `msgpack:"p,omitempty"`
	Limit   int      `msgpack:"l,omitempty"`
}

// Suggestion is one ranked next word.
type Suggestion struct {
	Word   string  `msgpack:"w"`
	Rank   uint16  `msgpack:"r"`
	Score  float64 `msgpack:"sc"`
	Source string  `msgpack:"src"`
}

// PredictResponse answers a prediction request. TimeTaken is in microseconds.
type PredictResponse struct {
	ID          string       `msgpack:"id"`
	Suggestions []Suggestion `msgpack:"s"`
	Count       int          `msgpack:"c"`
	TimeTaken   int64        `msgpack:"t"`
}

// StatusResponse answers every other action.
type StatusResponse struct {
	ID     string              `msgpack:"id"`
	Status string              `msgpack:"status"`
	Error  string              `msgpack:"error,omitempty"`
	Stats  map[string]int      `msgpack:"stats,omitempty"`
	Remote *availability.State `msgpack:"remote,omitempty"`
}

// ErrorResponse reports a request the server could not handle.
type ErrorResponse struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}
