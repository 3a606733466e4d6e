package ws

import (
	"encoding/json"
	"time"

	"github.com/vedran77/pulsecore/pkg/wire"
)

// Error codes sent in error frames.
const (
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeUnknownEvent   = "UNKNOWN_EVENT"
	CodeRateLimited    = "RATE_LIMITED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeUnavailable    = "UNAVAILABLE"
)

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Frames are plain structs; this only fails on programmer error.
		panic(err)
	}
	return data
}

func errorFrame(code, message string) []byte {
	return encode(wire.Error{Type: wire.TypeError, Code: code, Message: message})
}

func pongFrame() []byte {
	return encode(wire.Pong{Type: wire.TypePong, TS: time.Now().UTC()})
}
