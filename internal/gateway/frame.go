package gateway

import (
	"encoding/binary"
	"fmt"

	"github.com/codecollab/hub/internal/room"
)

// MaxFrameSize is the largest single WebSocket message accepted, spec.md
// §6.5; larger messages close with 4413.
const MaxFrameSize = 1 << 20 // 1 MiB

// parsedFrame is a decoded inbound wire frame: a kind tag plus its payload.
// Kind constants are shared with the room package since Room's own
// tagFrame builds outbound frames the same way.
type parsedFrame struct {
	Kind    byte
	Payload []byte
}

// parseFrame decodes a raw WebSocket binary message into a kind tag and
// payload per spec.md §6.5: one kind byte, then for payload-carrying kinds
// a varuint length prefix and that many payload bytes; Ping/Pong carry no
// length prefix at all ("empty" payload).
func parseFrame(raw []byte) (parsedFrame, error) {
	if len(raw) > MaxFrameSize {
		return parsedFrame{}, ErrFrameTooLarge
	}
	if len(raw) == 0 {
		return parsedFrame{}, fmt.Errorf("%w: empty message", ErrInvalidFrame)
	}

	kind := raw[0]
	switch kind {
	case room.KindPing, room.KindPong:
		if len(raw) != 1 {
			return parsedFrame{}, fmt.Errorf("%w: ping/pong must carry no payload", ErrInvalidFrame)
		}
		return parsedFrame{Kind: kind}, nil

	case room.KindSyncStep1, room.KindSyncStep2, room.KindDocUpdate, room.KindAwarenessSnapshot, room.KindAwarenessUpdate:
		length, n := binary.Uvarint(raw[1:])
		if n <= 0 {
			return parsedFrame{}, fmt.Errorf("%w: invalid length prefix", ErrInvalidFrame)
		}
		start := 1 + n
		end := start + int(length)
		if end > len(raw) {
			return parsedFrame{}, fmt.Errorf("%w: length prefix exceeds message size", ErrInvalidFrame)
		}
		return parsedFrame{Kind: kind, Payload: raw[start:end]}, nil

	default:
		return parsedFrame{}, fmt.Errorf("%w: unknown kind tag %#x", ErrInvalidFrame, kind)
	}
}

// pingFrame and pongFrame are the bare single-byte liveness frames; they
// carry no length prefix, unlike every other frame kind (spec.md §6.5).
func pingFrame() []byte { return []byte{room.KindPing} }
func pongFrame() []byte { return []byte{room.KindPong} }
