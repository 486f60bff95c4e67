// Package slp decodes Slippi replay data: the live command stream sent by a
// console and the .slp files written to the replay directory.
package slp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Command is the first byte of every event in the raw stream.
type Command byte

// Commands of the raw event stream.
const (
	CommandMessageSplitter Command = 0x10
	CommandEventPayloads   Command = 0x35
	CommandGameStart       Command = 0x36
	CommandPreFrame        Command = 0x37
	CommandPostFrame       Command = 0x38
	CommandGameEnd         Command = 0x39
	CommandFrameStart      Command = 0x3a
	CommandItemUpdate      Command = 0x3b
	CommandFrameBookend    Command = 0x3c
	CommandGeckoList       Command = 0x3d
)

// FirstFrame is the index of the first frame of a match; FirstPlayableFrame
// is when players gain control.
const (
	FirstFrame         = -123
	FirstPlayableFrame = -39
)

var (
	// ErrInvalidReplay is returned when a file is not a readable replay.
	ErrInvalidReplay = errors.New("invalid replay")
	// ErrUnknownCommand is returned when the stream carries a command whose
	// payload size was never announced.
	ErrUnknownCommand = errors.New("unknown command")
)

func (c Command) String() string {
	switch c {
	case CommandMessageSplitter:
		return "message-splitter"
	case CommandEventPayloads:
		return "event-payloads"
	case CommandGameStart:
		return "game-start"
	case CommandPreFrame:
		return "pre-frame"
	case CommandPostFrame:
		return "post-frame"
	case CommandGameEnd:
		return "game-end"
	case CommandFrameStart:
		return "frame-start"
	case CommandItemUpdate:
		return "item-update"
	case CommandFrameBookend:
		return "frame-bookend"
	case CommandGeckoList:
		return "gecko-list"
	default:
		return fmt.Sprintf("0x%02x", byte(c))
	}
}

// Payload readers return zero values past the end of the payload, so older
// replay versions with shorter commands decode with defaults.

func readUint8(b []byte, off int) uint8 {
	if off < 0 || off >= len(b) {
		return 0
	}
	return b[off]
}

func readInt8(b []byte, off int) int8 {
	return int8(readUint8(b, off))
}

func readBool(b []byte, off int) bool {
	return readUint8(b, off) != 0
}

func readUint16(b []byte, off int) uint16 {
	if off < 0 || off+2 > len(b) {
		return 0
	}
	return binary.BigEndian.Uint16(b[off:])
}

func readInt32(b []byte, off int) int32 {
	if off < 0 || off+4 > len(b) {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b[off:]))
}

func readFloat32(b []byte, off int) float32 {
	if off < 0 || off+4 > len(b) {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
}

func readBytes(b []byte, off, length int) []byte {
	if off < 0 || off >= len(b) {
		return nil
	}
	end := off + length
	if end > len(b) {
		end = len(b)
	}
	return b[off:end]
}
