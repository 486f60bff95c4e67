package slp

import "fmt"

// CommandHandler receives one complete command. payload starts with the
// command byte and is only valid for the duration of the call.
type CommandHandler func(cmd Command, payload []byte) error

// Stream splits raw bytes into commands. Bytes may arrive in arbitrary
// chunks; incomplete commands are buffered until the rest arrives.
type Stream struct {
	handler CommandHandler
	sizes   map[Command]int
	buf     []byte
}

// NewStream returns a Stream that hands every command to handler.
func NewStream(handler CommandHandler) *Stream {
	return &Stream{handler: handler}
}

// Write consumes p. On an unknown command the buffered bytes are dropped so
// the stream can resynchronize on the next event payloads command. A command
// the handler rejects is skipped; the first such error is returned once the
// rest of the buffer has been handled.
func (s *Stream) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	off := 0
	defer func() {
		s.buf = append(s.buf[:0], s.buf[off:]...)
	}()
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for off < len(s.buf) {
		cmd := Command(s.buf[off])
		if cmd == CommandEventPayloads {
			n, ok := s.readPayloadSizes(s.buf[off:])
			if !ok {
				return len(p), firstErr
			}
			keep(s.handler(cmd, s.buf[off:off+n]))
			off += n
			continue
		}
		size, ok := s.sizes[cmd]
		if !ok {
			off = len(s.buf)
			keep(fmt.Errorf("%w %s", ErrUnknownCommand, cmd))
			return len(p), firstErr
		}
		total := size + 1
		if len(s.buf)-off < total {
			return len(p), firstErr
		}
		keep(s.handler(cmd, s.buf[off:off+total]))
		off += total
		if cmd == CommandGameEnd {
			// The next match announces its own payload sizes.
			s.sizes = nil
		}
	}
	return len(p), firstErr
}

// Reset drops buffered bytes and known payload sizes.
func (s *Stream) Reset() {
	s.buf = s.buf[:0]
	s.sizes = nil
}

// readPayloadSizes parses an event payloads command at the start of b and
// returns its total length, or false when b does not hold all of it yet.
func (s *Stream) readPayloadSizes(b []byte) (int, bool) {
	if len(b) < 2 {
		return 0, false
	}
	size := int(b[1])
	total := size + 1
	if len(b) < total {
		return 0, false
	}
	sizes := map[Command]int{CommandEventPayloads: size}
	for i := 1; i+3 <= size; i += 3 {
		sizes[Command(b[i+1])] = int(readUint16(b, i+2))
	}
	s.sizes = sizes
	return total, true
}
