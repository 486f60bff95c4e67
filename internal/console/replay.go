package console

import (
	"context"
	"io"
	"sync"
	"time"
)

// ReplayDialer is a transport that plays back raw replay bytes instead of
// talking to a console. Every Dial starts the playback from the beginning.
type ReplayDialer struct {
	Raw []byte
	// StartDelay passes between the handshake and the first chunk.
	StartDelay time.Duration
	// ChunkSize is the number of bytes per message; zero sends Raw at once.
	ChunkSize int
	// ChunkDelay passes between chunks.
	ChunkDelay time.Duration
	// Hold keeps the transport open after the last chunk. A negative value
	// holds it until the stream is closed.
	Hold time.Duration
}

// Dial returns a stream over d.Raw. The address is ignored.
func (d *ReplayDialer) Dial(ctx context.Context, _ string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &replayStream{ctx: ctx, cancel: cancel, d: d}, nil
}

type replayStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	d      *ReplayDialer

	mu        sync.Mutex
	handshake bool
	started   bool
	pos       int
}

func (s *replayStream) Recv() (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.handshake {
		s.handshake = true
		return Message{Type: MessageConnectReply}, nil
	}

	delay := s.d.ChunkDelay
	if !s.started {
		delay = s.d.StartDelay
	}
	if s.pos >= len(s.d.Raw) {
		if s.d.Hold < 0 {
			<-s.ctx.Done()
			return Message{}, ErrClosed
		}
		if err := s.wait(s.d.Hold); err != nil {
			return Message{}, err
		}
		return Message{}, io.EOF
	}
	if err := s.wait(delay); err != nil {
		return Message{}, err
	}
	s.started = true

	end := len(s.d.Raw)
	if s.d.ChunkSize > 0 && s.pos+s.d.ChunkSize < end {
		end = s.pos + s.d.ChunkSize
	}
	chunk := s.d.Raw[s.pos:end]
	s.pos = end
	return Message{Type: MessageGameEvent, Payload: chunk, Cursor: uint64(end)}, nil
}

func (s *replayStream) wait(d time.Duration) error {
	if d <= 0 {
		if s.ctx.Err() != nil {
			return ErrClosed
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return ErrClosed
	case <-t.C:
		return nil
	}
}

func (s *replayStream) Close() error {
	s.cancel()
	return nil
}
