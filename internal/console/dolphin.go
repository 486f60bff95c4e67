package console

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DolphinDialer speaks the emulator's spectator protocol: ENet over UDP
// carrying JSON messages, with replay bytes base64 encoded.
//
// Like TCPDialer it remembers the cursor, so a reconnect asks the emulator
// to resume where the previous transport stopped.
type DolphinDialer struct {
	Timeout time.Duration

	mu     sync.Mutex
	cursor uint64
}

type dolphinMessage struct {
	Type       string  `json:"type"`
	Cursor     *uint64 `json:"cursor,omitempty"`
	NextCursor *uint64 `json:"next_cursor,omitempty"`
	Payload    *string `json:"payload,omitempty"`
	Nick       string  `json:"nick,omitempty"`
	Version    string  `json:"version,omitempty"`
}

// Dial connects to the emulator at addr and requests the stream from the
// remembered cursor.
func (d *DolphinDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	peer, err := dialENet(dialCtx, addr, 1)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()
	req, err := json.Marshal(dolphinMessage{Type: "connect_request", Cursor: &cursor})
	if err != nil {
		_ = peer.Close()
		return nil, err
	}
	if err := peer.SendReliable(0, req); err != nil {
		_ = peer.Close()
		return nil, fmt.Errorf("failed to send connect request: %w", err)
	}

	s := &dolphinStream{peer: peer, dialer: d, expected: cursor}
	s.stop = context.AfterFunc(ctx, func() { _ = peer.Close() })
	return s, nil
}

func (d *DolphinDialer) setCursor(cursor uint64) {
	d.mu.Lock()
	d.cursor = cursor
	d.mu.Unlock()
}

type dolphinStream struct {
	peer     *enetPeer
	dialer   *DolphinDialer
	expected uint64
	stop     func() bool
	once     sync.Once
}

func (s *dolphinStream) Recv() (Message, error) {
	data, err := s.peer.Recv()
	if err != nil {
		return Message{}, err
	}
	var raw dolphinMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	switch raw.Type {
	case "connect_reply":
		msg := Message{Type: MessageConnectReply}
		if raw.Cursor != nil {
			msg.Cursor = *raw.Cursor
			s.expected = *raw.Cursor
		}
		return msg, nil
	case "game_event":
		if raw.Payload == nil {
			return Message{}, fmt.Errorf("game event without payload")
		}
		payload, err := base64.StdEncoding.DecodeString(*raw.Payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to decode game event payload: %w", err)
		}
		msg := Message{Type: MessageGameEvent, Payload: payload}
		// A cursor gap means bytes were skipped; the receiver must resync.
		if raw.Cursor != nil && *raw.Cursor != s.expected {
			msg.ForcePos = true
		}
		if raw.NextCursor != nil {
			msg.Cursor = *raw.NextCursor
			s.expected = *raw.NextCursor
			s.dialer.setCursor(msg.Cursor)
		}
		return msg, nil
	default:
		// start_game, end_game and anything newer carry nothing to decode.
		return Message{Type: MessageKeepAlive}, nil
	}
}

func (s *dolphinStream) Close() error {
	var err error
	s.once.Do(func() {
		s.stop()
		err = s.peer.Close()
	})
	return err
}
