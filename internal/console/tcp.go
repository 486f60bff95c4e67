package console

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/verte-zerg/slpwatch/internal/ubjson"
)

// maxMessageSize bounds a single framed message.
const maxMessageSize = 1 << 20

// TCPDialer speaks the console protocol over TCP: every message is a
// big-endian uint32 length followed by a UBJSON object {type, payload}.
//
// The dialer remembers the read cursor, so a reconnect resumes the stream
// where the previous transport stopped.
type TCPDialer struct {
	Timeout time.Duration

	mu     sync.Mutex
	cursor uint64
}

// Dial connects to addr and sends the handshake.
func (d *TCPDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()
	var cursorBytes [8]byte
	binary.BigEndian.PutUint64(cursorBytes[:], cursor)

	handshake := map[string]any{
		"type": int(MessageConnectReply),
		"payload": map[string]any{
			"cursor":      cursorBytes[:],
			"clientToken": []byte{0, 0, 0, 0},
			"isRealtime":  false,
		},
	}
	if err := writeFrame(conn, handshake); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	s := &tcpStream{conn: conn, r: bufio.NewReader(conn), dialer: d}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	s.stop = stop
	return s, nil
}

func (d *TCPDialer) setCursor(cursor uint64) {
	d.mu.Lock()
	d.cursor = cursor
	d.mu.Unlock()
}

type tcpStream struct {
	conn   net.Conn
	r      *bufio.Reader
	dialer *TCPDialer
	stop   func() bool
	once   sync.Once
}

func (s *tcpStream) Recv() (Message, error) {
	var size [4]byte
	if _, err := io.ReadFull(s.r, size[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > maxMessageSize {
		return Message{}, fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return Message{}, err
	}
	msg, err := decodeMessage(body)
	if err != nil {
		return Message{}, err
	}
	if msg.Type == MessageGameEvent {
		s.dialer.setCursor(msg.Cursor)
	}
	return msg, nil
}

func (s *tcpStream) Close() error {
	var err error
	s.once.Do(func() {
		s.stop()
		err = s.conn.Close()
	})
	return err
}

func decodeMessage(body []byte) (Message, error) {
	v, err := ubjson.Unmarshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	obj, ok := ubjson.Object(v)
	if !ok {
		return Message{}, fmt.Errorf("message is %T, not an object", v)
	}
	typ, _ := ubjson.Int(obj["type"])
	payload, _ := ubjson.Object(obj["payload"])

	msg := Message{Type: MessageType(typ)}
	switch msg.Type {
	case MessageConnectReply:
		if cursor, ok := ubjson.Bytes(payload["pos"]); ok && len(cursor) == 8 {
			msg.Cursor = binary.BigEndian.Uint64(cursor)
		}
	case MessageGameEvent:
		msg.Payload, _ = ubjson.Bytes(payload["data"])
		if next, ok := ubjson.Bytes(payload["nextPos"]); ok && len(next) == 8 {
			msg.Cursor = binary.BigEndian.Uint64(next)
		}
		msg.ForcePos, _ = payload["forcePos"].(bool)
	case MessageKeepAlive:
	default:
		return Message{}, fmt.Errorf("unknown message type %d", typ)
	}
	return msg, nil
}

func writeFrame(w io.Writer, v any) error {
	body, err := ubjson.Marshal(v)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = w.Write(frame)
	return err
}
