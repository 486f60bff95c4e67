package console

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"
)

// hostCommand is one ENet command received by fakeENetHost.
type hostCommand struct {
	peerID   uint16
	sentTime uint16
	cmd      byte
	channel  byte
	seq      uint16
	body     []byte
	data     []byte
}

// fakeENetHost plays the emulator side of the ENet handshake.
type fakeENetHost struct {
	conn    *net.UDPConn
	client  *net.UDPAddr
	pending []hostCommand
	seq     uint16
}

func newFakeENetHost(t *testing.T) *fakeENetHost {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &fakeENetHost{conn: conn}
}

func (h *fakeENetHost) addr() string {
	return h.conn.LocalAddr().String()
}

// next returns the next received command numbered num, skipping others.
func (h *fakeENetHost) next(t *testing.T, num byte) hostCommand {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 2048)
	for {
		for i, c := range h.pending {
			if c.cmd&0x0f == num {
				h.pending = append(h.pending[:i:i], h.pending[i+1:]...)
				return c
			}
		}
		_ = h.conn.SetReadDeadline(deadline)
		n, from, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("waiting for command %d: %v", num, err)
		}
		h.client = from
		h.pending = append(h.pending, parseDatagram(t, buf[:n])...)
	}
}

func parseDatagram(t *testing.T, b []byte) []hostCommand {
	t.Helper()
	peerID := binary.BigEndian.Uint16(b)
	var sentTime uint16
	off := 2
	if peerID&0x8000 != 0 {
		sentTime = binary.BigEndian.Uint16(b[2:])
		off = 4
	}
	var out []hostCommand
	for off < len(b) {
		c := hostCommand{peerID: peerID, sentTime: sentTime, cmd: b[off], channel: b[off+1], seq: binary.BigEndian.Uint16(b[off+2:])}
		var size int
		switch c.cmd & 0x0f {
		case 1, 4:
			size = 8
		case 2:
			size = 48
		case 6:
			size = 6
		default:
			t.Fatalf("unexpected command %d from client", c.cmd&0x0f)
		}
		c.body = b[off : off+size]
		off += size
		if c.cmd&0x0f == 6 {
			n := int(binary.BigEndian.Uint16(c.body[4:]))
			c.data = append([]byte(nil), b[off:off+n]...)
			off += n
		}
		c.body = append([]byte(nil), c.body...)
		out = append(out, c)
	}
	return out
}

func (h *fakeENetHost) send(t *testing.T, commands ...[]byte) {
	t.Helper()
	b := []byte{0x80, 0x00, 0x12, 0x34}
	for _, c := range commands {
		b = append(b, c...)
	}
	if _, err := h.conn.WriteToUDP(b, h.client); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// accept answers the client's CONNECT and waits for the verify ack.
func (h *fakeENetHost) accept(t *testing.T) {
	t.Helper()
	connect := h.next(t, 2)
	if connect.peerID&0x0fff != 0x0fff || connect.channel != 0xff {
		t.Fatalf("unexpected connect header %#x channel %d", connect.peerID, connect.channel)
	}
	if channels := binary.BigEndian.Uint32(connect.body[16:]); channels != 1 {
		t.Fatalf("expected 1 channel, got %d", channels)
	}
	verify := []byte{0x83, 0xff, 0x00, 0x01, 0x00, 0x03, 0x00, 0x01}
	verify = append(verify, connect.body[8:40]...)
	verify = append(verify, connect.body[40:44]...)
	h.send(t, verify)

	ack := h.next(t, 1)
	if ack.peerID != 0x1003 {
		t.Fatalf("expected peer 3 in session 1, got %#x", ack.peerID)
	}
	if ack.channel != 0xff || ack.seq != 1 || binary.BigEndian.Uint16(ack.body[6:]) != 0x1234 {
		t.Fatalf("unexpected verify ack % x", ack.body)
	}
	h.seq = 0
}

func (h *fakeENetHost) reliable(data []byte) []byte {
	h.seq++
	b := []byte{0x86, 0x00}
	b = binary.BigEndian.AppendUint16(b, h.seq)
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...)
}

func fragment(seq, start uint16, count, number, total, offset uint32, data []byte) []byte {
	b := []byte{0x88, 0x00}
	b = binary.BigEndian.AppendUint16(b, seq)
	b = binary.BigEndian.AppendUint16(b, start)
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	for _, v := range []uint32{count, number, total, offset} {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return append(b, data...)
}

func jsonMessage(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func connectRequestCursor(t *testing.T, c hostCommand) uint64 {
	t.Helper()
	var req struct {
		Type   string `json:"type"`
		Cursor uint64 `json:"cursor"`
	}
	if err := json.Unmarshal(c.data, &req); err != nil || req.Type != "connect_request" {
		t.Fatalf("unexpected connect request %q (%v)", c.data, err)
	}
	return req.Cursor
}

func dialAsync(d *DolphinDialer, addr string) <-chan Stream {
	ch := make(chan Stream, 1)
	go func() {
		s, err := d.Dial(context.Background(), addr)
		if err != nil {
			close(ch)
			return
		}
		ch <- s
	}()
	return ch
}

func recvMessage(t *testing.T, s Stream) Message {
	t.Helper()
	msg, err := s.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return msg
}

func TestDolphinDialerStreamsGameEvents(t *testing.T) {
	host := newFakeENetHost(t)
	dialer := &DolphinDialer{Timeout: 2 * time.Second}
	streams := dialAsync(dialer, host.addr())

	host.accept(t)
	req := host.next(t, 6)
	if req.channel != 0 || req.seq != 1 || req.cmd&0x80 == 0 {
		t.Fatalf("expected reliable request on channel 0, got % x", req.body)
	}
	if cursor := connectRequestCursor(t, req); cursor != 0 {
		t.Fatalf("expected first connect from cursor 0, got %d", cursor)
	}
	stream, ok := <-streams
	if !ok {
		t.Fatalf("dial failed")
	}
	defer stream.Close()

	ack := []byte{0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00}
	host.send(t, ack, host.reliable(jsonMessage(t, map[string]any{
		"type": "connect_reply", "nick": "Dolphin", "version": "3.4.0", "cursor": 10,
	})))
	if msg := recvMessage(t, stream); msg.Type != MessageConnectReply || msg.Cursor != 10 {
		t.Fatalf("unexpected reply %+v", msg)
	}

	// The game event arrives in two fragments, the second one first.
	event := jsonMessage(t, map[string]any{
		"type": "game_event", "cursor": 10, "next_cursor": 20,
		"payload": base64.StdEncoding.EncodeToString([]byte{0x35, 0x01}),
	})
	half := len(event) / 2
	host.send(t, fragment(3, 2, 2, 1, uint32(len(event)), uint32(half), event[half:]))
	host.send(t, fragment(2, 2, 2, 0, uint32(len(event)), 0, event[:half]))
	host.seq = 3
	msg := recvMessage(t, stream)
	if msg.Type != MessageGameEvent || msg.Cursor != 20 || msg.ForcePos || !bytes.Equal(msg.Payload, []byte{0x35, 0x01}) {
		t.Fatalf("unexpected event %+v", msg)
	}

	acked := map[uint16]bool{}
	for len(acked) < 3 {
		a := host.next(t, 1)
		if a.channel == 0 {
			acked[a.seq] = true
		}
	}

	// Duplicates are acknowledged but not delivered again.
	host.send(t, fragment(2, 2, 2, 0, uint32(len(event)), 0, event[:half]))
	if a := host.next(t, 1); a.seq != 2 {
		t.Fatalf("expected duplicate acked, got seq %d", a.seq)
	}

	host.send(t, host.reliable(jsonMessage(t, map[string]any{"type": "start_game"})))
	if msg := recvMessage(t, stream); msg.Type != MessageKeepAlive {
		t.Fatalf("expected start_game ignored, got %+v", msg)
	}

	host.send(t, host.reliable(jsonMessage(t, map[string]any{
		"type": "game_event", "cursor": 25, "next_cursor": 30,
		"payload": base64.StdEncoding.EncodeToString([]byte{0x39}),
	})))
	if msg := recvMessage(t, stream); !msg.ForcePos || msg.Cursor != 30 {
		t.Fatalf("expected cursor gap to force a resync, got %+v", msg)
	}

	host.send(t, host.reliable(jsonMessage(t, map[string]any{"type": "game_event", "cursor": 30, "next_cursor": 31, "payload": "%%"})))
	if _, err := stream.Recv(); err == nil {
		t.Fatalf("expected bad payload error")
	}

	ping := []byte{0x85, 0xff, 0x00, 0x02}
	host.send(t, ping)
	a := host.next(t, 1)
	for a.channel != 0xff {
		a = host.next(t, 1)
	}
	if a.seq != 2 || binary.BigEndian.Uint16(a.body[6:]) != 0x1234 {
		t.Fatalf("unexpected ping ack % x", a.body)
	}

	host.send(t, []byte{0x04, 0xff, 0x00, 0x03, 0, 0, 0, 0})
	if _, err := stream.Recv(); !errors.Is(err, errPeerDisconnected) {
		t.Fatalf("expected disconnect, got %v", err)
	}

	// A second dial resumes from the last cursor.
	host.pending = nil
	streams = dialAsync(dialer, host.addr())
	host.accept(t)
	if cursor := connectRequestCursor(t, host.next(t, 6)); cursor != 30 {
		t.Fatalf("expected resumed cursor 30, got %d", cursor)
	}
	if s, ok := <-streams; ok {
		_ = s.Close()
		if c := host.next(t, 4); c.channel != 0xff {
			t.Fatalf("unexpected disconnect % x", c.body)
		}
	} else {
		t.Fatalf("second dial failed")
	}
}

func TestDolphinDialerRetransmitsUnackedRequest(t *testing.T) {
	host := newFakeENetHost(t)
	dialer := &DolphinDialer{Timeout: 2 * time.Second}
	streams := dialAsync(dialer, host.addr())
	host.accept(t)

	first := host.next(t, 6)
	again := host.next(t, 6)
	if first.seq != again.seq || !bytes.Equal(first.data, again.data) {
		t.Fatalf("expected the same request resent, got %d and %d", first.seq, again.seq)
	}
	if s, ok := <-streams; ok {
		_ = s.Close()
	}
}

func TestDolphinDialerTimesOutWithoutVerify(t *testing.T) {
	host := newFakeENetHost(t)
	dialer := &DolphinDialer{Timeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := dialer.Dial(context.Background(), host.addr())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("dial took %s", time.Since(start))
	}
}

func TestDolphinStreamRejectsOversizedFragments(t *testing.T) {
	host := newFakeENetHost(t)
	streams := dialAsync(&DolphinDialer{Timeout: 2 * time.Second}, host.addr())
	host.accept(t)
	host.next(t, 6)
	stream, ok := <-streams
	if !ok {
		t.Fatalf("dial failed")
	}
	defer stream.Close()

	host.send(t, fragment(1, 1, 2, 0, maxMessageSize+1, 0, []byte("{")))
	if _, err := stream.Recv(); err == nil {
		t.Fatalf("expected oversized fragment to fail the stream")
	}
}

func TestNewDialerByTransport(t *testing.T) {
	d, err := NewDialer(TransportDolphin, time.Second)
	if _, ok := d.(*DolphinDialer); !ok || err != nil {
		t.Fatalf("expected dolphin dialer, got %T (%v)", d, err)
	}
	d, err = NewDialer(TransportConsole, time.Second)
	if _, ok := d.(*TCPDialer); !ok || err != nil {
		t.Fatalf("expected console dialer, got %T (%v)", d, err)
	}
	if _, err := NewDialer("usb", 0); err == nil {
		t.Fatalf("expected unknown transport error")
	}
}
