package console

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"
)

// ENet wire constants. Every multi-byte field is big-endian.
const (
	enetCmdAcknowledge            = 1
	enetCmdConnect                = 2
	enetCmdVerifyConnect          = 3
	enetCmdDisconnect             = 4
	enetCmdPing                   = 5
	enetCmdSendReliable           = 6
	enetCmdSendUnreliable         = 7
	enetCmdSendFragment           = 8
	enetCmdSendUnsequenced        = 9
	enetCmdBandwidthLimit         = 10
	enetCmdThrottleConfigure      = 11
	enetCmdSendUnreliableFragment = 12

	enetCmdMask         = 0x0f
	enetFlagAcknowledge = 0x80

	enetHeaderSentTime     = 0x8000
	enetHeaderCompressed   = 0x4000
	enetHeaderSessionShift = 12
	enetMaxPeerID          = 0x0fff
	enetSystemChannel      = 0xff

	enetMTU              = 1400
	enetWindowSize       = 32768
	enetThrottleInterval = 5000
	enetThrottleStep     = 2
	enetConnectData      = 1337

	enetResendInterval = 500 * time.Millisecond
	enetAckTimeout     = 10 * time.Second
	enetReadTick       = 100 * time.Millisecond
	enetMaxEarly       = 1024
)

// enetCommandSizes holds the fixed size of each command, header included.
var enetCommandSizes = [...]int{0, 8, 48, 44, 8, 4, 6, 8, 24, 8, 12, 16, 24}

var errPeerDisconnected = errors.New("peer disconnected")

type enetKey struct {
	channel uint8
	seq     uint16
}

type enetOutgoing struct {
	datagram  []byte
	firstSent time.Time
	lastSent  time.Time
}

type enetFragment struct {
	start    uint16
	count    uint32
	received map[uint32]bool
	buf      []byte
}

// enetPeer is a client connection to a single ENet host. It only implements
// what a spectator needs: connecting, acknowledging, ordered reliable
// delivery with fragment reassembly and reliable sends.
type enetPeer struct {
	conn      *net.UDPConn
	start     time.Time
	connectID uint32
	packets   chan []byte
	done      chan struct{}
	finished  chan struct{}
	verified  chan struct{}

	mu         sync.Mutex
	outPeerID  uint16
	outSession uint8
	nextSeq    map[uint8]uint16
	unacked    map[enetKey]*enetOutgoing
	err        error
	closeOnce  sync.Once
	verifyOnce sync.Once

	// Owned by the read loop.
	inSeq     map[uint8]uint16
	early     map[uint8]map[uint16][]byte
	fragments map[uint8]*enetFragment
}

// dialENet connects to an ENet host at addr and waits for the host to
// verify the connection.
func dialENet(ctx context.Context, addr string, channels int) (*enetPeer, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	p := &enetPeer{
		conn:      conn,
		start:     time.Now(),
		connectID: rand.Uint32(),
		packets:   make(chan []byte, 256),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		verified:  make(chan struct{}),
		outPeerID: enetMaxPeerID,
		nextSeq:   map[uint8]uint16{},
		unacked:   map[enetKey]*enetOutgoing{},
		inSeq:     map[uint8]uint16{},
		early:     map[uint8]map[uint16][]byte{},
		fragments: map[uint8]*enetFragment{},
	}
	go p.loop()
	if err := p.sendConnect(channels); err != nil {
		_ = p.Close()
		return nil, err
	}
	select {
	case <-p.verified:
		return p, nil
	case <-p.finished:
		return nil, p.failure()
	case <-ctx.Done():
		_ = p.Close()
		return nil, ctx.Err()
	}
}

func (p *enetPeer) sentTime() uint16 {
	return uint16(time.Since(p.start).Milliseconds())
}

// header returns a protocol header for an outgoing datagram.
func (p *enetPeer) header(withTime bool) []byte {
	p.mu.Lock()
	peerID := p.outPeerID
	if peerID < enetMaxPeerID {
		peerID |= uint16(p.outSession) << enetHeaderSessionShift
	}
	p.mu.Unlock()
	if !withTime {
		return binary.BigEndian.AppendUint16(nil, peerID)
	}
	b := binary.BigEndian.AppendUint16(nil, peerID|enetHeaderSentTime)
	return binary.BigEndian.AppendUint16(b, p.sentTime())
}

func (p *enetPeer) sendConnect(channels int) error {
	p.mu.Lock()
	p.nextSeq[enetSystemChannel]++
	seq := p.nextSeq[enetSystemChannel]
	p.mu.Unlock()

	b := p.header(true)
	b = append(b, enetCmdConnect|enetFlagAcknowledge, enetSystemChannel)
	b = binary.BigEndian.AppendUint16(b, seq)
	b = binary.BigEndian.AppendUint16(b, 0) // our peer index
	b = append(b, 0xff, 0xff)               // let the host pick both sessions
	for _, v := range []uint32{
		enetMTU, enetWindowSize, uint32(channels), 0, 0,
		enetThrottleInterval, enetThrottleStep, enetThrottleStep,
		p.connectID, enetConnectData,
	} {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return p.sendTracked(enetKey{enetSystemChannel, seq}, b)
}

// SendReliable queues data on channel and resends it until acknowledged.
func (p *enetPeer) SendReliable(channel uint8, data []byte) error {
	if len(data) > enetMTU {
		return fmt.Errorf("packet of %d bytes needs fragmenting", len(data))
	}
	p.mu.Lock()
	p.nextSeq[channel]++
	seq := p.nextSeq[channel]
	p.mu.Unlock()

	b := p.header(true)
	b = append(b, enetCmdSendReliable|enetFlagAcknowledge, channel)
	b = binary.BigEndian.AppendUint16(b, seq)
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	b = append(b, data...)
	return p.sendTracked(enetKey{channel, seq}, b)
}

func (p *enetPeer) sendTracked(key enetKey, datagram []byte) error {
	now := time.Now()
	p.mu.Lock()
	p.unacked[key] = &enetOutgoing{datagram: datagram, firstSent: now, lastSent: now}
	p.mu.Unlock()
	_, err := p.conn.Write(datagram)
	return err
}

func (p *enetPeer) sendAck(channel uint8, seq, sentTime uint16) error {
	b := p.header(false)
	b = append(b, enetCmdAcknowledge, channel)
	b = binary.BigEndian.AppendUint16(b, seq)
	b = binary.BigEndian.AppendUint16(b, seq)
	b = binary.BigEndian.AppendUint16(b, sentTime)
	_, err := p.conn.Write(b)
	return err
}

// Recv returns the next delivered packet.
func (p *enetPeer) Recv() ([]byte, error) {
	select {
	case data := <-p.packets:
		return data, nil
	case <-p.finished:
		// Packets delivered before the end still count.
		select {
		case data := <-p.packets:
			return data, nil
		default:
		}
		return nil, p.failure()
	}
}

// Close sends a disconnect and releases the socket.
func (p *enetPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		b := p.header(false)
		b = append(b, enetCmdDisconnect, enetSystemChannel, 0, 0, 0, 0, 0, 0)
		// Best-effort goodbye; the host times the peer out otherwise.
		_, _ = p.conn.Write(b)
		err = p.conn.Close()
	})
	return err
}

func (p *enetPeer) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		return ErrClosed
	}
	return p.err
}

func (p *enetPeer) finish(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	close(p.finished)
	_ = p.Close()
}

func (p *enetPeer) loop() {
	buf := make([]byte, 64<<10)
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(enetReadTick))
		n, err := p.conn.Read(buf)
		select {
		case <-p.done:
			p.finish(ErrClosed)
			return
		default:
		}
		if err != nil {
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				p.finish(err)
				return
			}
		} else if err := p.handleDatagram(buf[:n]); err != nil {
			p.finish(err)
			return
		}
		if err := p.resend(); err != nil {
			p.finish(err)
			return
		}
	}
}

func (p *enetPeer) resend() error {
	now := time.Now()
	p.mu.Lock()
	var due [][]byte
	for _, out := range p.unacked {
		if now.Sub(out.firstSent) > enetAckTimeout {
			p.mu.Unlock()
			return errors.New("enet host stopped acknowledging")
		}
		if now.Sub(out.lastSent) >= enetResendInterval {
			out.lastSent = now
			due = append(due, out.datagram)
		}
	}
	p.mu.Unlock()
	for _, b := range due {
		if _, err := p.conn.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func (p *enetPeer) handleDatagram(b []byte) error {
	if len(b) < 2 {
		return nil
	}
	flags := binary.BigEndian.Uint16(b)
	if flags&enetHeaderCompressed != 0 {
		return errors.New("compressed enet packets are not supported")
	}
	off := 2
	var sentTime uint16
	if flags&enetHeaderSentTime != 0 {
		if len(b) < 4 {
			return nil
		}
		sentTime = binary.BigEndian.Uint16(b[2:])
		off = 4
	}
	for len(b)-off >= 4 {
		cmd := b[off]
		num := int(cmd & enetCmdMask)
		if num == 0 || num >= len(enetCommandSizes) || len(b)-off < enetCommandSizes[num] {
			return nil
		}
		body := b[off : off+enetCommandSizes[num]]
		off += len(body)
		channel := body[1]
		seq := binary.BigEndian.Uint16(body[2:])

		var data []byte
		verified := false
		switch num {
		case enetCmdSendReliable:
			data, off = enetData(b, off, binary.BigEndian.Uint16(body[4:]))
		case enetCmdSendUnreliable, enetCmdSendUnsequenced, enetCmdSendFragment, enetCmdSendUnreliableFragment:
			data, off = enetData(b, off, binary.BigEndian.Uint16(body[6:]))
		}
		if off < 0 {
			return nil
		}

		switch num {
		case enetCmdAcknowledge:
			p.acked(channel, binary.BigEndian.Uint16(body[4:]))
		case enetCmdVerifyConnect:
			if binary.BigEndian.Uint32(body[40:]) != p.connectID {
				continue
			}
			p.mu.Lock()
			p.outPeerID = binary.BigEndian.Uint16(body[4:]) & enetMaxPeerID
			p.outSession = body[7]
			delete(p.unacked, enetKey{enetSystemChannel, 1})
			p.mu.Unlock()
			verified = true
		case enetCmdDisconnect:
			return errPeerDisconnected
		case enetCmdSendReliable:
			p.receiveOrdered(channel, seq, body[:1], data)
		case enetCmdSendFragment:
			p.receiveOrdered(channel, seq, body, data)
		case enetCmdSendUnreliable, enetCmdSendUnsequenced:
			p.deliver(append([]byte(nil), data...))
		}
		if cmd&enetFlagAcknowledge != 0 {
			if err := p.sendAck(channel, seq, sentTime); err != nil {
				return err
			}
		}
		// The host drops our sends until it has our verify ack.
		if verified {
			p.verifyOnce.Do(func() { close(p.verified) })
		}
		if err := p.fragmentError(channel); err != nil {
			return err
		}
	}
	return nil
}

// enetData returns the n data bytes at off and the offset after them, or a
// negative offset when the datagram is too short.
func enetData(b []byte, off int, n uint16) ([]byte, int) {
	end := off + int(n)
	if end > len(b) {
		return nil, -1
	}
	return b[off:end], end
}

func (p *enetPeer) acked(channel uint8, seq uint16) {
	p.mu.Lock()
	delete(p.unacked, enetKey{channel, seq})
	p.mu.Unlock()
}

// receiveOrdered delivers reliable commands of a channel in sequence order.
// head is the fixed part of the command; its first byte tells a plain send
// from a fragment.
func (p *enetPeer) receiveOrdered(channel uint8, seq uint16, head, data []byte) {
	expected := p.inSeq[channel] + 1
	ahead := seq - expected
	if ahead >= 0x8000 {
		return // already delivered
	}
	entry := append(append([]byte(nil), head...), data...)
	if ahead > 0 {
		if p.early[channel] == nil {
			p.early[channel] = map[uint16][]byte{}
		}
		if len(p.early[channel]) < enetMaxEarly {
			p.early[channel][seq] = entry
		}
		return
	}
	for {
		p.inSeq[channel] = seq
		p.apply(channel, entry)
		seq++
		next, ok := p.early[channel][seq]
		if !ok {
			return
		}
		delete(p.early[channel], seq)
		entry = next
	}
}

func (p *enetPeer) apply(channel uint8, entry []byte) {
	if entry[0]&enetCmdMask != enetCmdSendFragment {
		p.deliver(entry[1:])
		return
	}
	head, data := entry[:enetCommandSizes[enetCmdSendFragment]], entry[enetCommandSizes[enetCmdSendFragment]:]
	start := binary.BigEndian.Uint16(head[4:])
	count := binary.BigEndian.Uint32(head[8:])
	number := binary.BigEndian.Uint32(head[12:])
	total := binary.BigEndian.Uint32(head[16:])
	offset := binary.BigEndian.Uint32(head[20:])

	frag := p.fragments[channel]
	if frag == nil || frag.start != start {
		if total > maxMessageSize || count == 0 || count > total {
			p.fragments[channel] = &enetFragment{start: start, buf: nil}
			return
		}
		frag = &enetFragment{start: start, count: count, received: map[uint32]bool{}, buf: make([]byte, total)}
		p.fragments[channel] = frag
	}
	if frag.buf == nil || number >= frag.count || uint64(offset)+uint64(len(data)) > uint64(len(frag.buf)) {
		frag.buf = nil
		return
	}
	copy(frag.buf[offset:], data)
	frag.received[number] = true
	if uint32(len(frag.received)) == frag.count {
		delete(p.fragments, channel)
		p.deliver(frag.buf)
	}
}

// fragmentError reports a fragmented packet that could not be assembled.
func (p *enetPeer) fragmentError(channel uint8) error {
	if frag := p.fragments[channel]; frag != nil && frag.buf == nil {
		return errors.New("malformed enet fragment")
	}
	return nil
}

func (p *enetPeer) deliver(data []byte) {
	select {
	case p.packets <- data:
	case <-p.done:
	}
}
