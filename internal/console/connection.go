// Package console keeps a connection to a console or emulator that streams
// live replay data.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Ports the emulator and consoles listen on. Consoles on older Slippi
// firmware use PortLegacy.
const (
	PortDefault = 51441
	PortLegacy  = 666
)

// Transports a Dialer can speak.
const (
	TransportDolphin = "dolphin"
	TransportConsole = "console"
)

// NewDialer returns the dialer for a transport name.
func NewDialer(transport string, timeout time.Duration) (Dialer, error) {
	switch transport {
	case TransportDolphin:
		return &DolphinDialer{Timeout: timeout}, nil
	case TransportConsole:
		return &TCPDialer{Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (%s, %s)", transport, TransportDolphin, TransportConsole)
	}
}

// DefaultHost is where a local emulator listens.
const DefaultHost = "127.0.0.1"

// DefaultRetryInterval is the wait after a failed dial before the next attempt.
const DefaultRetryInterval = time.Second

// ErrClosed is returned by streams that were closed locally.
var ErrClosed = errors.New("connection closed")

// State is the connection status.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MessageType tags messages received from the console.
type MessageType int

// Message types of the console protocol.
const (
	MessageConnectReply MessageType = 1
	MessageGameEvent    MessageType = 2
	MessageKeepAlive    MessageType = 3
)

// Message is one message received from the console. Payload holds raw replay
// bytes for game events.
type Message struct {
	Type     MessageType
	Payload  []byte
	Cursor   uint64
	ForcePos bool
}

// Stream is an established transport.
type Stream interface {
	// Recv blocks until the next message. Any error ends the stream.
	Recv() (Message, error)
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Stream, error)
}

// Options configure a Connection.
type Options struct {
	// RetryInterval is the delay after a failed dial. Zero means
	// DefaultRetryInterval.
	RetryInterval time.Duration
	// ReconnectAddr is dialed after an established transport closes. Empty
	// means DefaultHost:PortDefault.
	ReconnectAddr string
}

// Connection maintains one transport and reconnects whenever it closes.
type Connection struct {
	dialer        Dialer
	retryInterval time.Duration
	reconnectAddr string

	mu         sync.Mutex
	state      State
	closed     bool
	stream     Stream
	cancel     context.CancelFunc
	retryTimer *time.Timer
	nextID     int
	statusSubs map[int]func(State)
	msgSubs    map[int]func(Message)
	errSubs    map[int]func(error)
}

// NewConnection returns a disconnected Connection.
func NewConnection(dialer Dialer, opts Options) *Connection {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.ReconnectAddr == "" {
		opts.ReconnectAddr = net.JoinHostPort(DefaultHost, strconv.Itoa(PortDefault))
	}
	return &Connection{
		dialer:        dialer,
		retryInterval: opts.RetryInterval,
		reconnectAddr: opts.ReconnectAddr,
		statusSubs:    map[int]func(State){},
		msgSubs:       map[int]func(Message){},
		errSubs:       map[int]func(error){},
	}
}

// State returns the current status.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStatus registers fn for every status transition.
func (c *Connection) OnStatus(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.statusSubs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.statusSubs, id)
		c.mu.Unlock()
	}
}

// OnMessage registers fn for every received message.
func (c *Connection) OnMessage(fn func(Message)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.msgSubs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.msgSubs, id)
		c.mu.Unlock()
	}
}

// OnError registers fn for transport errors.
func (c *Connection) OnError(fn func(error)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.errSubs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.errSubs, id)
		c.mu.Unlock()
	}
}

// Connect starts a connection attempt to host:port. It does nothing unless
// the connection is disconnected; callers check State first.
func (c *Connection) Connect(host string, port int) {
	c.connect(net.JoinHostPort(host, strconv.Itoa(port)))
}

func (c *Connection) connect(addr string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		slog.Debug("connect ignored", "addr", addr, "state", state)
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting
	c.mu.Unlock()

	c.emitStatus(StateConnecting)
	go c.run(ctx, addr)
}

func (c *Connection) run(ctx context.Context, addr string) {
	stream, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		c.fail(addr, fmt.Errorf("failed to dial %s: %w", addr, err))
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	c.stream = stream
	c.mu.Unlock()

	established := false
	for {
		msg, err := stream.Recv()
		if err != nil {
			_ = stream.Close()
			if !established {
				c.fail(addr, fmt.Errorf("failed to handshake with %s: %w", addr, err))
				return
			}
			c.closeTransport(err)
			return
		}
		switch msg.Type {
		case MessageConnectReply:
			if !established {
				established = true
				if !c.setState(StateConnected) {
					return
				}
			}
		case MessageKeepAlive:
		default:
			c.emitMessage(msg)
		}
	}
}

// fail handles an attempt that never got established: report the error and
// retry the same address after the retry interval.
func (c *Connection) fail(addr string, err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.emitError(err)
	if !c.setState(StateDisconnected) {
		return
	}
	c.mu.Lock()
	c.stream = nil
	if !c.closed {
		c.retryTimer = time.AfterFunc(c.retryInterval, func() { c.connect(addr) })
	}
	c.mu.Unlock()
}

// closeTransport handles the end of an established transport.
func (c *Connection) closeTransport(err error) {
	slog.Debug("console transport closed", "error", err)
	if !c.setState(StateDisconnected) {
		return
	}
	c.mu.Lock()
	c.stream = nil
	c.mu.Unlock()
	c.connect(c.reconnectAddr)
}

// setState records and broadcasts a transition. It reports false once the
// connection is closed.
func (c *Connection) setState(state State) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.state == state {
		c.mu.Unlock()
		return true
	}
	c.state = state
	c.mu.Unlock()
	c.emitStatus(state)
	return true
}

// Close stops reconnecting and tears down the transport.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	stream := c.stream
	c.stream = nil
	wasConnected := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if wasConnected {
		c.emitStatus(StateDisconnected)
	}
	if stream != nil {
		return stream.Close()
	}
	return nil
}

func (c *Connection) emitStatus(state State) {
	c.mu.Lock()
	subs := make([]func(State), 0, len(c.statusSubs))
	for _, id := range sortedIDs(c.statusSubs) {
		subs = append(subs, c.statusSubs[id])
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

func (c *Connection) emitMessage(msg Message) {
	c.mu.Lock()
	subs := make([]func(Message), 0, len(c.msgSubs))
	for _, id := range sortedIDs(c.msgSubs) {
		subs = append(subs, c.msgSubs[id])
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func (c *Connection) emitError(err error) {
	c.mu.Lock()
	subs := make([]func(error), 0, len(c.errSubs))
	for _, id := range sortedIDs(c.errSubs) {
		subs = append(subs, c.errSubs[id])
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

// sortedIDs returns subscription ids in registration order.
func sortedIDs[T any](subs map[int]T) []int {
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
