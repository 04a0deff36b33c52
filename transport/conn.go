// Package transport runs one peer connection: a read loop, a heartbeat, and a
// send path that never interleaves envelopes on the wire.
//
//	goroutine-1 ──Send(msg)──┐
//	goroutine-2 ──Post(msg)──┼──→ sending mutex ──→ single conn ──→ peer
//	heartbeat   ─────────────┘
//
//	readLoop:  ←── bytes ──→ inbox ──→ receiver (single-flight decode) ──→ Receive
//
// Stream connections (TCP, WebSocket) reassemble envelopes across reads;
// packet connections (UDP) carry exactly one envelope per datagram.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"netmodule/message"
	"netmodule/middleware"
	"netmodule/protocol"
	"netmodule/receiver"
	"netmodule/registry"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second

	readBufferSize = 4096
	maxDatagram    = 64 * 1024
)

// Mode selects which directions a connection serves.
type Mode int

const (
	ModeSend Mode = 1 << iota
	ModeReceive
	ModeBoth = ModeSend | ModeReceive
)

func (m Mode) String() string {
	switch m {
	case ModeSend:
		return "send"
	case ModeReceive:
		return "receive"
	case ModeBoth:
		return "both"
	}
	return "invalid"
}

// Status is the lifecycle state of a connection.
type Status int32

const (
	StatusInitialized Status = iota
	StatusConnecting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusConnecting:
		return "connecting"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Stream is the byte stream under a connection. net.Conn satisfies it.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
}

// Options configures a connection. Zero fields take defaults.
type Options struct {
	Mode Mode // defaults to ModeBoth

	// Zero selects the default; NoHeartbeat disables.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout closes the connection when nothing arrived for this
	// long. It is checked on each heartbeat tick. Zero selects the default;
	// NoHeartbeat disables.
	HeartbeatTimeout time.Duration

	ReceiveCapacity int
	Middlewares     []middleware.Middleware

	// OnError receives send, heartbeat and read faults plus per-envelope
	// decode failures. It must not block.
	OnError    func(error)
	OnReceived func(registry.Serializable)
	Logger     *zap.Logger
}

// NoHeartbeat disables the heartbeat interval or timeout it is assigned to.
const NoHeartbeat time.Duration = -1

func (o Options) withDefaults() Options {
	if o.Mode == 0 {
		o.Mode = ModeBoth
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout == 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Conn is one peer connection.
type Conn struct {
	id     string
	remote net.Addr
	opts   Options
	logger *zap.Logger

	write   func([]byte) (int, error)
	closeFn func() error
	sending sync.Mutex // 写锁：心跳与业务消息共用，保证帧不会交错
	send    middleware.SendFunc

	recv     *receiver.Receiver
	in       *inbox // nil for datagram connections
	lastRecv atomic.Int64 // unix nanos

	status    atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newConn(remote net.Addr, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		id:     uuid.NewString(),
		remote: remote,
		opts:   opts,
		done:   make(chan struct{}),
	}
	c.logger = opts.Logger.With(zap.String("conn", c.id), zap.Stringer("remote", remote))
	c.send = middleware.Chain(opts.Middlewares...)(c.writeMessage)
	c.lastRecv.Store(time.Now().UnixNano())
	return c
}

func (c *Conn) receiverOptions() receiver.Options {
	return receiver.Options{
		Capacity:   c.opts.ReceiveCapacity,
		Filter:     func(m registry.Serializable) bool { return !message.IsHeartbeat(m) },
		OnReceived: c.opts.OnReceived,
		OnError:    c.report,
		OnFatal:    c.fatal,
		Logger:     c.logger,
	}
}

// NewConn starts a connection over a byte stream.
func NewConn(stream Stream, opts Options) *Conn {
	c := newConn(stream.RemoteAddr(), opts)
	c.write = stream.Write
	c.closeFn = stream.Close

	in := &inbox{}
	c.in = in
	c.recv = receiver.NewStream(in, c.receiverOptions())
	buf := make([]byte, readBufferSize)
	c.start(func() error {
		n, err := stream.Read(buf)
		if n > 0 {
			in.Write(buf[:n])
		}
		return c.afterRead(n, err)
	})
	return c
}

// NewPacketConn starts a connection that exchanges datagrams with remote over
// pc. Datagrams from other addresses are dropped.
func NewPacketConn(pc net.PacketConn, remote net.Addr, opts Options) *Conn {
	c := newConn(remote, opts)
	c.write = func(p []byte) (int, error) { return pc.WriteTo(p, remote) }
	c.closeFn = pc.Close

	q := &datagrams{}
	c.recv = receiver.NewDatagram(q, c.receiverOptions())
	buf := make([]byte, maxDatagram)
	c.start(func() error {
		n, from, err := pc.ReadFrom(buf)
		if n > 0 && from != nil && from.String() == remote.String() {
			d := make([]byte, n)
			copy(d, buf[:n])
			q.Push(d)
		} else if n > 0 {
			c.logger.Debug("dropped datagram from unknown peer", zap.Stringer("from", from))
			n = 0
		}
		return c.afterRead(n, err)
	})
	return c
}

func (c *Conn) start(readOnce func() error) {
	c.status.Store(int32(StatusConnecting))
	if c.opts.Mode&ModeReceive != 0 {
		c.wg.Add(1)
		go c.readLoop(readOnce)
	}
	if c.opts.HeartbeatInterval > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop()
	}
	c.logger.Debug("connection started", zap.Stringer("mode", c.opts.Mode))
}

func (c *Conn) afterRead(n int, err error) error {
	if n > 0 {
		c.lastRecv.Store(time.Now().UnixNano())
		c.recv.Kick()
	}
	return err
}

// readLoop is the only reader of the underlying transport. A read fault is
// reported and tears the connection down.
func (c *Conn) readLoop(readOnce func() error) {
	defer c.wg.Done()
	for {
		if err := readOnce(); err != nil {
			if c.Closed() {
				return
			}
			c.report(&FaultError{Op: "read", Addr: c.addr(), Err: err})
			c.shutdown()
			return
		}
	}
}

// heartbeatLoop sends a Heartbeat envelope every interval under the same lock
// as application sends, and closes the connection when the peer went silent.
func (c *Conn) heartbeatLoop() {
	defer c.wg.Done()
	frame, err := protocol.Encode(&message.Heartbeat{})
	if err != nil {
		c.report(err)
		return
	}
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		if c.opts.Mode&ModeReceive != 0 && c.IsTimedOut() {
			c.report(&FaultError{Op: "read", Addr: c.addr(), Err: ErrTimedOut})
			c.shutdown()
			return
		}
		if c.opts.Mode&ModeSend == 0 {
			continue
		}
		c.sending.Lock()
		_, err := c.write(frame)
		c.sending.Unlock()
		if err != nil && !c.Closed() {
			c.report(&FaultError{Op: "heartbeat", Addr: c.addr(), Err: err})
		}
	}
}

// writeMessage is the innermost SendFunc.
func (c *Conn) writeMessage(ctx context.Context, msg registry.Serializable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.sending.Lock()
	defer c.sending.Unlock()
	if c.Closed() {
		return ErrClosed
	}
	if _, err := c.write(frame); err != nil {
		return &FaultError{Op: "send", Addr: c.addr(), Err: err}
	}
	return nil
}

// Send encodes msg and writes it through the middleware chain.
func (c *Conn) Send(ctx context.Context, msg registry.Serializable) error {
	if c.opts.Mode&ModeSend == 0 {
		return ErrNotSendable
	}
	if c.Closed() {
		return ErrClosed
	}
	return c.send(ctx, msg)
}

// Post sends msg asynchronously. Failures go to OnError.
func (c *Conn) Post(msg registry.Serializable) {
	go func() {
		if err := c.Send(context.Background(), msg); err != nil {
			c.report(err)
		}
	}()
}

// Receive returns the next message, or message.None when nothing is pending.
func (c *Conn) Receive(ctx context.Context) (registry.Serializable, error) {
	if c.opts.Mode&ModeReceive == 0 {
		return nil, ErrNotReceivable
	}
	return c.recv.Receive(ctx)
}

// ReceiveAll drains every decoded message; see receiver.Receiver.ReceiveAll.
func (c *Conn) ReceiveAll() ([]registry.Serializable, error) {
	if c.opts.Mode&ModeReceive == 0 {
		return nil, ErrNotReceivable
	}
	all := c.recv.ReceiveAll()
	if err := c.recv.Err(); err != nil {
		return all, err
	}
	return all, nil
}

// Count returns the number of decoded messages after a pass over pending bytes.
func (c *Conn) Count(ctx context.Context) (int, error) {
	if c.opts.Mode&ModeReceive == 0 {
		return 0, ErrNotReceivable
	}
	return c.recv.Count(ctx)
}

// IsTimedOut reports whether nothing arrived within the heartbeat timeout.
func (c *Conn) IsTimedOut() bool {
	if c.opts.HeartbeatTimeout <= 0 {
		return false
	}
	last := time.Unix(0, c.lastRecv.Load())
	return time.Since(last) > c.opts.HeartbeatTimeout
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }
func (c *Conn) Mode() Mode           { return c.opts.Mode }
func (c *Conn) Status() Status       { return Status(c.status.Load()) }
func (c *Conn) Closed() bool         { return c.Status() == StatusClosed }

// Done is closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the fatal receive error, if the decoder gave up on the stream.
func (c *Conn) Err() error { return c.recv.Err() }

// Close stops the loops and closes the underlying transport.
func (c *Conn) Close() error {
	err := c.shutdown()
	c.wg.Wait()
	return err
}

func (c *Conn) shutdown() error {
	c.closeOnce.Do(func() {
		c.status.Store(int32(StatusClosed))
		close(c.done)
		if err := c.closeFn(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
		c.logger.Debug("connection closed")
	})
	return c.closeErr
}

func (c *Conn) report(err error) {
	c.logger.Debug("connection error", zap.Error(err))
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// fatal tears the connection down once the byte stream can no longer be
// reassembled; leaving it open would keep buffering bytes nobody decodes.
func (c *Conn) fatal(err error) {
	c.report(&FaultError{Op: "read", Addr: c.addr(), Err: err})
	c.shutdown()
	if c.in != nil {
		c.in.Reset()
	}
}

func (c *Conn) addr() string {
	if c.remote == nil {
		return ""
	}
	return c.remote.String()
}
