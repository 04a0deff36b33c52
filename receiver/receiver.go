// Package receiver turns raw connection bytes into a FIFO of decoded messages.
//
// At most one decode pass runs per Receiver at any time. Callers that trigger
// a pass while one is in flight join it and see its result:
//
//	Receive ──┐
//	Receive ──┼──→ singleflight "pass" ──→ reassembler ──→ queue
//	Kick    ──┘
//
// Stream receivers feed a reassembly.Reassembler; datagram receivers decode one
// envelope per datagram.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"netmodule/message"
	"netmodule/protocol"
	"netmodule/reassembly"
	"netmodule/registry"
)

// Source is a byte stream that reports how many bytes can be read without
// blocking.
type Source interface {
	io.Reader
	Available() int
}

// DatagramSource yields whole datagrams.
type DatagramSource interface {
	Pending() int
	Next() ([]byte, bool)
}

// Options configures a Receiver. The zero value is usable.
type Options struct {
	// Capacity of the reassembly buffer; <= 0 selects reassembly.DefaultCapacity.
	Capacity int
	// Filter drops a decoded message when it returns false.
	Filter func(registry.Serializable) bool
	// OnReceived sees every decoded message before Filter.
	OnReceived func(registry.Serializable)
	// OnError receives per-envelope decode failures and read errors. The
	// skipped envelope is not returned by Receive; without OnError the
	// failure is only logged at Warn level.
	OnError func(error)
	// OnFatal is called once, from the decode pass, when the stream cannot
	// be reassembled any further (reassembly.Fatal). The receiver stays
	// failed; the owner is expected to tear the connection down.
	OnFatal func(error)
	Logger  *zap.Logger
}

const passKey = "pass"

// Receiver is the per-connection decode coordinator.
type Receiver struct {
	pass    func() error
	pending func() int

	group   singleflight.Group
	running atomic.Bool

	mu    sync.Mutex
	queue []registry.Serializable
	err   error // sticky fatal error

	filter     func(registry.Serializable) bool
	onReceived func(registry.Serializable)
	onError    func(error)
	onFatal    func(error)
	logger     *zap.Logger
}

func newReceiver(opts Options) *Receiver {
	r := &Receiver{
		filter:     opts.Filter,
		onReceived: opts.OnReceived,
		onError:    opts.OnError,
		onFatal:    opts.OnFatal,
		logger:     opts.Logger,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// NewStream returns a Receiver that reassembles envelopes from src.
func NewStream(src Source, opts Options) *Receiver {
	r := newReceiver(opts)
	reasm := reassembly.New(opts.Capacity)
	chunk := make([]byte, reasm.Cap())

	r.pending = src.Available
	r.pass = func() error {
		for src.Available() > 0 {
			free := reasm.Free()
			if free == 0 {
				return fmt.Errorf("%w: no room for pending bytes", reassembly.ErrOverflow)
			}
			n, err := src.Read(chunk[:min(free, src.Available())])
			if n > 0 {
				msgs, ferr := reasm.Feed(chunk[:n])
				r.enqueue(msgs)
				if reassembly.Fatal(ferr) {
					return ferr
				}
				if ferr != nil {
					r.report(ferr)
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				r.report(err)
				return nil
			}
			if n == 0 {
				return nil
			}
		}
		return nil
	}
	return r
}

// NewDatagram returns a Receiver that decodes one envelope per datagram.
func NewDatagram(src DatagramSource, opts Options) *Receiver {
	r := newReceiver(opts)
	r.pending = src.Pending
	r.pass = func() error {
		for src.Pending() > 0 {
			d, ok := src.Next()
			if !ok {
				return nil
			}
			msg, err := protocol.Decode(d)
			if err != nil {
				r.report(err)
				continue
			}
			r.enqueue([]registry.Serializable{msg})
		}
		return nil
	}
	return r
}

func (r *Receiver) report(err error) {
	if r.onError == nil {
		r.logger.Warn("decode failure", zap.Error(err))
		return
	}
	r.logger.Debug("decode failure", zap.Error(err))
	r.onError(err)
}

func (r *Receiver) enqueue(msgs []registry.Serializable) {
	if len(msgs) == 0 {
		return
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if r.onReceived != nil {
			r.onReceived(m)
		}
		if r.filter == nil || r.filter(m) {
			kept = append(kept, m)
		}
	}
	r.mu.Lock()
	r.queue = append(r.queue, kept...)
	r.mu.Unlock()
}

func (r *Receiver) dequeue() (registry.Serializable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	m := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return m, true
}

// Err returns the fatal error that stopped the receiver, if any.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Receiver) fail(err error) {
	r.mu.Lock()
	first := r.err == nil
	if first {
		r.err = err
	}
	r.mu.Unlock()
	if !first {
		return
	}
	r.logger.Warn("receiver failed", zap.Error(err))
	if r.onFatal != nil {
		r.onFatal(err)
	}
}

func (r *Receiver) run() (any, error) {
	r.running.Store(true)
	defer r.running.Store(false)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := r.pass(); err != nil {
		r.fail(err)
		return nil, err
	}
	return nil, nil
}

// Kick starts a decode pass unless one is already running.
func (r *Receiver) Kick() {
	r.group.DoChan(passKey, r.run)
}

// await triggers or joins a decode pass and waits for it.
func (r *Receiver) await(ctx context.Context) error {
	ch := r.group.DoChan(passKey, r.run)
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next decoded message. When nothing is queued and no raw
// bytes are pending it returns message.None.
func (r *Receiver) Receive(ctx context.Context) (registry.Serializable, error) {
	for {
		if err := r.Err(); err != nil {
			return nil, err
		}
		if m, ok := r.dequeue(); ok {
			if r.pending() > 0 {
				r.Kick()
			}
			return m, nil
		}
		if r.pending() == 0 && !r.running.Load() {
			return message.None, nil
		}
		if err := r.await(ctx); err != nil {
			return nil, err
		}
	}
}

// ReceiveAll drains the queue. If it was empty, a pass is started for any
// pending bytes and the result is a single message.None.
func (r *Receiver) ReceiveAll() []registry.Serializable {
	r.mu.Lock()
	items := r.queue
	r.queue = nil
	r.mu.Unlock()

	if len(items) == 0 {
		if r.pending() > 0 && r.Err() == nil {
			r.Kick()
		}
		return []registry.Serializable{message.None}
	}
	return items
}

// Count waits for a pass over any pending bytes and returns the queue length.
func (r *Receiver) Count(ctx context.Context) (int, error) {
	if r.pending() > 0 || r.running.Load() {
		if err := r.await(ctx); err != nil {
			return r.Len(), err
		}
	}
	return r.Len(), nil
}

// Len returns the number of queued messages.
func (r *Receiver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
