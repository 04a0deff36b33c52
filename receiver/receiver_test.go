package receiver

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"netmodule/message"
	"netmodule/protocol"
	"netmodule/reassembly"
	"netmodule/registry"
)

// fakeSource is an in-memory stream. Read records how many readers overlap.
type fakeSource struct {
	mu  sync.Mutex
	buf bytes.Buffer

	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
	reads   atomic.Int32
}

func (s *fakeSource) Write(p []byte) {
	s.mu.Lock()
	s.buf.Write(p)
	s.mu.Unlock()
}

func (s *fakeSource) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func (s *fakeSource) Read(p []byte) (int, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		old := s.maxSeen.Load()
		if n <= old || s.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	s.reads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Read(p)
}

type fakeDatagrams struct {
	mu sync.Mutex
	q  [][]byte
}

func (d *fakeDatagrams) Push(b []byte) {
	d.mu.Lock()
	d.q = append(d.q, b)
	d.mu.Unlock()
}

func (d *fakeDatagrams) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.q)
}

func (d *fakeDatagrams) Next() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.q) == 0 {
		return nil, false
	}
	b := d.q[0]
	d.q = d.q[1:]
	return b, true
}

func envelope(t *testing.T, m registry.Serializable) []byte {
	t.Helper()
	b, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	return b
}

func TestReceiveReturnsNoneWhenIdle(t *testing.T) {
	r := NewStream(&fakeSource{}, Options{Logger: zaptest.NewLogger(t)})
	m, err := r.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m == nil || !message.IsNone(m) {
		t.Fatalf("Expected the None sentinel, got %v", m)
	}
}

func TestReceiveInOrder(t *testing.T) {
	src := &fakeSource{}
	for i := int32(0); i < 5; i++ {
		src.Write(envelope(t, message.NewInt32(i)))
	}
	r := NewStream(src, Options{})
	for i := int32(0); i < 5; i++ {
		m, err := r.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if got := m.(*message.Int32).Int(); got != i {
			t.Fatalf("message %d = %d", i, got)
		}
	}
	if m, _ := r.Receive(context.Background()); !message.IsNone(m) {
		t.Fatalf("Expected None after draining, got %v", m)
	}
}

func TestReceivePartialEnvelope(t *testing.T) {
	src := &fakeSource{}
	env := envelope(t, message.NewString("partial"))
	src.Write(env[:5])
	r := NewStream(src, Options{})

	if m, _ := r.Receive(context.Background()); !message.IsNone(m) {
		t.Fatalf("Expected None while the envelope is incomplete, got %v", m)
	}
	src.Write(env[5:])
	m, err := r.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.(*message.String).String() != "partial" {
		t.Fatalf("Received %v", m)
	}
}

func TestReceiveAll(t *testing.T) {
	src := &fakeSource{}
	r := NewStream(src, Options{})

	got := r.ReceiveAll()
	if len(got) != 1 || !message.IsNone(got[0]) {
		t.Fatalf("Expected [None] on an idle receiver, got %v", got)
	}

	src.Write(envelope(t, message.NewInt32(1)))
	src.Write(envelope(t, message.NewInt32(2)))
	// The first call only starts a pass.
	if got := r.ReceiveAll(); len(got) != 1 || !message.IsNone(got[0]) {
		t.Fatalf("Expected [None] before any pass finished, got %v", got)
	}
	n, err := r.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
	got = r.ReceiveAll()
	if len(got) != 2 || got[0].(*message.Int32).Int() != 1 || got[1].(*message.Int32).Int() != 2 {
		t.Fatalf("ReceiveAll = %v", got)
	}
	if r.Len() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestSingleFlight(t *testing.T) {
	src := &fakeSource{delay: time.Millisecond}
	const total = 200
	for i := int32(0); i < total; i++ {
		src.Write(envelope(t, message.NewInt32(i)))
	}
	r := NewStream(src, Options{Capacity: 256})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int32]bool)
	)
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := r.Receive(context.Background())
				if err != nil {
					t.Errorf("Receive failed: %v", err)
					return
				}
				if message.IsNone(m) {
					return
				}
				mu.Lock()
				v := m.(*message.Int32).Int()
				if seen[v] {
					t.Errorf("message %d delivered twice", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if got := src.maxSeen.Load(); got != 1 {
		t.Fatalf("%d decode passes read concurrently", got)
	}
	// A kicked pass may still be finishing its last read.
	for i := 0; i < 100 && r.Len()+len(seen) < total; i++ {
		time.Sleep(time.Millisecond)
	}
	for _, m := range r.ReceiveAll() {
		if v, ok := m.(*message.Int32); ok {
			seen[v.Int()] = true
		}
	}
	if len(seen) != total {
		t.Fatalf("received %d distinct messages, want %d", len(seen), total)
	}
}

func TestFilterAndOnReceived(t *testing.T) {
	src := &fakeSource{}
	src.Write(envelope(t, &message.Heartbeat{}))
	src.Write(envelope(t, message.NewInt32(7)))
	src.Write(envelope(t, &message.Heartbeat{}))

	var observed atomic.Int32
	r := NewStream(src, Options{
		Filter:     func(m registry.Serializable) bool { return !message.IsHeartbeat(m) },
		OnReceived: func(registry.Serializable) { observed.Add(1) },
	})
	m, err := r.Receive(context.Background())
	if err != nil || m.(*message.Int32).Int() != 7 {
		t.Fatalf("Receive = %v, %v", m, err)
	}
	if m, _ := r.Receive(context.Background()); !message.IsNone(m) {
		t.Fatalf("heartbeat leaked into the queue: %v", m)
	}
	if observed.Load() != 3 {
		t.Fatalf("OnReceived saw %d messages, want 3", observed.Load())
	}
}

func TestBadEnvelopeReported(t *testing.T) {
	src := &fakeSource{}
	bad := envelope(t, message.NewInt32(1))
	bad[0] = 0
	src.Write(bad)
	src.Write(envelope(t, message.NewInt32(2)))

	var reported []error
	r := NewStream(src, Options{OnError: func(err error) { reported = append(reported, err) }})
	m, err := r.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.(*message.Int32).Int() != 2 {
		t.Fatalf("Received %v", m)
	}
	if len(reported) != 1 || !errors.Is(reported[0], protocol.ErrInvalidIdentifier) {
		t.Fatalf("reported %v", reported)
	}
}

// 没有 OnError 时，解码失败至少要以 Warn 级别记录
func TestBadEnvelopeLoggedWithoutOnError(t *testing.T) {
	src := &fakeSource{}
	bad := envelope(t, message.NewInt32(1))
	bad[0] = 0
	src.Write(bad)
	src.Write(envelope(t, message.NewInt32(2)))

	core, logs := observer.New(zapcore.WarnLevel)
	r := NewStream(src, Options{Logger: zap.New(core)})
	m, err := r.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.(*message.Int32).Int() != 2 {
		t.Fatalf("Received %v", m)
	}
	if n := logs.FilterMessage("decode failure").Len(); n != 1 {
		t.Fatalf("expect 1 warn entry, got %d", n)
	}
}

func TestOverflowIsFatal(t *testing.T) {
	src := &fakeSource{}
	src.Write(envelope(t, message.NewString(string(make([]byte, 300)))))
	var fatal atomic.Int32
	r := NewStream(src, Options{
		Capacity: 64,
		OnFatal: func(err error) {
			if !errors.Is(err, reassembly.ErrOverflow) {
				t.Errorf("OnFatal got %v", err)
			}
			fatal.Add(1)
		},
	})

	_, err := r.Receive(context.Background())
	if !errors.Is(err, reassembly.ErrOverflow) {
		t.Fatalf("Expected ErrOverflow, got %v", err)
	}
	if !errors.Is(r.Err(), reassembly.ErrOverflow) {
		t.Fatalf("receiver not marked failed")
	}
	if _, err := r.Receive(context.Background()); err == nil {
		t.Fatalf("a failed receiver must keep returning its error")
	}
	if n := fatal.Load(); n != 1 {
		t.Fatalf("OnFatal called %d times, want 1", n)
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	src := &fakeSource{delay: 200 * time.Millisecond}
	src.Write(envelope(t, message.NewInt32(1)))
	r := NewStream(src, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
	m, err := r.Receive(context.Background())
	if err != nil || m.(*message.Int32).Int() != 1 {
		t.Fatalf("Receive after timeout = %v, %v", m, err)
	}
}

func TestDatagram(t *testing.T) {
	src := &fakeDatagrams{}
	src.Push(envelope(t, message.NewString("a")))
	src.Push([]byte{1, 2, 3})
	src.Push(envelope(t, message.NewPair(message.NewInt32(1), message.NewFloat32(2))))

	var errs atomic.Int32
	r := NewDatagram(src, Options{OnError: func(error) { errs.Add(1) }})
	n, err := r.Count(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if errs.Load() != 1 {
		t.Fatalf("reported %d errors, want 1", errs.Load())
	}
	m, _ := r.Receive(context.Background())
	if m.(*message.String).String() != "a" {
		t.Fatalf("first datagram = %v", m)
	}
	m, _ = r.Receive(context.Background())
	if _, ok := m.(*message.Pair); !ok {
		t.Fatalf("second datagram = %T", m)
	}
}
