package transport

import (
	"bytes"
	"sync"
)

// inbox holds bytes the read loop pulled off the wire until a decode pass
// consumes them.
type inbox struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *inbox) Write(p []byte) {
	b.mu.Lock()
	b.buf.Write(p)
	b.mu.Unlock()
}

func (b *inbox) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *inbox) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return 0, nil
	}
	return b.buf.Read(p)
}

// Reset drops buffered bytes.
func (b *inbox) Reset() {
	b.mu.Lock()
	b.buf = bytes.Buffer{}
	b.mu.Unlock()
}

// datagrams queues whole datagrams for a datagram receiver.
type datagrams struct {
	mu sync.Mutex
	q  [][]byte
}

func (d *datagrams) Push(p []byte) {
	d.mu.Lock()
	d.q = append(d.q, p)
	d.mu.Unlock()
}

func (d *datagrams) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.q)
}

func (d *datagrams) Next() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.q) == 0 {
		return nil, false
	}
	p := d.q[0]
	d.q[0] = nil
	d.q = d.q[1:]
	return p, true
}
