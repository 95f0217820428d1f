package tunif

import (
	"errors"
	"net"
	"sync"
)

// Mock is an in-memory TUN device used by tests. Write appends to an
// outbox observers can inspect via Written; Read returns from an injected
// inbound queue.
// The session/router code must not distinguish Mock from a KernelDevice.
type Mock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	name    string
	mtu     int
	inbound [][]byte
	written [][]byte

	localIP net.IP
	mask    net.IPMask
}

// NewMock builds a ready-to-use mock TUN device.
func NewMock(name string, mtu int) *Mock {
	m := &Mock{name: name, mtu: mtu}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// AssignIP records the assigned address; no kernel interaction.
func (m *Mock) AssignIP(addr net.IP, mask net.IPMask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localIP = addr
	m.mask = mask
	return nil
}

// Inject enqueues a packet that the next Read call will return, simulating
// a datagram arriving from the internet toward a client.
func (m *Mock) Inject(packet []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, packet)
	m.cond.Broadcast()
}

// Read blocks until a packet has been injected or the device is closed.
func (m *Mock) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.inbound) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed && len(m.inbound) == 0 {
		return nil, errors.New("tunif: mock device closed")
	}
	packet := m.inbound[0]
	m.inbound = m.inbound[1:]
	return packet, nil
}

// Write records the packet for test assertions (client -> internet
// direction).
func (m *Mock) Write(packet []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(packet))
	copy(cp, packet)
	m.written = append(m.written, cp)
	return nil
}

// Written returns a snapshot of everything written so far, for assertions.
func (m *Mock) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

func (m *Mock) Name() string { return m.name }
func (m *Mock) MTU() int     { return m.mtu }

// Destroy marks the device closed, unblocking any pending Read.
func (m *Mock) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

var _ Interface = (*Mock)(nil)
