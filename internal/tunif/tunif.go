// Package tunif abstracts the host TUN device as a small capability:
// create, assign an IP, read/write L3 packets, destroy. A kernel-backed
// implementation (tun_kernel.go) and an in-memory mock (mock.go) both satisfy
// Interface; session and router code depend only on this type.
package tunif

import "net"

// Interface is the capability surface a TUN device exposes. Read blocks
// until a packet is available or the device is closed; Write must
// internally serialize concurrent callers (the router reads, sessions
// write, from separate goroutines).
type Interface interface {
	// AssignIP sets the local address and mask, brings the interface up,
	// and (on platforms that support it) arranges IPv4 forwarding and NAT
	// masquerade for the given subnet. Soft-fails (returns nil) when
	// running without the privilege to configure forwarding/NAT; that
	// failure is discarded, not logged, and the host is assumed to have
	// been configured externally.
	AssignIP(addr net.IP, mask net.IPMask) error

	// Read returns the next outbound IPv4 datagram (internet -> client
	// direction).
	Read() ([]byte, error)

	// Write pushes a packet received from a client toward the kernel
	// (client -> internet direction).
	Write(packet []byte) error

	// Name returns the interface's stable name.
	Name() string

	// MTU returns the configured maximum transmission unit.
	MTU() int

	// Destroy releases the handle and tears down routes/NAT owned by the
	// server.
	Destroy() error
}

// Config parameterizes TUN acquisition and IP assignment.
type Config struct {
	Name        string     // interface name, empty = kernel auto-assigns
	MTU         int
	Subnet      *net.IPNet // the VPN CIDR, for route/NAT setup
	GatewayIP   net.IP     // the server's address inside the VPN (first host)
}
