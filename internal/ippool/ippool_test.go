package ippool

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateStartsAtDotTwo(t *testing.T) {
	p, err := New("10.8.0.0/24")
	require.NoError(t, err)

	ip, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("10.8.0.2").To4(), ip.To4())

	ip2, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("10.8.0.3").To4(), ip2.To4())
}

func TestGatewayPreReserved(t *testing.T) {
	p, err := New("10.8.0.0/24")
	require.NoError(t, err)

	require.True(t, p.IsInUse(net.ParseIP("10.8.0.1")))
	require.Equal(t, net.ParseIP("10.8.0.1").To4(), p.Gateway().To4())
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, err := New("10.8.0.0/24")
	require.NoError(t, err)

	ip, err := p.Allocate()
	require.NoError(t, err)

	p.Release(ip)
	require.False(t, p.IsInUse(ip))

	// Releasing again, or an address never leased, is a no-op.
	p.Release(ip)
	p.Release(net.ParseIP("10.8.0.200"))
}

func TestReleasedAddressIsReusable(t *testing.T) {
	p, err := New("10.8.0.0/24")
	require.NoError(t, err)

	ip, err := p.Allocate()
	require.NoError(t, err)
	p.Release(ip)

	ip2, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, ip.To4(), ip2.To4())
}

func TestExhaustion(t *testing.T) {
	p, err := New("10.8.0.0/30") // capacity: 1 client address (.2)
	require.NoError(t, err)

	ip, err := p.Allocate()
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("10.8.0.2").To4(), ip.To4())

	_, err = p.Allocate()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestNeverLeasesNetworkBroadcastOrGateway(t *testing.T) {
	p, err := New("10.8.0.0/29") // capacity: 5 client addresses
	require.NoError(t, err)

	network := net.ParseIP("10.8.0.0").To4()
	broadcast := net.ParseIP("10.8.0.7").To4()
	gateway := net.ParseIP("10.8.0.1").To4()

	var leased []net.IP
	for {
		ip, err := p.Allocate()
		if err != nil {
			break
		}
		leased = append(leased, ip)
	}

	require.LessOrEqual(t, len(leased), p.Capacity())
	for _, ip := range leased {
		require.NotEqual(t, network, ip.To4())
		require.NotEqual(t, broadcast, ip.To4())
		require.NotEqual(t, gateway, ip.To4())
	}
}

// TestConcurrentAllocateRelease exercises the property that concurrent
// allocate/release never double-leases an address and never exceeds
// capacity.
func TestConcurrentAllocateRelease(t *testing.T) {
	p, err := New("10.8.0.0/24")
	require.NoError(t, err)

	const workers = 50
	results := make(chan net.IP, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ip, err := p.Allocate()
			if err == nil {
				results <- ip
			} else {
				results <- nil
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	count := 0
	for ip := range results {
		if ip == nil {
			continue
		}
		count++
		require.False(t, seen[ip.String()], "address %s leased twice", ip)
		seen[ip.String()] = true
	}
	require.LessOrEqual(t, count, p.Capacity())
}

func TestStats(t *testing.T) {
	p, err := New("10.8.0.0/24")
	require.NoError(t, err)

	stats := p.Stats()
	require.Equal(t, 1, stats.Used) // gateway only

	_, err = p.Allocate()
	require.NoError(t, err)
	stats = p.Stats()
	require.Equal(t, 2, stats.Used)
}
