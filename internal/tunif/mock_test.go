package tunif

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockWriteRecordsPackets(t *testing.T) {
	m := NewMock("tun-test", 1400)
	require.NoError(t, m.Write([]byte{1, 2, 3}))
	require.Equal(t, [][]byte{{1, 2, 3}}, m.Written())
}

func TestMockReadBlocksUntilInjected(t *testing.T) {
	m := NewMock("tun-test", 1400)

	done := make(chan []byte, 1)
	go func() {
		pkt, err := m.Read()
		require.NoError(t, err)
		done <- pkt
	}()

	time.Sleep(10 * time.Millisecond)
	m.Inject([]byte{9, 9, 9})

	select {
	case pkt := <-done:
		require.Equal(t, []byte{9, 9, 9}, pkt)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Inject")
	}
}

func TestMockReadUnblocksOnDestroy(t *testing.T) {
	m := NewMock("tun-test", 1400)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Read()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Destroy())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Destroy")
	}
}
