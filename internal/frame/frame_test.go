package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeOneRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		payload []byte
	}{
		{"empty keepalive", Keepalive, nil},
		{"auth request json", AuthRequest, []byte(`{"username":"bob"}`)},
		{"data packet", DataPacket, []byte{0x45, 0x00, 0x00, 0x14}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := Encode(tc.typ, tc.payload)
			require.NoError(t, err)
			require.Equal(t, HeaderSize+len(tc.payload), len(wire))

			msg, consumed, err := DecodeOne(wire)
			require.NoError(t, err)
			require.Equal(t, len(wire), consumed)
			require.Equal(t, tc.typ, msg.Type)
			require.Equal(t, tc.payload, msg.Payload)
		})
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	_, err := Encode(DataPacket, make([]byte, MaxPayload+1))
	require.Error(t, err)
	var overflow *ErrLengthOverflow
	require.ErrorAs(t, err, &overflow)
}

func TestDecodeOneNeedsMoreBytes(t *testing.T) {
	_, _, err := DecodeOne([]byte{0x10, 0x00})
	require.Error(t, err)
	need, ok := err.(*Need)
	require.True(t, ok)
	require.Equal(t, HeaderSize, need.N)

	wire, err := Encode(DataPacket, []byte("hello"))
	require.NoError(t, err)

	_, _, err = DecodeOne(wire[:HeaderSize+2])
	require.Error(t, err)
	need, ok = err.(*Need)
	require.True(t, ok)
	require.Equal(t, len(wire), need.N)
}

func TestDecodeOneUnknownType(t *testing.T) {
	_, _, err := DecodeOne([]byte{0x99, 0, 0, 0, 0})
	require.Error(t, err)
	var unknown *ErrUnknownType
	require.ErrorAs(t, err, &unknown)
}

func TestDecodeOneLengthOverflow(t *testing.T) {
	buf := []byte{byte(DataPacket), 0xFF, 0xFF, 0xFF, 0xFF}
	_, _, err := DecodeOne(buf)
	require.Error(t, err)
	var overflow *ErrLengthOverflow
	require.ErrorAs(t, err, &overflow)
}

// TestDecodeAllAcrossFragmentBoundaries exercises the TCP-segment property:
// any fragmentation/concatenation of a byte stream yields the same ordered
// set of messages plus the correct residual.
func TestDecodeAllAcrossFragmentBoundaries(t *testing.T) {
	m1, _ := Encode(Keepalive, nil)
	m2, _ := Encode(DataPacket, []byte("payload-two"))
	m3, _ := Encode(AuthRequest, []byte(`{"username":"a"}`))
	full := append(append(append([]byte{}, m1...), m2...), m3...)

	tail := []byte{byte(KeepaliveAck)}
	full = append(full, tail...)

	messages, residual, err := DecodeAll(full)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, Keepalive, messages[0].Type)
	require.Equal(t, DataPacket, messages[1].Type)
	require.Equal(t, AuthRequest, messages[2].Type)
	require.Equal(t, tail, residual)
}

func TestDecodeAllSplitFragments(t *testing.T) {
	m1, _ := Encode(Keepalive, nil)
	m2, _ := Encode(DataPacket, []byte("0123456789"))
	full := append(append([]byte{}, m1...), m2...)

	// Feed byte-by-byte, simulating arbitrary TCP segment boundaries.
	var acc []byte
	var all []Message
	for i := 0; i < len(full); i++ {
		acc = append(acc, full[i])
		msgs, residual, err := DecodeAll(acc)
		require.NoError(t, err)
		all = append(all, msgs...)
		acc = residual
	}

	require.Len(t, all, 2)
	require.Equal(t, Keepalive, all[0].Type)
	require.Equal(t, DataPacket, all[1].Type)
	require.Equal(t, []byte("0123456789"), all[1].Payload)
	require.Empty(t, acc)
}

func TestDecodeAllStopsAtFramingError(t *testing.T) {
	good, _ := Encode(Keepalive, nil)
	bad := []byte{0x99, 0, 0, 0, 0}
	buf := append(append([]byte{}, good...), bad...)

	messages, _, err := DecodeAll(buf)
	require.Error(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, Keepalive, messages[0].Type)
}

func TestIsControlType(t *testing.T) {
	require.True(t, IsControlType(AuthRequest))
	require.True(t, IsControlType(ErrorFrame))
	require.False(t, IsControlType(DataPacket))
}
