package server_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vpngw/server/internal/authsvc"
	"github.com/vpngw/server/internal/config"
	"github.com/vpngw/server/internal/frame"
	"github.com/vpngw/server/internal/ippool"
	"github.com/vpngw/server/internal/server"
	"github.com/vpngw/server/internal/store"
	"github.com/vpngw/server/internal/tunif"
)

// writeSelfSignedCert generates an ECDSA P-256 self-signed certificate for
// "localhost" and writes PEM-encoded cert/key files under dir, returning
// their paths. Test-only: production certificates are operator-supplied.
func writeSelfSignedCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "server.crt")
	keyPath = filepath.Join(dir, "server.key")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyBytes, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServerHandshakeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir)

	cfg := &config.Config{
		ListenHost:        "127.0.0.1",
		ListenPort:        freePort(t),
		TLSCertPath:       certPath,
		TLSKeyPath:        keyPath,
		TLSCAPath:         filepath.Join(dir, "missing-ca.crt"),
		VPNSubnet:         "10.8.0.0/24",
		VPNNetmask:        "255.255.255.0",
		VPNGateway:        "10.8.0.1",
		VPNDNS:            []string{"8.8.8.8", "8.8.4.4"},
		VPNMTU:            1400,
		KeepaliveInterval: 10,
		MetricsAddr:       "127.0.0.1:0",
	}

	mem := store.NewMem()
	hash, err := authsvc.HashPassword("test123")
	require.NoError(t, err)
	mem.PutUser(store.User{Username: "testuser", PasswordVerifier: hash, Active: true, MaxConnections: 3})
	auth := authsvc.New(mem, "unit-test-secret")

	pool, err := ippool.New(cfg.VPNSubnet)
	require.NoError(t, err)
	tun := tunif.NewMock("tun-test", cfg.VPNMTU)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := server.New(server.Deps{Config: cfg, Auth: auth, Pool: pool, TUN: tun, Logger: log})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	var conn *tls.Conn
	require.Eventually(t, func() bool {
		c, dialErr := tls.Dial("tcp", cfg.ListenAddr(), &tls.Config{InsecureSkipVerify: true})
		if dialErr != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	req := []byte(`{"username":"testuser","password":"test123","clientVersion":"1.0.0","platform":"macos"}`)
	buf, err := frame.Encode(frame.AuthRequest, req)
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)

	resp := readFrame(t, conn)
	require.Equal(t, frame.AuthResponse, resp.Type)
	var ar struct {
		Success      bool   `json:"success"`
		SessionToken string `json:"sessionToken"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &ar))
	require.True(t, ar.Success)
	require.NotEmpty(t, ar.SessionToken)

	push := readFrame(t, conn)
	require.Equal(t, frame.ConfigPush, push.Type)

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func readFrame(t *testing.T, conn net.Conn) frame.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if msg, _, derr := frame.DecodeOne(buf); derr == nil {
				return msg
			}
		}
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
	}
}
