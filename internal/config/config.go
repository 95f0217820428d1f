// Package config loads the process-wide, immutable-after-startup
// configuration from the environment, with documented defaults for
// everything except the database password and the JWT signing secret.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is frozen once at startup; no component mutates it afterward.
type Config struct {
	ListenHost string
	ListenPort int

	TLSCertPath string
	TLSKeyPath  string
	TLSCAPath   string

	VPNSubnet  string // CIDR, e.g. "10.8.0.0/24"
	VPNNetmask string
	VPNGateway string
	VPNDNS     []string
	VPNMTU     int

	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string

	JWTSecret string

	KeepaliveInterval int // seconds, pushed to clients
	MaxPayloadBytes   int

	// MetricsAddr is the loopback-only address the Prometheus /metrics
	// endpoint binds to; operationally separate from the VPN listener.
	MetricsAddr string
}

// Load reads configuration from the environment. If a `.env` file is
// present in the working directory it is loaded first (and never
// overrides a variable already set in the real environment) — convenient
// for local development, never required in production.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := &Config{
		ListenHost:        getEnv("VPN_HOST", "0.0.0.0"),
		ListenPort:        getEnvInt("VPN_PORT", 1194),
		TLSCertPath:       getEnv("TLS_CERT_PATH", "/etc/vpngw/tls/server.crt"),
		TLSKeyPath:        getEnv("TLS_KEY_PATH", "/etc/vpngw/tls/server.key"),
		TLSCAPath:         getEnv("TLS_CA_PATH", "/etc/vpngw/tls/ca.crt"),
		VPNSubnet:         getEnv("VPN_SUBNET", "10.8.0.0/24"),
		VPNNetmask:        getEnv("VPN_NETMASK", "255.255.255.0"),
		VPNGateway:        getEnv("VPN_GATEWAY", "10.8.0.1"),
		VPNDNS:            splitCSV(getEnv("VPN_DNS", "8.8.8.8,8.8.4.4")),
		VPNMTU:            getEnvInt("VPN_MTU", 1400),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBName:            getEnv("DB_NAME", "vpngw"),
		DBUser:            getEnv("DB_USER", "vpngw"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		KeepaliveInterval: 10,
		MaxPayloadBytes:   64 * 1024,
		MetricsAddr:       getEnv("METRICS_ADDR", "127.0.0.1:9090"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, _, err := net.ParseCIDR(c.VPNSubnet); err != nil {
		return fmt.Errorf("config: invalid VPN_SUBNET %q: %w", c.VPNSubnet, err)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("config: invalid VPN_PORT %d", c.ListenPort)
	}
	if c.DBPassword == "" {
		return fmt.Errorf("config: DB_PASSWORD is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	return nil
}

// ListenAddr formats the TCP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
