package httpapi

import (
	"net"
	"strings"
	"time"

	"github.com/kingrea/orchestra/internal/config"
)

const (
	// DefaultAddr binds the API to loopback.
	DefaultAddr = "127.0.0.1:8085"
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 60 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Settings captures runtime configuration for the HTTP API.
type Settings struct {
	Addr         string
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig reads orchestra.http.addr and fills the rest with defaults.
func SettingsFromConfig(snap config.Snapshot) Settings {
	s := Settings{Addr: snap.Get(config.KeyHTTPAddr, DefaultAddr)}
	s.normalize()
	return s
}

func (s *Settings) normalize() {
	s.Addr = strings.TrimSpace(s.Addr)
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		s.Addr = DefaultAddr
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}
