// internal/network/dialer.go
package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialerConfig holds configuration for the TCP dialer used by the transport.
type DialerConfig struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	// NoDelay sets TCP_NODELAY on established connections.
	NoDelay bool
}

// NewDialerConfig creates a default configuration for low-level dialing.
func NewDialerConfig() *DialerConfig {
	return &DialerConfig{
		Timeout:   DefaultDialTimeout,
		KeepAlive: DefaultKeepAliveInterval,
		NoDelay:   true,
	}
}

// DialTCPContext establishes a TCP connection honoring the dialer configuration.
// TLS is left to the http.Transport.
func DialTCPContext(ctx context.Context, network, address string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = NewDialerConfig()
	}

	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: config.KeepAlive,
		// Happy Eyeballs (RFC 8305).
		FallbackDelay: 300 * time.Millisecond,
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := configureTCP(tcpConn, config); err != nil {
			tcpConn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func configureTCP(conn *net.TCPConn, config *DialerConfig) error {
	if config.KeepAlive > 0 {
		if err := conn.SetKeepAlive(true); err != nil {
			return fmt.Errorf("failed to enable TCP keep-alive: %w", err)
		}
		if err := conn.SetKeepAlivePeriod(config.KeepAlive); err != nil {
			return fmt.Errorf("failed to set keep-alive period: %w", err)
		}
	}
	if config.NoDelay {
		if err := conn.SetNoDelay(true); err != nil {
			return fmt.Errorf("failed to set TCP NoDelay: %w", err)
		}
	}
	return nil
}
