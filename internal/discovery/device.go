package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Bridge is a WebSocket link bridge discovered on the network
type Bridge struct {
	// Instance is the mDNS instance name (e.g., "minilink-sim")
	Instance string

	// Hostname is the mDNS hostname (e.g., "bench.local.")
	Hostname string

	// IP is the IPv4 address, or IPv6 when no IPv4 was advertised
	IP string

	// Port is the WebSocket port
	Port int

	// MTU is the transport unit size the bridge announced (0 if unknown)
	MTU int

	// Metadata contains all TXT record data
	// Common fields: "mtu=20", "device=GT-03", "path=/link"
	Metadata map[string]string

	// DiscoveredAt is when the bridge answered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the bridge
func (b *Bridge) String() string {
	s := fmt.Sprintf("%s at %s", b.Instance, b.Address())
	if d := b.DeviceName(); d != "" {
		s += fmt.Sprintf(" (device %s)", d)
	}
	if b.MTU > 0 {
		s += fmt.Sprintf(" mtu=%d", b.MTU)
	}
	return s
}

// Address returns host:port, bracketing IPv6 addresses
func (b *Bridge) Address() string {
	return net.JoinHostPort(b.IP, strconv.Itoa(b.Port))
}

// URL returns the WebSocket URL of the bridge's link endpoint
func (b *Bridge) URL() string {
	path := b.GetMetadata(TXTKeyPath)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + b.Address() + path
}

// DeviceName returns the tracker name the bridge serves, if advertised
func (b *Bridge) DeviceName() string {
	return b.GetMetadata(TXTKeyDevice)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
