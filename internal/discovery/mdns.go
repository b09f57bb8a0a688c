package discovery

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/logging"
)

const (
	// ServiceType is the mDNS service type advertised by link bridges
	ServiceType = "_minilink._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for bridge discovery
	DefaultScanTimeout = 3 * time.Second

	// DefaultPort is the default WebSocket port of a bridge
	DefaultPort = 8765

	// DefaultPath is the WebSocket endpoint when the TXT record has none
	DefaultPath = "/link"
)

// TXT record keys
const (
	TXTKeyMTU    = "mtu"
	TXTKeyDevice = "device"
	TXTKeyPath   = "path"
)

// Scanner handles mDNS bridge discovery
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Browse collects every bridge that answers within the timeout, sorted by
// instance name
func (s *Scanner) Browse(ctx context.Context) ([]*Bridge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		bridges []*Bridge
		seen    = make(map[string]bool)
	)
	err := s.browse(ctx, func(b *Bridge) bool {
		mu.Lock()
		defer mu.Unlock()
		if !seen[b.Instance] {
			seen[b.Instance] = true
			bridges = append(bridges, b)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(bridges, func(i, j int) bool { return bridges[i].Instance < bridges[j].Instance })
	return bridges, nil
}

// WaitForBridge returns the first bridge whose instance or device name
// matches name. An empty name matches any bridge.
func (s *Scanner) WaitForBridge(ctx context.Context, name string) (*Bridge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Bridge, 1)
	err := s.browse(ctx, func(b *Bridge) bool {
		if name != "" && b.Instance != name && b.DeviceName() != name {
			return true
		}
		select {
		case found <- b:
		default:
		}
		cancel()
		return false
	})
	if err != nil {
		return nil, err
	}

	select {
	case b := <-found:
		return b, nil
	case <-ctx.Done():
		select {
		case b := <-found:
			return b, nil
		default:
		}
		if name == "" {
			return nil, fmt.Errorf("no %s bridge found within %s", ServiceType, s.Timeout)
		}
		return nil, fmt.Errorf("bridge %q not found within %s", name, s.Timeout)
	}
}

// browse starts a resolver and feeds parsed entries to fn until it
// returns false or ctx ends
func (s *Scanner) browse(ctx context.Context, fn func(*Bridge) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				b := s.parseServiceEntry(entry)
				if b == nil {
					continue
				}
				logging.Debug("Bridge discovered",
					zap.String("instance", b.Instance),
					zap.String("addr", b.Address()),
					zap.Int("mtu", b.MTU),
				)
				if !fn(b) {
					return
				}
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

// parseServiceEntry converts a zeroconf service entry to a Bridge.
// Returns nil if the entry has no usable address.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Bridge {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	// Prefer IPv4
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := ParseTXT(entry.Text)
	mtu, _ := strconv.Atoi(metadata[TXTKeyMTU])

	return &Bridge{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		MTU:          mtu,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// ParseTXT splits "key=value" TXT strings into a map. A bare key maps to "".
func ParseTXT(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}
	return metadata
}

// TXTRecords builds the TXT strings a bridge advertises
func TXTRecords(mtu int, device, path string) []string {
	txt := []string{fmt.Sprintf("%s=%d", TXTKeyMTU, mtu)}
	if device != "" {
		txt = append(txt, TXTKeyDevice+"="+device)
	}
	if path != "" {
		txt = append(txt, TXTKeyPath+"="+path)
	}
	return txt
}

// Advertisement is a registered mDNS service
type Advertisement struct {
	server *zeroconf.Server
	once   sync.Once
}

// Advertise registers a bridge instance on port until Shutdown is called
func Advertise(instance string, port int, txt []string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Advertising bridge over mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
		zap.Strings("txt", txt),
	)
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement. Safe to call more than once.
func (a *Advertisement) Shutdown() {
	a.once.Do(func() {
		a.server.Shutdown()
	})
}

// QuickScan lists bridges with a custom timeout
func QuickScan(ctx context.Context, timeout time.Duration) ([]*Bridge, error) {
	scanner := NewScanner()
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.Browse(ctx)
}
