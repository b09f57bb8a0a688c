package discovery

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantMTU  int
	}{
		{
			name: "bridge with IPv4 and mtu",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bench"},
				HostName:      "bench.local.",
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"mtu=20", "device=GT-03"},
			},
			wantIP:   "192.168.4.16",
			wantPort: 8765,
			wantMTU:  20,
		},
		{
			name: "no port specified (should default)",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bench"},
				HostName:      "bench.local",
				AddrIPv4:      []net.IP{net.ParseIP("172.16.0.1")},
			},
			wantIP:   "172.16.0.1",
			wantPort: DefaultPort,
		},
		{
			name: "unparseable mtu is zero",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bench"},
				Port:          9000,
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
				Text:          []string{"mtu=big"},
			},
			wantIP:   "10.0.0.5",
			wantPort: 9000,
		},
		{
			name: "IPv6 only bridge",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bench6"},
				Port:          8765,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			wantIP:   "fe80::1",
			wantPort: 8765,
		},
		{
			name: "both families (should prefer IPv4)",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "dual"},
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6:      []net.IP{net.ParseIP("fe80::2")},
			},
			wantIP:   "192.168.1.50",
			wantPort: 8765,
		},
		{
			name: "no IP address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bench"},
				Port:          8765,
			},
			wantNil: true,
		},
		{
			name: "empty instance",
			entry: &zeroconf.ServiceEntry{
				Port:     8765,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := scanner.parseServiceEntry(tt.entry)

			if tt.wantNil {
				if bridge != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", bridge)
				}
				return
			}
			if bridge == nil {
				t.Fatal("parseServiceEntry() = nil, want bridge")
			}
			if bridge.IP != tt.wantIP {
				t.Errorf("bridge.IP = %v, want %v", bridge.IP, tt.wantIP)
			}
			if bridge.Port != tt.wantPort {
				t.Errorf("bridge.Port = %v, want %v", bridge.Port, tt.wantPort)
			}
			if bridge.MTU != tt.wantMTU {
				t.Errorf("bridge.MTU = %v, want %v", bridge.MTU, tt.wantMTU)
			}
			if bridge.Instance != tt.entry.Instance {
				t.Errorf("bridge.Instance = %v, want %v", bridge.Instance, tt.entry.Instance)
			}
			if time.Since(bridge.DiscoveredAt) > time.Second {
				t.Errorf("bridge.DiscoveredAt is not recent: %v", bridge.DiscoveredAt)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"mtu=20", "device=GT-03", "flag", "path=/a=b"})
	want := map[string]string{
		"mtu":    "20",
		"device": "GT-03",
		"flag":   "",
		"path":   "/a=b",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseTXT() = %v, want %v", got, want)
	}
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		name   string
		mtu    int
		device string
		path   string
		want   []string
	}{
		{name: "all fields", mtu: 20, device: "GT-03", path: "/link", want: []string{"mtu=20", "device=GT-03", "path=/link"}},
		{name: "mtu only", mtu: 185, want: []string{"mtu=185"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TXTRecords(tt.mtu, tt.device, tt.path)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TXTRecords() = %v, want %v", got, tt.want)
			}
			if back := ParseTXT(got); back[TXTKeyDevice] != tt.device {
				t.Errorf("device did not round trip: %v", back)
			}
		})
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner == nil {
		t.Fatal("NewScanner() = nil, want scanner")
	}
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}

// Note: live mDNS browsing needs a multicast-capable network and is
// exercised manually with `minilink bridges` against `minilink-sim serve --advertise`.
