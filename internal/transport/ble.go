package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/protocol"
)

// GATT defaults used by the tracker
const (
	DefaultServiceUUID = "0000fff0-0000-1000-8000-00805f9b34fb"
	DefaultWriteUUID   = "0000fff2-0000-1000-8000-00805f9b34fb"
	DefaultNotifyUUID  = "0000fff1-0000-1000-8000-00805f9b34fb"
	DefaultScanTimeout = 10 * time.Second
	DefaultBLEMTU      = 20

	// attHeader is subtracted from the ATT MTU to get the usable payload
	attHeader = 3
)

// ErrDeviceNotFound is returned when no advertisement matched the target
var ErrDeviceNotFound = errors.New("tracker not found")

// BLEConfig selects the tracker and its GATT layout
type BLEConfig struct {
	// Target is a MAC/UUID address or an advertised local name
	Target      string
	ServiceUUID string
	WriteUUID   string
	NotifyUUID  string
	ScanTimeout time.Duration
	// MTU is used when the stack cannot report the negotiated ATT MTU
	MTU int
}

func (c *BLEConfig) withDefaults() {
	if c.ServiceUUID == "" {
		c.ServiceUUID = DefaultServiceUUID
	}
	if c.WriteUUID == "" {
		c.WriteUUID = DefaultWriteUUID
	}
	if c.NotifyUUID == "" {
		c.NotifyUUID = DefaultNotifyUUID
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.MTU <= 0 {
		c.MTU = DefaultBLEMTU
	}
}

// BLE talks to the tracker over a GATT write/notify characteristic pair
type BLE struct {
	endpoint
	adapter *bluetooth.Adapter
	device  bluetooth.Device
	address string
	name    string
	write   bluetooth.DeviceCharacteristic
	mtu     int
	closeMu sync.Mutex
	closed  bool
}

// ScanResult is one advertising tracker
type ScanResult struct {
	Address string
	Name    string
	RSSI    int16
}

// ScanBLE lists advertising devices whose name contains filter (all when
// empty) until timeout or ctx ends
func ScanBLE(ctx context.Context, filter string, timeout time.Duration) ([]ScanResult, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth: %w", err)
	}

	var (
		mu      sync.Mutex
		results []ScanResult
		seen    = make(map[string]bool)
	)
	stop := stopScanAfter(ctx, adapter, timeout)
	defer stop()

	err := adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		name := r.LocalName()
		if filter != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(filter)) {
			return
		}
		addr := r.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		results = append(results, ScanResult{Address: addr, Name: name, RSSI: r.RSSI})
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

// stopScanAfter stops the adapter's scan when timeout elapses or ctx ends.
// The returned func releases the watcher.
func stopScanAfter(ctx context.Context, adapter *bluetooth.Adapter, timeout time.Duration) func() {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	go func() {
		<-ctx.Done()
		_ = adapter.StopScan()
	}()
	return cancel
}

// DialBLE scans for the target, connects, discovers the characteristics
// and enables notifications
func DialBLE(ctx context.Context, cfg BLEConfig) (*BLE, error) {
	cfg.withDefaults()

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth: %w", err)
	}

	logging.Info("Scanning for tracker",
		zap.String("target", cfg.Target),
		zap.Duration("timeout", cfg.ScanTimeout),
	)

	var (
		found  bluetooth.ScanResult
		ok     bool
		target = strings.ToLower(cfg.Target)
	)
	stop := stopScanAfter(ctx, adapter, cfg.ScanTimeout)
	err := adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		name := strings.ToLower(r.LocalName())
		if target == "" || strings.ToLower(r.Address.String()) == target || (name != "" && name == target) {
			found = r
			ok = true
			_ = a.StopScan()
		}
	})
	stop()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q within %s", ErrDeviceNotFound, cfg.Target, cfg.ScanTimeout)
	}

	b := &BLE{
		adapter: adapter,
		address: found.Address.String(),
		name:    found.LocalName(),
	}
	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if device.Address.String() != b.address {
			return
		}
		if connected {
			b.setConnected(true)
			return
		}
		logging.Warn("Tracker disconnected", zap.String("address", b.address))
		b.markLost(errors.New("bluetooth link lost"))
	})

	logging.Info("Connecting to tracker",
		zap.String("address", b.address),
		zap.String("name", b.name),
		zap.Int16("rssi", found.RSSI),
	)
	device, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", b.address, err)
	}
	b.device = device
	b.setConnected(true)

	write, notify, err := b.characteristics(cfg)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}
	b.write = write

	b.mtu = cfg.MTU
	if att, err := write.GetMTU(); err == nil && int(att) > attHeader {
		b.mtu = int(att) - attHeader
	}
	if b.mtu <= protocol.SubPacketOverhead {
		_ = device.Disconnect()
		return nil, fmt.Errorf("%s: %w (%d)", b.address, protocol.ErrInvalidMTU, b.mtu)
	}

	if err := notify.EnableNotifications(b.onNotify); err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}

	logging.Info("Connected to tracker",
		zap.String("address", b.address),
		zap.Int("mtu", b.mtu),
	)
	return b, nil
}

// characteristics discovers the write and notify characteristics
func (b *BLE) characteristics(cfg BLEConfig) (write, notify bluetooth.DeviceCharacteristic, err error) {
	svcUUID, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return write, notify, fmt.Errorf("invalid service UUID %q: %w", cfg.ServiceUUID, err)
	}
	writeUUID, err := bluetooth.ParseUUID(cfg.WriteUUID)
	if err != nil {
		return write, notify, fmt.Errorf("invalid write UUID %q: %w", cfg.WriteUUID, err)
	}
	notifyUUID, err := bluetooth.ParseUUID(cfg.NotifyUUID)
	if err != nil {
		return write, notify, fmt.Errorf("invalid notify UUID %q: %w", cfg.NotifyUUID, err)
	}

	services, err := b.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return write, notify, fmt.Errorf("service %s not found: %v", cfg.ServiceUUID, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil {
		return write, notify, fmt.Errorf("failed to discover characteristics: %w", err)
	}
	var haveWrite, haveNotify bool
	for _, c := range chars {
		switch c.UUID() {
		case writeUUID:
			write, haveWrite = c, true
		case notifyUUID:
			notify, haveNotify = c, true
		}
	}
	if !haveWrite || !haveNotify {
		return write, notify, fmt.Errorf("characteristics missing (write=%v notify=%v)", haveWrite, haveNotify)
	}
	return write, notify, nil
}

func (b *BLE) onNotify(data []byte) {
	unit := append([]byte(nil), data...)
	logging.LogLink("rx", "ble", unit)
	b.deliver(unit)
}

// Write sends one unit with WriteWithoutResponse
func (b *BLE) Write(p []byte) error {
	if !b.IsConnected() {
		return protocol.ErrNotConnected
	}
	if _, err := b.write.WriteWithoutResponse(p); err != nil {
		return fmt.Errorf("ble write failed: %w", err)
	}
	logging.LogLink("tx", "ble", p)
	return nil
}

// MaxPayloadSize returns ATT MTU minus the ATT header
func (b *BLE) MaxPayloadSize() int { return b.mtu }

// Address returns the connected tracker's address
func (b *BLE) Address() string { return b.address }

// Name returns the tracker's advertised name
func (b *BLE) Name() string { return b.name }

// Close disconnects from the tracker
func (b *BLE) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.setConnected(false)
	err := b.device.Disconnect()
	b.markLost(nil)
	return err
}
