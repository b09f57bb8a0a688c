package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/discovery"
	"github.com/muurk/minilink/internal/link"
	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/messages"
	"github.com/muurk/minilink/internal/protocol"
	"github.com/muurk/minilink/internal/transport"
	"github.com/muurk/minilink/internal/ui"
)

var (
	replyTimeout time.Duration
	scanFilter   string
)

func init() {
	rootCmd.PersistentFlags().DurationVar(&replyTimeout, "timeout", 0, "Reply timeout (default from config)")
	scanCmd.Flags().StringVar(&scanFilter, "filter", "", "Only list devices whose name contains this text")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(unbindCmd)
	rootCmd.AddCommand(sosCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(intervalCmd)
	rootCmd.AddCommand(syncTimeCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(scanCmd)
}

// linkTransport is what every concrete transport provides
type linkTransport interface {
	link.Transport
	Close() error
}

// session is an open link to one tracker
type session struct {
	*link.Dispatcher
	transport linkTransport
	key       string // Device registry key
	kind      string // ble, serial or bridge
}

// connect opens the transport selected by flags or config and starts a
// dispatcher on it
func connect(ctx context.Context) (*session, error) {
	var (
		t    linkTransport
		key  string
		kind string
	)

	switch {
	case serialPort != "" || (bleTarget == "" && bridgeURL == "" && settings.Serial.Port != ""):
		cfg := settings.SerialConfig(serialPort)
		s, err := transport.OpenSerial(cfg)
		if err != nil {
			return nil, err
		}
		t, key, kind = s, cfg.Port, "serial"

	case bleTarget != "" || (bridgeURL == "" && settings.BLE.Target != ""):
		b, err := transport.DialBLE(ctx, settings.BLEConfig(bleTarget))
		if err != nil {
			return nil, err
		}
		t, key, kind = b, b.Address(), "ble"

	default:
		url, err := resolveBridge(ctx)
		if err != nil {
			return nil, err
		}
		ws, err := transport.DialWebSocket(ctx, url, settings.Link.MTU)
		if err != nil {
			return nil, err
		}
		t, key, kind = ws, ws.URL(), "bridge"
	}

	opts := settings.LinkOptions()
	if mtu > 0 {
		opts = append(opts, link.WithMTUOverride(mtu))
	}
	logging.Info("Connected to tracker",
		zap.String("transport", kind),
		zap.String("key", key),
		zap.Int("mtu", t.MaxPayloadSize()))

	return &session{
		Dispatcher: link.New(t, opts...),
		transport:  t,
		key:        key,
		kind:       kind,
	}, nil
}

// resolveBridge returns the bridge URL from flags or config, or browses
// mDNS for the first bridge on the network
func resolveBridge(ctx context.Context) (string, error) {
	if bridgeURL != "" {
		return bridgeURL, nil
	}
	if settings.Bridge.URL != "" {
		return settings.Bridge.URL, nil
	}

	bridges, err := discovery.QuickScan(ctx, settings.Bridge.MDNSTimeout)
	if err != nil {
		return "", err
	}
	if len(bridges) == 0 {
		return "", errors.New("no transport selected and no bridge found on the network; pass --ble, --serial or --bridge")
	}
	logging.Info("Using discovered bridge", zap.String("bridge", bridges[0].String()))
	return bridges[0].URL(), nil
}

func (s *session) Close() {
	s.Dispatcher.Close()
	if err := s.transport.Close(); err != nil {
		logging.Debug("Transport close failed", zap.Error(err))
	}
}

// remember records the tracker in the device registry
func (s *session) remember(deviceID uint64, firmwareVersion string) {
	settings.RecordDevice(s.key, s.kind, deviceID, firmwareVersion)
	if err := settings.Save(configPath); err != nil {
		logging.Warn("Failed to save device registry", zap.Error(err))
	}
}

// query sends a report request and waits for the matching report
func (s *session) query(ctx context.Context, command, report protocol.Command) (messages.Message, error) {
	timeout := replyTimeout
	if timeout <= 0 {
		timeout = settings.Link.ReplyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.Send(ctx, command, nil); err != nil {
		return nil, err
	}
	for {
		select {
		case m, ok := <-s.Messages():
			if !ok {
				return nil, link.ErrClosed
			}
			if m.Type() == report {
				return m, nil
			}
			logging.Debug("Skipping unrelated report", zap.Stringer("type", m.Type()))
		case <-ctx.Done():
			return nil, fmt.Errorf("no %s report: %w", report, ctx.Err())
		}
	}
}

// withSession runs fn on a freshly connected session
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// requestCommand builds a RunE that sends one reply-bearing command
func requestCommand(command protocol.Command, payloadFn func(args []string) ([]byte, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		payload, err := payloadFn(args)
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			reply, err := s.Request(ctx, command, payload, replyTimeout)
			if err != nil {
				return err
			}
			if reply.Status() != protocol.StatusSuccess {
				return fmt.Errorf("%s rejected by tracker: %s", command, reply.Status())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s acknowledged (%s)\n",
				ui.SuccessMarker, command, reply.Latency.Round(time.Millisecond))
			s.remember(0, "")
			return nil
		})
	}
}

func noPayload([]string) ([]byte, error) { return nil, nil }

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show tracker identity and versions",
	Example: `  minilink info --ble GT-03
  minilink info --serial /dev/ttyUSB0`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			m, err := s.query(ctx, protocol.CmdQueryDeviceInfo, protocol.CmdDeviceInfo)
			if err != nil {
				return err
			}
			info := m.(*messages.DeviceInfo)
			s.remember(info.DeviceID, info.FirmwareVersion.String())
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMessage(info))
			if !info.Bound {
				ui.NewPrinter(cmd.OutOrStdout()).PrintWarning("Tracker is not bound",
					ui.Detail{Key: "Next step", Value: "minilink bind <phone>"})
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show battery, position and reporting state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			m, err := s.query(ctx, protocol.CmdQueryStatus, protocol.CmdStatusReport)
			if err != nil {
				return err
			}
			s.remember(0, "")
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMessage(m))
			return nil
		})
	},
}

var bindCmd = &cobra.Command{
	Use:     "bind <phone>",
	Short:   "Bind the tracker to a phone number",
	Example: `  minilink bind 13800138000 --ble GT-03`,
	Args:    cobra.ExactArgs(1),
	RunE: requestCommand(protocol.CmdBind, func(args []string) ([]byte, error) {
		return messages.BindPayload(args[0])
	}),
}

var unbindCmd = &cobra.Command{
	Use:   "unbind",
	Short: "Remove the tracker's phone binding",
	Args:  cobra.NoArgs,
	RunE:  requestCommand(protocol.CmdUnbind, noPayload),
}

var sosCmd = &cobra.Command{
	Use:     "sos <phone>",
	Short:   "Set the number called on SOS",
	Example: `  minilink sos "+86 139 0013 900"`,
	Args:    cobra.ExactArgs(1),
	RunE: requestCommand(protocol.CmdSetSOSNumber, func(args []string) ([]byte, error) {
		return messages.SOSNumberPayload(args[0])
	}),
}

var modeCmd = &cobra.Command{
	Use:       "mode <normal|powerSaving|realtime>",
	Short:     "Set the tracker work mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"normal", "powerSaving", "realtime"},
	RunE: requestCommand(protocol.CmdSetWorkMode, func(args []string) ([]byte, error) {
		mode, err := messages.ParseWorkMode(args[0])
		if err != nil {
			return nil, err
		}
		return messages.WorkModePayload(mode), nil
	}),
}

var intervalCmd = &cobra.Command{
	Use:     "interval <duration>",
	Short:   "Set the position report interval",
	Example: `  minilink interval 5m`,
	Args:    cobra.ExactArgs(1),
	RunE: requestCommand(protocol.CmdSetReportInterval, func(args []string) ([]byte, error) {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return nil, err
		}
		if d < time.Second {
			return nil, fmt.Errorf("interval %s is shorter than one second", d)
		}
		return messages.ReportIntervalPayload(d), nil
	}),
}

var syncTimeCmd = &cobra.Command{
	Use:   "sync-time",
	Short: "Set the tracker clock to this host's time",
	Args:  cobra.NoArgs,
	RunE: requestCommand(protocol.CmdSyncTime, func([]string) ([]byte, error) {
		return messages.SyncTimePayload(time.Now()), nil
	}),
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Make the tracker beep",
	Args:  cobra.NoArgs,
	RunE:  requestCommand(protocol.CmdFindDevice, noPayload),
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print reports as the tracker sends them",
	Long: `Print status, alarm and position reports as they arrive, until
interrupted or the link drops.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Monitoring %s over %s (Ctrl+C to stop)\n", s.key, s.kind)
			for {
				select {
				case m, ok := <-s.Messages():
					if !ok {
						return nil
					}
					if info, isInfo := m.(*messages.DeviceInfo); isInfo {
						s.remember(info.DeviceID, info.FirmwareVersion.String())
					}
					fmt.Fprintln(out, ui.RenderMessage(m))
				case <-ctx.Done():
					return nil
				}
				if !s.Connected() {
					return link.ErrDisconnected
				}
			}
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby BLE trackers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := transport.ScanBLE(cmd.Context(), scanFilter, settings.BLE.ScanTimeout)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No devices found.")
			return nil
		}
		for _, r := range results {
			name := r.Name
			if d := settings.GetDevice(r.Address); d != nil && d.Nickname != "" {
				name = fmt.Sprintf("%s (%s)", name, d.Nickname)
			}
			fmt.Fprintf(out, "%-20s %4d dBm  %s\n", r.Address, r.RSSI, name)
		}
		return nil
	},
}
