// Minilink talks to BLE GPS/SOS trackers.
//
// It queries and configures a tracker, streams its reports and upgrades
// its firmware over Bluetooth LE, a UART, or a WebSocket bridge. It also
// encodes and decodes raw frames offline.
//
// Usage:
//
//	minilink [command] [flags]
//
// See 'minilink --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/minilink/internal/config"
	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	bleTarget  string
	serialPort string
	bridgeURL  string
	mtu        int
	logLevel   string

	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "minilink",
	Short: "GPS/SOS tracker link utility",
	Long: `A utility for talking to BLE GPS/SOS trackers.

Connects over Bluetooth LE (--ble), a serial port (--serial) or a
WebSocket bridge (--bridge). With none of these, the first bridge found
over mDNS is used.

Settings are read from the config file (see 'minilink config path');
flags override them. Set MINILINK_LOG_LEVEL or --log-level to see
protocol logs.`,
	Version:           version.Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default: platform config directory)")
	rootCmd.PersistentFlags().StringVar(&bleTarget, "ble", "", "Tracker BLE address or advertised name")
	rootCmd.PersistentFlags().StringVar(&serialPort, "serial", "", "Serial port of a UART-attached tracker")
	rootCmd.PersistentFlags().StringVar(&bridgeURL, "bridge", "", "WebSocket bridge URL (ws://host:port/link)")
	rootCmd.PersistentFlags().IntVar(&mtu, "mtu", 0, "Override the transport unit size in bytes")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}
	s, err := config.Load(configPath)
	if err != nil {
		return err
	}
	settings = s
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "minilink %s\n%s\n", version.Full(), version.Platform())
	},
}
