// Minilink-sim is a simulated GPS/SOS tracker behind a WebSocket bridge.
//
// Each WebSocket connection gets its own simulated tracker that answers
// queries, applies configuration commands and accepts firmware upgrades,
// so the minilink CLI can be exercised without hardware. The bridge can
// advertise itself over mDNS and capture every frame for analysis.
//
// Usage:
//
//	minilink-sim serve [flags]
//
// See 'minilink-sim serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/minilink/internal/discovery"
	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/simulator"
	"github.com/muurk/minilink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "minilink-sim",
	Short: "Simulated tracker behind a WebSocket bridge",
	Long: `A simulated GPS/SOS tracker served over a WebSocket bridge.

Point 'minilink --bridge ws://host:port/link' at it, or let minilink find
it over mDNS when --advertise is set.`,
	Version: version.Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	host        string
	port        int
	path        string
	mtu         int
	deviceName  string
	deviceID    uint64
	advertise   bool
	captureDir  string
	certPath    string
	keyPath     string
	statusEvery time.Duration
	logLevel    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulator bridge",
	Long: `Start the WebSocket bridge. Every connection gets a fresh simulated
tracker with the given name and id.

The bridge announces its unit size in the X-Minilink-MTU upgrade header so
clients fragment frames exactly as they would for a BLE link.

To capture frames for analysis with 'minilink analyze', use --capture to
name a directory for JSON Lines capture files.`,
	Example: `  # Plain ws:// on the default port, advertised over mDNS
  minilink-sim serve --advertise

  # BLE-sized units, periodic status reports and frame capture
  minilink-sim serve --mtu 20 --status-every 30s --capture ./captures

  # wss:// with your own certificate
  minilink-sim serve --cert cert.pem --key key.pem --port 8443`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", "", "Listen address (empty = all interfaces)")
	serveCmd.Flags().IntVar(&port, "port", discovery.DefaultPort, "Listen port")
	serveCmd.Flags().StringVar(&path, "path", discovery.DefaultPath, "WebSocket endpoint path")
	serveCmd.Flags().IntVar(&mtu, "mtu", simulator.DefaultMTU, "Transport unit size announced to clients")
	serveCmd.Flags().StringVar(&deviceName, "device-name", "minilink-sim", "Simulated tracker name, also the mDNS instance")
	serveCmd.Flags().Uint64Var(&deviceID, "device-id", 860000000000001, "Simulated tracker id")
	serveCmd.Flags().BoolVar(&advertise, "advertise", false, "Advertise the bridge over mDNS")
	serveCmd.Flags().StringVar(&captureDir, "capture", "", "Directory for frame captures (disabled if not specified)")
	serveCmd.Flags().StringVar(&certPath, "cert", "", "TLS certificate file (serves wss:// with --key)")
	serveCmd.Flags().StringVar(&keyPath, "key", "", "TLS private key file")
	serveCmd.Flags().DurationVar(&statusEvery, "status-every", 0, "Send unsolicited status reports at this period")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if (certPath == "") != (keyPath == "") {
		return fmt.Errorf("both --cert and --key must be provided together, or neither")
	}
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}
	defer logging.Sync()

	srv, err := simulator.NewServer(simulator.Config{
		Host:        host,
		Port:        port,
		Path:        path,
		MTU:         mtu,
		DeviceName:  deviceName,
		DeviceID:    deviceID,
		CertPath:    certPath,
		KeyPath:     keyPath,
		Advertise:   advertise,
		CaptureDir:  captureDir,
		StatusEvery: statusEvery,
	})
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("minilink-sim %s\n", version.Full())
	},
}
