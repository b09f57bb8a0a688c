package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/minilink/internal/config"
	"github.com/muurk/minilink/internal/discovery"
)

var (
	bridgesTimeout time.Duration
	bridgesWait    string
	nickname       string
)

func init() {
	bridgesCmd.Flags().DurationVar(&bridgesTimeout, "scan-timeout", 0, "How long to browse (default from config)")
	bridgesCmd.Flags().StringVar(&bridgesWait, "wait-for", "", "Keep browsing until a bridge with this instance name appears")

	configNameCmd.Flags().StringVar(&nickname, "nickname", "", "Nickname to store (empty clears it)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configNameCmd)

	rootCmd.AddCommand(bridgesCmd)
	rootCmd.AddCommand(configCmd)
}

var bridgesCmd = &cobra.Command{
	Use:   "bridges",
	Short: "List WebSocket bridges advertised over mDNS",
	Example: `  minilink bridges
  minilink bridges --wait-for bench-sim --scan-timeout 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := bridgesTimeout
		if timeout <= 0 {
			timeout = settings.Bridge.MDNSTimeout
		}
		out := cmd.OutOrStdout()

		if bridgesWait != "" {
			scanner := discovery.NewScanner()
			scanner.Timeout = timeout
			b, err := scanner.WaitForBridge(cmd.Context(), bridgesWait)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n  %s\n", b, b.URL())
			return nil
		}

		bridges, err := discovery.QuickScan(cmd.Context(), timeout)
		if err != nil {
			return err
		}
		if len(bridges) == 0 {
			fmt.Fprintln(out, "No bridges found.")
			return nil
		}
		for _, b := range bridges {
			fmt.Fprintf(out, "%s\n  %s\n", b, b.URL())
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the settings file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPath()
		if err != nil {
			return err
		}
		created, err := config.CreateDefaultConfig(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configNameCmd = &cobra.Command{
	Use:     "name <device-key>",
	Short:   "Set the nickname of a known tracker",
	Example: `  minilink config name AA:BB:CC:DD:EE:FF --nickname "Dad's bike"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if settings.GetDevice(args[0]) == nil {
			return fmt.Errorf("unknown tracker %q; connect to it once first", args[0])
		}
		settings.SetDeviceNickname(args[0], nickname)
		return settings.Save(configPath)
	},
}

func settingsPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}
