package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/firmware"
	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/ui"
)

var (
	upgradeVersion string
	upgradeYes     bool
)

func init() {
	upgradeCmd.Flags().StringVar(&upgradeVersion, "fw-version", "", "Version of the image, as a.b.c.d (required)")
	upgradeCmd.Flags().BoolVarP(&upgradeYes, "yes", "y", false, "Skip the confirmation prompt")
	upgradeCmd.MarkFlagRequired("fw-version")

	rootCmd.AddCommand(upgradeCmd)
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <image>",
	Short: "Upgrade the tracker firmware",
	Long: `Send a firmware image to the tracker.

The image is announced with its size and MD5, streamed in chunks, and
committed. Chunks the tracker rejects are retried; a tracker that reports
it is still busy is polled. Press q during the transfer to cancel.

A failed upgrade leaves the running firmware in place; run the command
again to retry from the start.`,
	Example: `  minilink upgrade gt03-1.2.3.4.bin --fw-version 1.2.3.4 --ble GT-03`,
	Args:    cobra.ExactArgs(1),
	RunE:    runUpgrade,
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	version, err := firmware.ParseVersion(upgradeVersion)
	if err != nil {
		return err
	}
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read firmware image: %w", err)
	}
	if len(image) == 0 {
		return firmware.ErrEmptyImage
	}

	if !upgradeYes && !ui.FirmwareUpgradeConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), upgradeVersion, len(image)) {
		return errors.New("upgrade not confirmed")
	}

	cfg := settings.FirmwareConfig()
	printer := ui.NewPrinter(cmd.OutOrStdout())

	return withSession(cmd, func(ctx context.Context, s *session) error {
		printer.PrintHeader("Firmware Upgrade",
			ui.Detail{Key: "Tracker", Value: s.key},
			ui.Detail{Key: "Transport", Value: s.kind},
			ui.Detail{Key: "Image", Value: fmt.Sprintf("%s (%d bytes)", args[0], len(image))},
			ui.Detail{Key: "Version", Value: upgradeVersion},
		)

		upgrader := firmware.New(s, cfg)
		chunks := firmware.ChunkCount(len(image), upgrader.Config().ChunkSize)
		started := time.Now()

		err := ui.RunUpgrade(ctx, cmd.OutOrStdout(), chunks, func(ctx context.Context, onProgress func(int)) error {
			return upgrader.Run(ctx, version, image, onProgress)
		})
		if err != nil {
			logging.Error("Firmware upgrade failed", zap.Error(err))
			printer.PrintFailure("Upgrade failed", err, upgradeTips(err))
			return err
		}

		s.remember(0, upgradeVersion)
		printer.PrintSuccess("Upgrade complete",
			ui.Detail{Key: "Version", Value: upgradeVersion},
			ui.Detail{Key: "Chunks", Value: fmt.Sprintf("%d", chunks)},
			ui.Detail{Key: "Duration", Value: time.Since(started).Round(time.Second).String()},
		)
		return nil
	})
}

// upgradeTips suggests what to try after a failed upgrade
func upgradeTips(err error) []string {
	var f *firmware.Failure
	if !errors.As(err, &f) {
		return nil
	}
	tips := []string{f.Reason}
	switch {
	case errors.Is(err, firmware.ErrUpgradeCancelled):
		tips = append(tips, "The tracker keeps its current firmware; run the upgrade again when ready")
	case errors.Is(err, firmware.ErrUpgradeRejected):
		tips = append(tips, "Check the image and version match this tracker model")
	case f.Phase == firmware.PhaseTransfer:
		tips = append(tips,
			"Move the tracker closer or use a wired connection",
			"Lower firmware.chunk_size in the config file")
	}
	return tips
}
