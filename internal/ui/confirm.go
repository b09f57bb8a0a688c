package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmPhrase must be typed to approve a dangerous operation
const ConfirmPhrase = "I AGREE"

// ConfirmDangerousOperation shows a warning box on out and reads one line
// from in. It returns true only if the line is ConfirmPhrase.
func ConfirmDangerousOperation(in io.Reader, out io.Writer, title string, warnings []string, disclaimer string) bool {
	width := GetTerminalWidth()

	lines := []string{"", WarningTitleStyle.Render(fmt.Sprintf("%s  WARNING  ─  %s", WarningMarker, title)), ""}
	for _, w := range warnings {
		lines = append(lines, ResultValueStyle.Render("• "+w))
	}
	lines = append(lines, "")
	if disclaimer != "" {
		lines = append(lines, StepNoteStyle.Width(width-12).Render(disclaimer), "")
	}

	_, _ = fmt.Fprintln(out, boxStyle(WarningColor, width).Render(strings.Join(lines, "\n")))
	_, _ = fmt.Fprintln(out)

	prompt := lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	_, _ = fmt.Fprint(out, prompt.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", ConfirmPhrase)))

	input, err := bufio.NewReader(in).ReadString('\n')
	_, _ = fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}
	if strings.TrimSpace(input) == ConfirmPhrase {
		return true
	}
	_, _ = fmt.Fprintln(out, StepPendingStyle.Render("  Operation cancelled."))
	return false
}

// FirmwareUpgradeConfirmation asks before flashing version to the tracker
func FirmwareUpgradeConfirmation(in io.Reader, out io.Writer, version string, size int) bool {
	return ConfirmDangerousOperation(in, out,
		"FIRMWARE UPGRADE",
		[]string{
			fmt.Sprintf("This writes firmware %s (%d bytes) to the tracker", version, size),
			"Charge the tracker above 30% before proceeding",
			"Keep the tracker within range until the upgrade completes",
			"Do not power off the tracker during the transfer",
		},
		"DISCLAIMER: This software is provided as-is, without warranty of any kind. "+
			"An interrupted or mismatched upgrade may leave the tracker unusable.",
	)
}
