// Package ui provides terminal output for the minilink CLI.
//
// Components are rendered with Lipgloss:
//
//   - RenderHeader: operation banner with parameters
//   - Result: success/failure/warning boxes with ordered details
//   - RenderMessage: a decoded tracker report as aligned key/value lines
//   - Progress: firmware upgrade bar with negotiate/transfer/commit steps
//
// RunUpgrade drives a Bubble Tea program showing Progress while the
// upgrade runs, and lets the user cancel with q or ctrl+c. When stdout is
// not a terminal it prints one plain line per progress update instead.
//
// Logging is silent unless MINILINK_LOG_LEVEL is set, so zap output does
// not interleave with these components.
package ui
