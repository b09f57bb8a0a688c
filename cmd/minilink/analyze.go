package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/protocol"
	"github.com/muurk/minilink/internal/simulator"
)

var analyzeDump bool

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDump, "dump", false, "Include a hex dump of each payload")
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture.jsonl>",
	Short: "Summarise a simulator frame capture",
	Long: `Re-parse every frame in a capture written by 'minilink-sim serve
--capture', check its CRC, and print the decoded report or response.`,
	Example: `  minilink analyze captures/capture-20260314-092653.jsonl --dump`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return analyzeCapture(f, cmd.OutOrStdout(), analyzeDump)
	},
}

// captureStats counts what analyzeCapture saw
type captureStats struct {
	frames   int
	bad      int
	commands map[string]int
}

// analyzeCapture prints one block per captured frame followed by totals.
// Lines that are not valid records are reported and skipped.
func analyzeCapture(r io.Reader, out io.Writer, dump bool) error {
	stats := captureStats{commands: make(map[string]int)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec simulator.FrameRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			fmt.Fprintf(out, "line %d: not a frame record: %v\n", line, err)
			stats.bad++
			continue
		}
		stats.frames++

		raw, err := hex.DecodeString(rec.RawHex)
		if err != nil {
			fmt.Fprintf(out, "line %d: bad raw_frame_hex: %v\n", line, err)
			stats.bad++
			continue
		}

		fmt.Fprintf(out, "#%d %s %s %s\n", stats.frames, rec.Timestamp.Format("15:04:05.000"), rec.Direction, rec.RemoteAddr)
		frame, err := protocol.ParseFrame(raw)
		if err != nil {
			fmt.Fprintf(out, "  invalid frame: %v\n", err)
			stats.bad++
			continue
		}
		stats.commands[frame.Command.String()]++
		fmt.Fprintf(out, "  %s\n", frame)
		if rec.Decoded != "" {
			fmt.Fprintf(out, "  %s\n", rec.Decoded)
		}
		if dump && len(frame.Payload) > 0 {
			fmt.Fprintf(out, "  payload %s\n", logging.HexDump(frame.Payload))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d frames, %d unreadable\n", stats.frames, stats.bad)
	for _, name := range slices.Sorted(maps.Keys(stats.commands)) {
		fmt.Fprintf(out, "  %-20s %d\n", name, stats.commands[name])
	}
	return nil
}
