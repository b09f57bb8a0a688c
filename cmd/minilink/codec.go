package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/minilink/internal/messages"
	"github.com/muurk/minilink/internal/protocol"
	"github.com/muurk/minilink/internal/transport"
	"github.com/muurk/minilink/internal/ui"
)

var encodeSerial uint32

func init() {
	encodeCmd.Flags().Uint32Var(&encodeSerial, "serial-no", 1, "Frame serial number")

	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
}

var encodeCmd = &cobra.Command{
	Use:   "encode <command> [payload-hex]",
	Short: "Build a frame and its sub-packets",
	Long: `Build the frame for a command and split it into sub-packets for the
given unit size. The command is a name (e.g. Bind, FirmwareChunk) or a
hex code (0x0026).`,
	Example: `  # Find-device frame for a 20-byte BLE link
  minilink encode FindDevice

  # Bind frame carrying a BCD phone number, 64-byte units
  minilink encode Bind 013800138000 --mtu 64`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEncode,
}

func runEncode(cmd *cobra.Command, args []string) error {
	command, err := protocol.ParseCommand(args[0])
	if err != nil {
		return err
	}
	var payload []byte
	if len(args) == 2 {
		if payload, err = parseHex(args[1]); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	frame, err := protocol.BuildFrame(encodeSerial, command, payload)
	if err != nil {
		return err
	}
	raw := frame.Bytes()

	unit := mtu
	if unit <= 0 {
		unit = settings.Link.MTU
	}
	if unit <= 0 {
		unit = transport.DefaultBLEMTU
	}
	packets, err := protocol.Fragment(raw, unit, encodeSerial)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s serial=%d crc=0x%04x\n", command, frame.Serial, frame.Checksum)
	fmt.Fprintf(out, "frame (%d bytes): %s\n", len(raw), hex.EncodeToString(raw))
	fmt.Fprintf(out, "sub-packets (mtu %d):\n", unit)
	for _, sp := range packets {
		fmt.Fprintf(out, "  %-6s id=%-4d %s\n", sp.Status, sp.PacketID, hex.EncodeToString(sp.Bytes()))
	}
	return nil
}

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode frames and sub-packets",
	Long: `Decode one frame, or a sequence of sub-packets that reassemble into
frames. Application reports are decoded into their fields; responses show
the acknowledged serial and status.`,
	Example: `  # A single frame
  minilink decode aa5500000001000000260a3e0d0a

  # Sub-packets, one argument each
  minilink decode faf501000000010b00aa55... faf503000000020300...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	reassembler := protocol.NewReassembler()

	for i, arg := range args {
		b, err := parseHex(arg)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}

		switch {
		case protocol.IsSubPacket(b):
			sp, err := protocol.ParseSubPacket(b)
			if err != nil {
				return fmt.Errorf("argument %d: %w", i+1, err)
			}
			fmt.Fprintf(out, "%s data=%s\n", sp, hex.EncodeToString(sp.Data))
			raw, err := reassembler.Feed(sp)
			if err != nil {
				return fmt.Errorf("argument %d: %w", i+1, err)
			}
			if raw != nil {
				if err := describeFrame(out, raw); err != nil {
					return err
				}
			}

		case protocol.IsFrame(b):
			if err := describeFrame(out, b); err != nil {
				return err
			}

		default:
			return fmt.Errorf("argument %d: neither a frame (aa55) nor a sub-packet (faf5)", i+1)
		}
	}

	if reassembler.InProgress() {
		fmt.Fprintln(out, "incomplete: reassembly still waiting for an end sub-packet")
	}
	return nil
}

func describeFrame(out io.Writer, raw []byte) error {
	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s payload=%s\n", frame, hex.EncodeToString(frame.Payload))

	if frame.Command.ExpectsReply() {
		// Commands and their responses share a code; a 5-byte payload is
		// read as a response.
		if resp, ok := frame.AsResponse(); ok {
			fmt.Fprintln(out, resp)
		}
		return nil
	}

	m, err := messages.Decode(frame)
	if err != nil {
		fmt.Fprintf(out, "not decoded: %v\n", err)
		return nil
	}
	fmt.Fprintln(out, ui.RenderMessage(m))
	return nil
}

// parseHex accepts hex with optional spaces, colons or a 0x prefix
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	return hex.DecodeString(s)
}
