package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		env       string
		wantDebug bool
		wantInfo  bool
	}{
		{name: "silent by default", level: "", env: "", wantDebug: false, wantInfo: false},
		{name: "explicit debug", level: "debug", wantDebug: true, wantInfo: true},
		{name: "explicit warn", level: "warn", wantDebug: false, wantInfo: false},
		{name: "from environment", level: "", env: "info", wantDebug: false, wantInfo: true},
		{name: "unknown level falls back to info", level: "chatty", wantDebug: false, wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(LogLevelEnvVar, tt.env)
			if err := Initialize(tt.level); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			defer SetLogger(nil)

			core := GetLogger().Core()
			if got := core.Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := core.Enabled(zapcore.InfoLevel); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
		})
	}
}

func TestHexDump(t *testing.T) {
	if got := HexDump(nil); got != "" {
		t.Errorf("HexDump(nil) = %q, want empty", got)
	}
	if got := HexDump([]byte{0xAA, 0x55}); got != "aa55" {
		t.Errorf("HexDump() = %q, want aa55", got)
	}

	long := make([]byte, 300)
	got := HexDump(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long dump should be truncated, got suffix %q", got[len(got)-5:])
	}
	if len(got) != 2*maxDumpBytes+3 {
		t.Errorf("long dump length = %d, want %d", len(got), 2*maxDumpBytes+3)
	}
}

func TestLogLink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogLink("tx", "subpacket", []byte{0xFA, 0xF5})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["direction"] != "tx" {
		t.Errorf("direction = %v, want tx", fields["direction"])
	}
	if fields["hex"] != "faf5" {
		t.Errorf("hex = %v, want faf5", fields["hex"])
	}
}

func TestAsciiDump(t *testing.T) {
	got := asciiDump([]byte{'O', 'K', 0x0D, 0x0A})
	if got != "OK.." {
		t.Errorf("asciiDump() = %q, want %q", got, "OK..")
	}
}
