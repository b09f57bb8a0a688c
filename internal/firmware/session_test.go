package firmware

import (
	"errors"
	"testing"
	"time"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size, chunk, want int
	}{
		{5000, 512, 10},
		{512, 512, 1},
		{513, 512, 2},
		{1, 512, 1},
		{0, 512, 0},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.size, tt.chunk); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.size, tt.chunk, got, tt.want)
		}
	}
}

func TestSessionChunks(t *testing.T) {
	image := testImage(1300)
	s := newSession(testVersion, image, 512)

	if s.chunks != 3 {
		t.Fatalf("chunks = %d, want 3", s.chunks)
	}
	sizes := []int{512, 512, 276}
	for i, want := range sizes {
		if got := len(s.chunk(i)); got != want {
			t.Errorf("chunk(%d) = %d bytes, want %d", i, got, want)
		}
		index, data, err := ParseChunkPayload(s.chunkPayload(i))
		if err != nil {
			t.Fatalf("ParseChunkPayload(%d) error = %v", i, err)
		}
		if int(index) != i || len(data) != want {
			t.Errorf("payload %d decoded as index %d with %d bytes", i, index, len(data))
		}
	}
}

func TestSessionProgress(t *testing.T) {
	s := newSession(testVersion, testImage(5000), 512)
	last := 10
	for done := 1; done <= s.chunks; done++ {
		p := s.progress(done)
		if p <= last && p != 99 {
			t.Errorf("progress(%d) = %d, not above %d", done, p, last)
		}
		if p > 99 {
			t.Errorf("progress(%d) = %d, want at most 99", done, p)
		}
		last = p
	}
	if got := s.progress(s.chunks); got != 99 {
		t.Errorf("progress after last chunk = %d, want 99", got)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    [4]byte
		wantErr bool
	}{
		{in: "1.2.3.4", want: [4]byte{1, 2, 3, 4}},
		{in: "v2.0.10.255", want: [4]byte{2, 0, 10, 255}},
		{in: " 0.0.0.1 ", want: [4]byte{0, 0, 0, 1}},
		{in: "1.2.3", wantErr: true},
		{in: "1.2.3.4.5", wantErr: true},
		{in: "1.2.3.256", wantErr: true},
		{in: "1.x.3.4", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Errorf("ParseVersion(%q) error = %v, want ErrInvalidVersion", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePayloadErrors(t *testing.T) {
	if _, _, _, err := ParseStartPayload(make([]byte, 39)); err == nil {
		t.Error("ParseStartPayload accepted 39 bytes")
	}
	if _, _, err := ParseChunkPayload([]byte{0, 0, 0}); err == nil {
		t.Error("ParseChunkPayload accepted a short header")
	}
	// declares 4 bytes, carries 2
	if _, _, err := ParseChunkPayload([]byte{0, 0, 0, 1, 0, 4, 0xAA, 0xBB}); err == nil {
		t.Error("ParseChunkPayload accepted a length mismatch")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxChunkRetries: -1, PollDelay: -time.Second}.withDefaults()
	if cfg.ChunkSize != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", cfg.ChunkSize, DefaultChunkSize)
	}
	if cfg.MaxChunkRetries != 0 {
		t.Errorf("MaxChunkRetries = %d, want 0", cfg.MaxChunkRetries)
	}
	if cfg.PollDelay != 0 {
		t.Errorf("PollDelay = %v, want 0", cfg.PollDelay)
	}
	if cfg.StartTimeout != DefaultStartTimeout || cfg.ChunkTimeout != DefaultChunkTimeout || cfg.EndTimeout != DefaultEndTimeout {
		t.Errorf("timeouts = %v/%v/%v", cfg.StartTimeout, cfg.ChunkTimeout, cfg.EndTimeout)
	}

	def := DefaultConfig()
	if def.MaxChunkRetries != DefaultMaxChunkRetries || def.MaxInProgressPolls != DefaultMaxInProgressPolls {
		t.Errorf("DefaultConfig() = %+v", def)
	}
}
