package firmware

import "time"

// Defaults for an upgrade session
const (
	DefaultChunkSize          = 512
	DefaultStartTimeout       = 5 * time.Second
	DefaultChunkTimeout       = 3 * time.Second
	DefaultEndTimeout         = 5 * time.Second
	DefaultMaxChunkRetries    = 2
	DefaultPollDelay          = 200 * time.Millisecond
	DefaultMaxInProgressPolls = 10
)

// Config controls chunking, timeouts and retry limits
type Config struct {
	ChunkSize    int
	StartTimeout time.Duration
	ChunkTimeout time.Duration
	EndTimeout   time.Duration

	// MaxChunkRetries is how many times one chunk is resent after a
	// failed/crcError status or a timeout before the upgrade fails.
	MaxChunkRetries int

	// PollDelay is the wait before resending a chunk the device reported
	// as inProgress. MaxInProgressPolls bounds those resends per chunk.
	PollDelay          time.Duration
	MaxInProgressPolls int
}

// DefaultConfig returns the settings the tracker firmware expects
func DefaultConfig() Config {
	return Config{
		ChunkSize:          DefaultChunkSize,
		StartTimeout:       DefaultStartTimeout,
		ChunkTimeout:       DefaultChunkTimeout,
		EndTimeout:         DefaultEndTimeout,
		MaxChunkRetries:    DefaultMaxChunkRetries,
		PollDelay:          DefaultPollDelay,
		MaxInProgressPolls: DefaultMaxInProgressPolls,
	}
}

// withDefaults fills unset fields. Negative retry counts mean zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = d.ChunkTimeout
	}
	if c.EndTimeout <= 0 {
		c.EndTimeout = d.EndTimeout
	}
	if c.MaxChunkRetries == 0 {
		c.MaxChunkRetries = d.MaxChunkRetries
	} else if c.MaxChunkRetries < 0 {
		c.MaxChunkRetries = 0
	}
	if c.PollDelay < 0 {
		c.PollDelay = 0
	} else if c.PollDelay == 0 {
		c.PollDelay = d.PollDelay
	}
	if c.MaxInProgressPolls <= 0 {
		c.MaxInProgressPolls = d.MaxInProgressPolls
	}
	return c
}
