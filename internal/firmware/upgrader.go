package firmware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/link"
	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/protocol"
)

// Requester issues reply-bearing commands. *link.Dispatcher implements it.
type Requester interface {
	Request(ctx context.Context, command protocol.Command, payload []byte, timeout time.Duration) (*link.Reply, error)
	Connected() bool
}

// ProgressFunc receives strictly increasing percentages from 10 to 100
type ProgressFunc func(percent int)

// Upgrader runs firmware upgrades over a Requester, one at a time
type Upgrader struct {
	requester Requester
	cfg       Config

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// New returns an Upgrader. Zero fields in cfg take their defaults.
func New(r Requester, cfg Config) *Upgrader {
	return &Upgrader{requester: r, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration
func (u *Upgrader) Config() Config {
	return u.cfg
}

// Active reports whether an upgrade is running
func (u *Upgrader) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active
}

// Cancel stops the running upgrade, if any. No further chunks are sent and
// the attempt fails with ErrUpgradeCancelled.
func (u *Upgrader) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
	}
}

// Run performs a complete upgrade and blocks until it succeeds or fails.
// onProgress may be nil.
func (u *Upgrader) Run(ctx context.Context, version [4]byte, image []byte, onProgress ProgressFunc) error {
	ctx, release, err := u.acquire(ctx, image)
	if err != nil {
		return err
	}
	defer release()
	return u.run(ctx, version, image, onProgress)
}

// Start runs an upgrade in the background. onComplete is called exactly
// once with nil on success or the terminal failure. A second upgrade
// while one is active is rejected synchronously with ErrUpgradeInProgress.
func (u *Upgrader) Start(ctx context.Context, version [4]byte, image []byte, onProgress ProgressFunc, onComplete func(error)) error {
	ctx, release, err := u.acquire(ctx, image)
	if err != nil {
		return err
	}
	go func() {
		err := u.run(ctx, version, image, onProgress)
		release()
		if onComplete != nil {
			onComplete(err)
		}
	}()
	return nil
}

func (u *Upgrader) acquire(ctx context.Context, image []byte) (context.Context, func(), error) {
	if len(image) == 0 {
		return nil, nil, ErrEmptyImage
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active {
		return nil, nil, ErrUpgradeInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	u.active = true
	u.cancel = cancel

	release := func() {
		cancel()
		u.mu.Lock()
		u.active = false
		u.cancel = nil
		u.mu.Unlock()
	}
	return ctx, release, nil
}

func (u *Upgrader) run(ctx context.Context, version [4]byte, image []byte, onProgress ProgressFunc) error {
	s := newSession(version, image, u.cfg.ChunkSize)
	last := 0
	report := func(p int) {
		if p <= last {
			return
		}
		last = p
		if onProgress != nil {
			onProgress(p)
		}
	}

	logging.Info("Starting firmware upgrade",
		zap.String("version", fmt.Sprintf("%d.%d.%d.%d", version[0], version[1], version[2], version[3])),
		zap.Uint32("total_bytes", s.totalBytes),
		zap.Int("chunks", s.chunks),
		zap.String("md5", s.md5),
	)
	started := time.Now()

	if err := u.negotiate(ctx, PhaseStart, protocol.CmdFirmwareStart, s.startPayload(), u.cfg.StartTimeout); err != nil {
		return err
	}
	report(10)

	for i := 0; i < s.chunks; i++ {
		if err := u.sendChunk(ctx, s, i); err != nil {
			return err
		}
		report(s.progress(i + 1))
	}

	if err := u.negotiate(ctx, PhaseEnd, protocol.CmdFirmwareEnd, endPayload(), u.cfg.EndTimeout); err != nil {
		return err
	}
	report(100)

	logging.Info("Firmware upgrade complete",
		zap.Duration("elapsed", time.Since(started)),
		zap.Uint32("total_bytes", s.totalBytes),
	)
	return nil
}

// negotiate sends a start or end command; anything but success is terminal
func (u *Upgrader) negotiate(ctx context.Context, phase Phase, command protocol.Command, payload []byte, timeout time.Duration) error {
	reply, err := u.requester.Request(ctx, command, payload, timeout)
	if err != nil {
		return u.fail(ctx, phase, 0, err)
	}
	if reply.Status() != protocol.StatusSuccess {
		f := &Failure{
			Phase:  phase,
			Reason: fmt.Sprintf("device answered %s", reply.Status()),
			Err:    ErrUpgradeRejected,
		}
		logging.Error("Firmware upgrade failed", zap.Error(f))
		return f
	}
	return nil
}

// sendChunk delivers one chunk, resending it on failed/crcError/timeout up
// to MaxChunkRetries times and on inProgress up to MaxInProgressPolls times
func (u *Upgrader) sendChunk(ctx context.Context, s *session, index int) error {
	payload := s.chunkPayload(index)
	failures := 0
	polls := 0

	for {
		if ctx.Err() != nil {
			return u.fail(ctx, PhaseTransfer, index, ctx.Err())
		}
		if !u.requester.Connected() {
			return u.fail(ctx, PhaseTransfer, index, protocol.ErrNotConnected)
		}

		reply, err := u.requester.Request(ctx, protocol.CmdFirmwareChunk, payload, u.cfg.ChunkTimeout)
		var reason string
		switch {
		case err != nil:
			if !errors.Is(err, protocol.ErrCorrelationTimeout) {
				return u.fail(ctx, PhaseTransfer, index, err)
			}
			reason = "no acknowledgement"
			if errors.Is(err, protocol.ErrChecksumMismatch) {
				reason = "corrupted acknowledgement (crc error)"
			}

		case reply.Status() == protocol.StatusSuccess:
			logging.Debug("Chunk acknowledged",
				zap.Int("index", index),
				zap.Int("chunks", s.chunks),
				zap.Duration("latency", reply.Latency),
			)
			return nil

		case reply.Status() == protocol.StatusInProgress:
			polls++
			if polls > u.cfg.MaxInProgressPolls {
				f := &Failure{
					Phase:  PhaseTransfer,
					Index:  index,
					Reason: fmt.Sprintf("device still busy after %d polls; power-cycle the tracker and retry", u.cfg.MaxInProgressPolls),
				}
				logging.Error("Firmware upgrade failed", zap.Error(f))
				return f
			}
			if err := sleep(ctx, u.cfg.PollDelay); err != nil {
				return u.fail(ctx, PhaseTransfer, index, err)
			}
			continue

		default:
			reason = fmt.Sprintf("device answered %s", reply.Status())
			err = ErrUpgradeRejected
		}

		failures++
		if failures > u.cfg.MaxChunkRetries {
			f := &Failure{
				Phase:  PhaseTransfer,
				Index:  index,
				Reason: fmt.Sprintf("%s after %d attempts", reason, failures),
				Err:    err,
			}
			logging.Error("Firmware upgrade failed", zap.Error(f))
			return f
		}
		logging.Warn("Retrying firmware chunk",
			zap.Int("index", index),
			zap.String("reason", reason),
			zap.Int("attempt", failures+1),
		)
	}
}

// fail classifies a request error into a terminal Failure
func (u *Upgrader) fail(ctx context.Context, phase Phase, index int, err error) error {
	f := &Failure{Phase: phase, Index: index, Err: err}
	switch {
	case ctx.Err() != nil:
		f.Reason = "upgrade cancelled"
		f.Err = fmt.Errorf("%w: %w", ErrUpgradeCancelled, ctx.Err())
	case errors.Is(err, protocol.ErrNotConnected), errors.Is(err, link.ErrDisconnected):
		f.Reason = "device disconnected; reconnect and start the upgrade again"
	case errors.Is(err, link.ErrClosed):
		f.Reason = "connection closed"
	case errors.Is(err, protocol.ErrCorrelationTimeout):
		f.Reason = "device did not respond; move closer to the tracker and retry"
	default:
		f.Reason = "request failed"
	}
	logging.Error("Firmware upgrade failed", zap.Error(f))
	return f
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
