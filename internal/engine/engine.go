// Package engine decrypts one protected file on disk.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/rs/zerolog"

	"github.com/mohaanymo/cencdec/internal/config"
	"github.com/mohaanymo/cencdec/internal/decryptor"
	"github.com/mohaanymo/cencdec/internal/probe"
)

// ErrStillProtected is returned by a verified run whose output still
// declares a protected track.
var ErrStillProtected = errors.New("output still has protected tracks")

const writeBufferSize = 1 << 20

// Engine is the file decryption orchestrator. An Engine runs once.
type Engine struct {
	cfg        *config.Config
	log        zerolog.Logger
	key        decryptor.Key
	progressCh chan ProgressUpdate
}

// New creates a new Engine for cfg.
func New(cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := decryptor.ParseKey(cfg.Key)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		log:        log.With().Str("input", cfg.Input).Logger(),
		key:        key,
		progressCh: make(chan ProgressUpdate, 100),
	}, nil
}

// Progress returns the progress update channel. It is closed when Run
// returns.
func (e *Engine) Progress() <-chan ProgressUpdate {
	return e.progressCh
}

// OutputPath returns the path of the decrypted file.
func (e *Engine) OutputPath() string {
	return e.cfg.OutputPath()
}

// Run decrypts the input file. The output file only exists if Run
// succeeds.
func (e *Engine) Run(ctx context.Context) (decryptor.Stats, error) {
	defer close(e.progressCh)

	stats, total, err := e.run(ctx)
	e.send(ProgressUpdate{
		BytesRead:  total,
		TotalBytes: total,
		Fragments:  stats.Fragments,
		Samples:    stats.Samples,
		Done:       true,
		Error:      err,
	})
	if err != nil {
		return stats, err
	}

	e.log.Info().
		Str("output", e.OutputPath()).
		Str("size", bytefmt.ByteSize(uint64(total))).
		Int("fragments", stats.Fragments).
		Int("samples", stats.Samples).
		Int("patched_entries", stats.PatchedEntries).
		Msg("decrypted")
	return stats, nil
}

func (e *Engine) run(ctx context.Context) (decryptor.Stats, int64, error) {
	in, err := os.Open(e.cfg.Input)
	if err != nil {
		return decryptor.Stats{}, 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return decryptor.Stats{}, 0, err
	}
	total := info.Size()

	dec, err := decryptor.New(e.key,
		decryptor.WithLogger(e.log),
		decryptor.WithPerTrackFormat(e.cfg.PerTrackFormat),
		decryptor.WithProgress(func(p decryptor.Progress) {
			e.send(ProgressUpdate{
				BytesRead:  p.Offset,
				TotalBytes: total,
				Fragments:  p.Stats.Fragments,
				Samples:    p.Stats.Samples,
			})
		}),
	)
	if err != nil {
		return decryptor.Stats{}, total, err
	}

	out, err := createOutput(e.OutputPath())
	if err != nil {
		return decryptor.Stats{}, total, err
	}

	e.log.Debug().Str("temp", out.Name()).Str("size", bytefmt.ByteSize(uint64(total))).Msg("decrypting")

	w := bufio.NewWriterSize(out, writeBufferSize)
	if err := dec.Run(ctx, in, w); err != nil {
		out.Abort()
		return dec.Stats(), total, err
	}
	if err := w.Flush(); err != nil {
		out.Abort()
		return dec.Stats(), total, fmt.Errorf("write output: %w", err)
	}

	if e.cfg.Verify {
		if err := e.verify(out.Name()); err != nil {
			out.Abort()
			return dec.Stats(), total, err
		}
	}

	if err := out.Commit(); err != nil {
		return dec.Stats(), total, fmt.Errorf("write output: %w", err)
	}
	return dec.Stats(), total, nil
}

// verify inspects the written file with an independent parser.
func (e *Engine) verify(path string) error {
	rep, err := probe.InspectFile(path)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	for _, t := range rep.Tracks {
		if t.Protected() {
			return fmt.Errorf("%w: %s", ErrStillProtected, &t)
		}
		e.log.Debug().Stringer("track", &t).Msg("verified")
	}
	return nil
}

// send delivers an update unless the channel is full.
func (e *Engine) send(u ProgressUpdate) {
	select {
	case e.progressCh <- u:
	default:
	}
}
