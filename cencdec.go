// Package cencdec decrypts fragmented MP4 files protected with Common
// Encryption (the "cenc" AES-CTR scheme).
//
// Basic usage:
//
//	d, err := cencdec.New(
//		cencdec.WithInput("movie.mp4"),
//		cencdec.WithKey("eb676abbcb345e96bbcf616630f1a3da:100b6c20940f779a4589152b57d2dacb"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	stats, err := d.Decrypt(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Or use the convenience function:
//
//	stats, err := cencdec.DecryptFile(ctx, "movie.mp4", key)
package cencdec

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mohaanymo/cencdec/internal/config"
	"github.com/mohaanymo/cencdec/internal/decryptor"
	"github.com/mohaanymo/cencdec/internal/engine"
	"github.com/mohaanymo/cencdec/internal/probe"
)

// Errors returned by Decrypt. Match them with errors.Is.
var (
	ErrInvalidKey     = decryptor.ErrInvalidKey
	ErrKeyMismatch    = decryptor.ErrKeyMismatch
	ErrInvalidIV      = decryptor.ErrInvalidIV
	ErrStructure      = decryptor.ErrStructure
	ErrStillProtected = engine.ErrStillProtected
	ErrMissingInput   = config.ErrMissingInput
	ErrMissingKey     = config.ErrMissingKey
	ErrSameFile       = config.ErrSameFile

	ErrAlreadyRun = errors.New("decrypter already run")
)

// Decrypter decrypts one file. A Decrypter runs once.
type Decrypter struct {
	cfg *config.Config
	eng *engine.Engine
	ran atomic.Bool
}

type options struct {
	cfg *config.Config
	log zerolog.Logger
}

// Option configures the decrypter.
type Option func(*options)

// New creates a new Decrypter with the given options.
func New(opts ...Option) (*Decrypter, error) {
	o := &options{
		cfg: config.New(),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	eng, err := engine.New(o.cfg, o.log)
	if err != nil {
		return nil, err
	}

	return &Decrypter{
		cfg: o.cfg,
		eng: eng,
	}, nil
}

// WithInput sets the protected input file (required).
func WithInput(path string) Option {
	return func(o *options) {
		o.cfg.Input = path
	}
}

// WithKey sets the content key as 32 hex chars, or "KID:KEY" to also
// check the key ID declared by the file (required).
func WithKey(key string) Option {
	return func(o *options) {
		o.cfg.Key = key
	}
}

// WithOutput sets the output file path.
func WithOutput(path string) Option {
	return func(o *options) {
		o.cfg.Output = path
	}
}

// WithOutputDir sets the directory for derived output names.
func WithOutputDir(dir string) Option {
	return func(o *options) {
		o.cfg.OutputDir = dir
	}
}

// WithSuffix sets the suffix added to the input name when no output path
// is given (default: "_decrypted").
func WithSuffix(suffix string) Option {
	return func(o *options) {
		o.cfg.Suffix = suffix
	}
}

// WithVerify re-parses the output and fails if a track is still
// declared as encrypted.
func WithVerify(verify bool) Option {
	return func(o *options) {
		o.cfg.Verify = verify
	}
}

// WithPerTrackFormat restores each encrypted sample entry from its own
// original format box instead of the last one seen in the file.
func WithPerTrackFormat(perTrack bool) Option {
	return func(o *options) {
		o.cfg.PerTrackFormat = perTrack
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Decrypt decrypts the input file. Blocks until complete or ctx is
// canceled. The output file only exists if Decrypt succeeds.
func (d *Decrypter) Decrypt(ctx context.Context) (Stats, error) {
	if d.ran.Swap(true) {
		return Stats{}, ErrAlreadyRun
	}
	s, err := d.eng.Run(ctx)
	return statsFrom(s), err
}

// Progress returns a channel for receiving progress updates.
// The channel is closed when Decrypt returns.
func (d *Decrypter) Progress() <-chan ProgressUpdate {
	ch := make(chan ProgressUpdate, 100)
	go func() {
		defer close(ch)
		for p := range d.eng.Progress() {
			ch <- progressFrom(p)
		}
	}()
	return ch
}

// Input returns the input file path.
func (d *Decrypter) Input() string {
	return d.cfg.Input
}

// OutputPath returns where the decrypted file is written.
func (d *Decrypter) OutputPath() string {
	return d.eng.OutputPath()
}

// Tracks inspects the input file and returns its tracks.
func (d *Decrypter) Tracks() ([]*Track, error) {
	return InspectFile(d.cfg.Input)
}

// InspectFile returns the tracks of a box-structured file.
func InspectFile(path string) ([]*Track, error) {
	rep, err := probe.InspectFile(path)
	if err != nil {
		return nil, err
	}
	tracks := make([]*Track, len(rep.Tracks))
	for i, t := range rep.Tracks {
		tracks[i] = &Track{internal: t}
	}
	return tracks, nil
}

// DecryptFile is a convenience function for simple decryptions. The
// output is written next to input unless an output option is given.
func DecryptFile(ctx context.Context, input, key string, opts ...Option) (Stats, error) {
	allOpts := append([]Option{
		WithInput(input),
		WithKey(key),
	}, opts...)

	d, err := New(allOpts...)
	if err != nil {
		return Stats{}, err
	}
	return d.Decrypt(ctx)
}
