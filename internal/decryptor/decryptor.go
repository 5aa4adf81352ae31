// Package decryptor removes Common Encryption ('cenc' scheme) from
// fragmented MP4 streams.
//
// A Decryptor consumes top-level boxes in stream order. The sample
// encryption (senc) and track run (trun) boxes of each moof are queued as
// one fragment, and each mdat takes the oldest pending fragment and walks
// its track fragments in order to decrypt its samples. Sample
// descriptions that declare a protected format are renamed back to their
// original format. Boxes are written out in the order they were read.
package decryptor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mohaanymo/cencdec/internal/box"
)

// Errors returned by the decryptor.
var (
	ErrInvalidKey  = errors.New("invalid decryption key")
	ErrKeyMismatch = errors.New("key ID does not match the track")
	ErrInvalidIV   = errors.New("invalid initialization vector")
	ErrStructure   = errors.New("unexpected fragment structure")
)

// defaultIVSize is used for senc entries until a tenc box says otherwise.
const defaultIVSize = 8

// phase is the state of the fragment state machine.
type phase uint8

const (
	phaseScanning phase = iota
	phaseDecrypting
)

func (p phase) String() string {
	if p == phaseDecrypting {
		return "decrypting"
	}
	return "scanning"
}

// Stats counts what a Decryptor has done so far.
type Stats struct {
	Boxes          int
	Fragments      int
	Samples        int
	DecryptedBytes int64
	ClearBytes     int64
	PatchedEntries int
}

// Progress is reported after each top-level box.
type Progress struct {
	// Offset is the number of input bytes consumed.
	Offset int64
	Stats  Stats
}

// Option configures a Decryptor.
type Option func(*Decryptor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decryptor) { d.log = l }
}

// WithPerTrackFormat restores each protected sample entry from its own
// frma box instead of the last one seen in the stream.
func WithPerTrackFormat(enabled bool) Option {
	return func(d *Decryptor) { d.perTrack = enabled }
}

// WithProgress sets a callback invoked by Run after each top-level box.
func WithProgress(fn func(Progress)) Option {
	return func(d *Decryptor) { d.onProgress = fn }
}

// run is a queued trun together with the default sample size of the
// track fragment that holds it.
type run struct {
	trun        *box.Box
	defaultSize uint32
}

// trackRuns is the queued metadata of one traf. senc is nil for a track
// fragment that is not encrypted.
type trackRuns struct {
	senc *box.Box
	runs []run
}

func (t trackRuns) samples() int {
	n := 0
	for _, r := range t.runs {
		n += len(r.trun.Trun.Entries)
	}
	return n
}

// fragment is the queued metadata of one moof.
type fragment []trackRuns

func (f fragment) encrypted() bool {
	for _, t := range f {
		if t.senc != nil {
			return true
		}
	}
	return false
}

// Decryptor is the fragment decryption state machine. It is not safe for
// concurrent use; use one Decryptor per stream.
type Decryptor struct {
	key        Key
	cipher     *Cipher
	perTrack   bool
	log        zerolog.Logger
	onProgress func(Progress)

	phase      phase
	formats    formatState
	sampleSize uint32 // from stsz, 0 when samples vary in size
	ivSize     int
	constantIV []byte
	trexSizes  map[uint32]uint32

	pending []fragment

	stats Stats
}

// New creates a Decryptor for key.
func New(key Key, opts ...Option) (*Decryptor, error) {
	c, err := NewCipher(key.Value)
	if err != nil {
		return nil, err
	}
	d := &Decryptor{
		key:       key,
		cipher:    c,
		log:       zerolog.Nop(),
		ivSize:    defaultIVSize,
		trexSizes: make(map[uint32]uint32),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Stats returns the counters accumulated so far.
func (d *Decryptor) Stats() Stats {
	return d.stats
}

// Run reads top-level boxes from r, processes them and writes them to w.
// It stops at the first error; whatever was written to w before that is
// not a usable file.
func (d *Decryptor) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := box.NewScanner(r)
	for sc.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		b := sc.Box()
		if err := d.Process(b); err != nil {
			return fmt.Errorf("%s at offset %d: %w", b.Type, sc.Offset(), err)
		}
		if err := b.Encode(w); err != nil {
			return fmt.Errorf("write %s: %w", b.Type, err)
		}

		if d.onProgress != nil {
			d.onProgress(Progress{Offset: sc.Consumed(), Stats: d.stats})
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if n := len(d.pending); n > 0 {
		d.log.Warn().Int("pending", n).Msg("stream ended with fragment metadata not followed by mdat")
	}
	return nil
}

// Process applies decryption to one top-level box in place.
func (d *Decryptor) Process(b *box.Box) error {
	d.stats.Boxes++

	if err := d.observeTrackInfo(b); err != nil {
		return err
	}

	if n := restoreFormats(b, &d.formats, d.perTrack); n > 0 {
		d.stats.PatchedEntries += n
		d.log.Debug().
			Int("entries", n).
			Stringer("format", d.formats.format).
			Msg("restored original sample format")
	}

	switch b.Type {
	case box.TypeMoof:
		if err := d.enqueue(b); err != nil {
			return err
		}
	case box.TypeMdat:
		d.phase = phaseDecrypting
		err := d.decryptMdat(b)
		d.phase = phaseScanning
		if err != nil {
			return err
		}
	}
	return nil
}

// observeTrackInfo captures the global sample size, the IV size and the
// trex default sample sizes, and checks the key against every tenc.
func (d *Decryptor) observeTrackInfo(b *box.Box) error {
	for stsz := range b.Find(box.TypeStsz) {
		d.sampleSize = stsz.Stsz.SampleSize
	}

	for tenc := range b.Find(box.TypeTenc) {
		t := tenc.Tenc
		if !d.key.matches(t.DefaultKID) {
			return fmt.Errorf("%w: track uses KID %s, key is for %s",
				ErrKeyMismatch, uuid.UUID(t.DefaultKID), d.key.KID)
		}
		switch {
		case t.DefaultPerSampleIVSize != 0:
			d.ivSize = int(t.DefaultPerSampleIVSize)
		case len(t.DefaultConstantIV) > 0:
			d.ivSize = 0
			d.constantIV = t.DefaultConstantIV
		}
	}

	for trex := range b.Find(box.TypeTrex) {
		d.trexSizes[trex.Trex.TrackID] = trex.Trex.DefaultSampleSize
	}
	return nil
}

// enqueue queues the senc and trun boxes of a moof as one fragment.
func (d *Decryptor) enqueue(moof *box.Box) error {
	var frag fragment
	for traf := range moof.Find(box.TypeTraf) {
		var tr trackRuns
		for senc := range traf.Find(box.TypeSenc) {
			if tr.senc != nil {
				return fmt.Errorf("%w: traf %d has more than one senc", ErrStructure, len(frag))
			}
			tr.senc = senc
		}

		var defaultSize uint32
		if tfhd := traf.First(box.TypeTfhd); tfhd != nil {
			defaultSize = tfhd.Tfhd.DefaultSampleSize
			if defaultSize == 0 {
				defaultSize = d.trexSizes[tfhd.Tfhd.TrackID]
			}
		}
		for trun := range traf.Find(box.TypeTrun) {
			tr.runs = append(tr.runs, run{trun: trun, defaultSize: defaultSize})
		}
		frag = append(frag, tr)
	}
	d.pending = append(d.pending, frag)

	d.log.Debug().
		Int("trafs", len(frag)).
		Int("pending", len(d.pending)).
		Msg("queued fragment metadata")
	return nil
}

// decryptMdat decrypts the samples of an mdat with the oldest pending
// fragment. Track fragments are laid out one after another in the mdat.
func (d *Decryptor) decryptMdat(mdat *box.Box) error {
	if len(d.pending) == 0 {
		return fmt.Errorf("%w: mdat without pending moof", ErrStructure)
	}
	frag := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	if !frag.encrypted() {
		return fmt.Errorf("%w: mdat without pending senc", ErrStructure)
	}

	data := mdat.Data
	pos, samples := 0, 0
	for i, tr := range frag {
		var err error
		if pos, err = d.decryptTrack(tr, data, pos); err != nil {
			return fmt.Errorf("traf %d: %w", i, err)
		}
		samples += tr.samples()
	}

	if rest := len(data) - pos; rest > 0 {
		d.stats.ClearBytes += int64(rest)
		d.log.Debug().Int("bytes", rest).Msg("mdat bytes after last sample left as is")
	}

	d.stats.Fragments++
	d.stats.Samples += samples
	d.log.Debug().
		Int("fragment", d.stats.Fragments).
		Int("trafs", len(frag)).
		Int("samples", samples).
		Stringer("phase", d.phase).
		Msg("decrypted fragment")
	return nil
}

// decryptTrack decrypts the samples of one track fragment starting at pos
// and returns the position after its last sample. Samples of a track
// fragment without senc are passed over as clear data.
func (d *Decryptor) decryptTrack(tr trackRuns, data []byte, pos int) (int, error) {
	var enc []box.SampleEncryption
	if tr.senc != nil {
		var err error
		if enc, err = tr.senc.SampleEncryption(d.ivSize); err != nil {
			return pos, err
		}
		if n := tr.samples(); len(enc) != n {
			return pos, fmt.Errorf("%w: senc describes %d samples, trun %d", ErrStructure, len(enc), n)
		}
	}

	i := 0
	for _, r := range tr.runs {
		for j := range r.trun.Trun.Entries {
			size, ok := d.sampleSizeOf(r, j)
			if !ok {
				return pos, fmt.Errorf("%w: no size for sample %d", ErrStructure, i)
			}
			if uint64(pos)+uint64(size) > uint64(len(data)) {
				return pos, fmt.Errorf("%w: sample %d needs %d bytes at %d, mdat holds %d",
					ErrStructure, i, size, pos, len(data))
			}
			sample := data[pos : pos+int(size)]

			protected := 0
			if tr.senc != nil {
				s := enc[i]
				iv := s.IV
				if len(iv) == 0 {
					iv = d.constantIV
				}
				var err error
				if protected, err = d.cipher.DecryptSample(sample, iv, s.Subsamples); err != nil {
					return pos, fmt.Errorf("sample %d: %w", i, err)
				}
			}

			d.stats.DecryptedBytes += int64(protected)
			d.stats.ClearBytes += int64(len(sample) - protected)
			pos += len(sample)
			i++
		}
	}
	return pos, nil
}

// sampleSizeOf resolves the size of sample i of a run: the global stsz
// size, else the trun entry size, else the track fragment default. It
// reports false when none of them gives a size. An explicit trun size of
// zero is an empty sample.
func (d *Decryptor) sampleSizeOf(r run, i int) (uint32, bool) {
	if d.sampleSize != 0 {
		return d.sampleSize, true
	}
	if r.trun.Flags&box.TrunSampleSizePresent != 0 {
		return r.trun.Trun.Entries[i].Size, true
	}
	return r.defaultSize, r.defaultSize != 0
}
