package cencdec

import (
	"github.com/mohaanymo/cencdec/internal/decryptor"
	"github.com/mohaanymo/cencdec/internal/engine"
	"github.com/mohaanymo/cencdec/internal/models"
)

// TrackType represents the type of media track.
type TrackType int

const (
	TrackUnknown  TrackType = TrackType(models.TrackUnknown)
	TrackVideo    TrackType = TrackType(models.TrackVideo)
	TrackAudio    TrackType = TrackType(models.TrackAudio)
	TrackSubtitle TrackType = TrackType(models.TrackSubtitle)
)

func (t TrackType) String() string {
	return models.TrackType(t).String()
}

// Track describes a track of an inspected file.
type Track struct {
	internal models.Track
}

// ID returns the track ID from tkhd.
func (t *Track) ID() uint32 {
	return t.internal.ID
}

// Type returns the track type (video, audio, or subtitle).
func (t *Track) Type() TrackType {
	return TrackType(t.internal.Type)
}

// Format returns the declared sample entry type (e.g. "encv", "avc1").
func (t *Track) Format() string {
	return t.internal.Format
}

// Codec returns the clear sample entry type, e.g. "avc1" for an "encv"
// entry whose original format is avc1.
func (t *Track) Codec() string {
	return t.internal.Codec()
}

// Scheme returns the protection scheme type, empty for clear tracks.
func (t *Track) Scheme() string {
	return t.internal.Scheme
}

// KID returns the default key ID in UUID form, empty for clear tracks.
func (t *Track) KID() string {
	return t.internal.KID
}

// IsEncrypted returns true if the sample entry declares a protected format.
func (t *Track) IsEncrypted() bool {
	return t.internal.Protected()
}

func (t *Track) String() string {
	return t.internal.String()
}

// Stats summarizes a decryption run.
type Stats struct {
	// Boxes is the number of top-level boxes written.
	Boxes int

	Fragments int
	Samples   int

	// DecryptedBytes counts protected bytes run through the cipher,
	// ClearBytes the bytes of data boxes copied unchanged.
	DecryptedBytes int64
	ClearBytes     int64

	// PatchedEntries is the number of sample entries restored to their
	// original format.
	PatchedEntries int
}

func statsFrom(s decryptor.Stats) Stats {
	return Stats{
		Boxes:          s.Boxes,
		Fragments:      s.Fragments,
		Samples:        s.Samples,
		DecryptedBytes: s.DecryptedBytes,
		ClearBytes:     s.ClearBytes,
		PatchedEntries: s.PatchedEntries,
	}
}

// ProgressUpdate represents decryption progress.
type ProgressUpdate struct {
	// BytesRead is the number of input bytes processed so far out of
	// TotalBytes.
	BytesRead  int64
	TotalBytes int64

	Fragments int
	Samples   int

	// Done is set on the final update. Error is non-nil if the run failed.
	Done  bool
	Error error
}

// Percent returns the progress as a percentage.
func (p ProgressUpdate) Percent() float64 {
	return p.internal().Percent() * 100
}

func (p ProgressUpdate) internal() engine.ProgressUpdate {
	return engine.ProgressUpdate{
		BytesRead:  p.BytesRead,
		TotalBytes: p.TotalBytes,
		Fragments:  p.Fragments,
		Samples:    p.Samples,
		Done:       p.Done,
		Error:      p.Error,
	}
}

func progressFrom(p engine.ProgressUpdate) ProgressUpdate {
	return ProgressUpdate{
		BytesRead:  p.BytesRead,
		TotalBytes: p.TotalBytes,
		Fragments:  p.Fragments,
		Samples:    p.Samples,
		Done:       p.Done,
		Error:      p.Error,
	}
}
