// Package probe inspects box-structured files with third-party parsers,
// independently of the decryption code path.
package probe

import (
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/google/uuid"

	"github.com/mohaanymo/cencdec/internal/models"
)

// Report summarizes the tracks and fragments of a file.
type Report struct {
	MajorBrand string
	Fragmented bool
	Fragments  int
	Tracks     []models.Track
}

// Protected reports whether any track still declares a protected
// sample entry.
func (r *Report) Protected() bool {
	for i := range r.Tracks {
		if r.Tracks[i].Protected() {
			return true
		}
	}
	return false
}

// InspectFile opens path and inspects it.
func InspectFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Inspect(f)
}

// Inspect decodes a whole file and reports its tracks.
func Inspect(r io.Reader) (*Report, error) {
	f, err := mp4.DecodeFile(r)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	rep := &Report{Fragmented: f.IsFragmented()}
	if f.Ftyp != nil {
		rep.MajorBrand = f.Ftyp.MajorBrand()
	}
	for _, seg := range f.Segments {
		rep.Fragments += len(seg.Fragments)
	}

	if f.Moov == nil {
		return rep, nil
	}
	for _, trak := range f.Moov.Traks {
		rep.Tracks = append(rep.Tracks, trackOf(trak))
	}
	return rep, nil
}

func trackOf(trak *mp4.TrakBox) models.Track {
	var t models.Track
	if trak.Tkhd != nil {
		t.ID = trak.Tkhd.TrackID
	}
	if trak.Mdia == nil {
		return t
	}
	if trak.Mdia.Hdlr != nil {
		t.Handler = trak.Mdia.Hdlr.HandlerType
		t.Type = models.TrackTypeFromHandler(t.Handler)
	}
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return t
	}

	stsd := trak.Mdia.Minf.Stbl.Stsd
	if len(stsd.Children) == 0 {
		return t
	}

	entry := stsd.Children[0]
	t.Format = entry.Type()

	var sinf *mp4.SinfBox
	switch e := entry.(type) {
	case *mp4.VisualSampleEntryBox:
		sinf = e.Sinf
	case *mp4.AudioSampleEntryBox:
		sinf = e.Sinf
	}
	if sinf == nil {
		return t
	}

	if sinf.Frma != nil {
		t.OriginalFormat = sinf.Frma.DataFormat
	}
	if sinf.Schm != nil {
		t.Scheme = sinf.Schm.SchemeType
	}
	if sinf.Schi != nil && sinf.Schi.Tenc != nil {
		tenc := sinf.Schi.Tenc
		t.IVSize = tenc.DefaultPerSampleIVSize
		if kid, err := uuid.FromBytes(tenc.DefaultKID); err == nil {
			t.KID = kid.String()
		}
	}
	return t
}
