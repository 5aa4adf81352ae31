package box

import (
	"encoding/binary"
	"fmt"
)

var be = binary.BigEndian

// Sample entry fixed header sizes.
const (
	visualEntryHeaderSize   = 78
	audioEntryHeaderSize    = 28
	audioEntryV1HeaderSize  = 44
	audioEntryV2HeaderSize  = 64
	sampleEntryReservedSize = 6
)

// SampleEntry is a sample description entry (e.g. avc1, encv, mp4a).
// Prefix holds the fixed fields that precede the child boxes.
type SampleEntry struct {
	Prefix   []byte
	Children []*Box
}

// DataReferenceIndex returns the data reference index of the entry.
func (e *SampleEntry) DataReferenceIndex() uint16 {
	if len(e.Prefix) < sampleEntryReservedSize+2 {
		return 0
	}
	return be.Uint16(e.Prefix[sampleEntryReservedSize:])
}

// sampleEntryHeaderSize returns the size of the fixed part of a sample
// entry payload of kind k.
func sampleEntryHeaderSize(k Kind, p []byte) int {
	if k == KindVisualEntry {
		return visualEntryHeaderSize
	}
	// QuickTime sound sample description versions extend the header.
	if len(p) >= 10 {
		switch be.Uint16(p[8:10]) {
		case 1:
			return audioEntryV1HeaderSize
		case 2:
			return audioEntryV2HeaderSize
		}
	}
	return audioEntryHeaderSize
}

// Stsd is a sample description box.
type Stsd struct {
	EntryCount uint32
	Entries    []*Box
}

// Frma is an original format box.
type Frma struct {
	DataFormat Type
}

// Schm flags.
const SchmURIPresent = 0x000001

// Schm is a scheme type box.
type Schm struct {
	SchemeType    Type
	SchemeVersion uint32
	URI           []byte // null-terminated, present with SchmURIPresent
}

// Tenc is a track encryption box.
type Tenc struct {
	Reserved               byte
	Pattern                byte // crypt and skip byte blocks in version 1
	DefaultIsProtected     uint8
	DefaultPerSampleIVSize uint8
	DefaultKID             [16]byte
	DefaultConstantIV      []byte
}

// CryptByteBlock returns the pattern crypt block count (version 1).
func (t *Tenc) CryptByteBlock() uint8 { return t.Pattern >> 4 }

// SkipByteBlock returns the pattern skip block count (version 1).
func (t *Tenc) SkipByteBlock() uint8 { return t.Pattern & 0x0f }

// Senc flags.
const SencUseSubsamples = 0x000002

// Senc is a sample encryption box. Its entries can only be decoded once the
// per-sample IV size is known, so the table is kept as raw bytes.
type Senc struct {
	SampleCount uint32
	Raw         []byte
}

// Subsample is one clear/protected span pair of a sample.
type Subsample struct {
	Clear     uint16
	Protected uint32
}

// SampleEncryption is the encryption metadata of one sample.
type SampleEncryption struct {
	IV         []byte
	Subsamples []Subsample
}

// Trun flags.
const (
	TrunDataOffsetPresent                  = 0x000001
	TrunFirstSampleFlagsPresent            = 0x000004
	TrunSampleDurationPresent              = 0x000100
	TrunSampleSizePresent                  = 0x000200
	TrunSampleFlagsPresent                 = 0x000400
	TrunSampleCompositionTimeOffsetPresent = 0x000800
)

// TrunEntry is a track run sample entry.
type TrunEntry struct {
	Duration              uint32
	Size                  uint32
	Flags                 uint32
	CompositionTimeOffset int32
}

// Trun is a track run box. Which fields are stored is governed by the
// flags of the owning Box.
type Trun struct {
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrunEntry
}

// Tfhd flags.
const (
	TfhdBaseDataOffsetPresent         = 0x000001
	TfhdSampleDescriptionIndexPresent = 0x000002
	TfhdDefaultSampleDurationPresent  = 0x000008
	TfhdDefaultSampleSizePresent      = 0x000010
	TfhdDefaultSampleFlagsPresent     = 0x000020
	TfhdDurationIsEmpty               = 0x010000
	TfhdDefaultBaseIsMoof             = 0x020000
)

// Tfhd is a track fragment header box.
type Tfhd struct {
	TrackID                uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

// Trex is a track extends box.
type Trex struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

// Stsz is a sample size box.
type Stsz struct {
	SampleSize  uint32
	SampleCount uint32
	Sizes       []uint32 // only when SampleSize is 0
}

// fieldReader consumes big-endian fields from a payload.
type fieldReader struct {
	buf []byte
	pos int
	err error
}

func (r *fieldReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.buf)-r.pos < n {
		r.err = fmt.Errorf("%w: need %d bytes at %d, have %d", ErrTruncated, n, r.pos, len(r.buf)-r.pos)
		return false
	}
	return true
}

func (r *fieldReader) uint8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *fieldReader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := be.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *fieldReader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := be.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *fieldReader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := be.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *fieldReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return v
}

func (r *fieldReader) rest() []byte {
	if r.pos >= len(r.buf) {
		return nil
	}
	v := r.buf[r.pos:]
	r.pos = len(r.buf)
	return v
}

// decodeLeaf fills the typed payload of b from p (after version and flags).
// It returns the number of bytes consumed.
func (b *Box) decodeLeaf(p []byte) (int, error) {
	r := &fieldReader{buf: p}

	switch b.kind {
	case KindFrma:
		f := &Frma{}
		copy(f.DataFormat[:], r.bytes(4))
		b.Frma = f

	case KindSchm:
		s := &Schm{}
		copy(s.SchemeType[:], r.bytes(4))
		s.SchemeVersion = r.uint32()
		if b.Flags&SchmURIPresent != 0 {
			s.URI = r.rest()
		}
		b.Schm = s

	case KindTenc:
		t := &Tenc{}
		t.Reserved = r.uint8()
		t.Pattern = r.uint8()
		t.DefaultIsProtected = r.uint8()
		t.DefaultPerSampleIVSize = r.uint8()
		copy(t.DefaultKID[:], r.bytes(16))
		if r.err == nil && t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
			n := int(r.uint8())
			t.DefaultConstantIV = r.bytes(n)
		}
		b.Tenc = t

	case KindSenc:
		s := &Senc{}
		s.SampleCount = r.uint32()
		s.Raw = r.rest()
		b.Senc = s

	case KindTrun:
		t := &Trun{}
		count := r.uint32()
		if b.Flags&TrunDataOffsetPresent != 0 {
			t.DataOffset = int32(r.uint32())
		}
		if b.Flags&TrunFirstSampleFlagsPresent != 0 {
			t.FirstSampleFlags = r.uint32()
		}
		if r.err == nil {
			stride := trunStride(b.Flags)
			if uint64(count)*uint64(stride) > uint64(len(p)-r.pos) {
				return 0, fmt.Errorf("%w: trun declares %d samples", ErrTruncated, count)
			}
			t.Entries = make([]TrunEntry, count)
			for i := range t.Entries {
				e := &t.Entries[i]
				if b.Flags&TrunSampleDurationPresent != 0 {
					e.Duration = r.uint32()
				}
				if b.Flags&TrunSampleSizePresent != 0 {
					e.Size = r.uint32()
				}
				if b.Flags&TrunSampleFlagsPresent != 0 {
					e.Flags = r.uint32()
				}
				if b.Flags&TrunSampleCompositionTimeOffsetPresent != 0 {
					e.CompositionTimeOffset = int32(r.uint32())
				}
			}
		}
		b.Trun = t

	case KindTfhd:
		t := &Tfhd{}
		t.TrackID = r.uint32()
		if b.Flags&TfhdBaseDataOffsetPresent != 0 {
			t.BaseDataOffset = r.uint64()
		}
		if b.Flags&TfhdSampleDescriptionIndexPresent != 0 {
			t.SampleDescriptionIndex = r.uint32()
		}
		if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
			t.DefaultSampleDuration = r.uint32()
		}
		if b.Flags&TfhdDefaultSampleSizePresent != 0 {
			t.DefaultSampleSize = r.uint32()
		}
		if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
			t.DefaultSampleFlags = r.uint32()
		}
		b.Tfhd = t

	case KindTrex:
		b.Trex = &Trex{
			TrackID:                       r.uint32(),
			DefaultSampleDescriptionIndex: r.uint32(),
			DefaultSampleDuration:         r.uint32(),
			DefaultSampleSize:             r.uint32(),
			DefaultSampleFlags:            r.uint32(),
		}

	case KindStsz:
		s := &Stsz{}
		s.SampleSize = r.uint32()
		s.SampleCount = r.uint32()
		if r.err == nil && s.SampleSize == 0 {
			if uint64(s.SampleCount)*4 > uint64(len(p)-r.pos) {
				return 0, fmt.Errorf("%w: stsz declares %d samples", ErrTruncated, s.SampleCount)
			}
			s.Sizes = make([]uint32, s.SampleCount)
			for i := range s.Sizes {
				s.Sizes[i] = r.uint32()
			}
		}
		b.Stsz = s
	}

	if r.err != nil {
		return 0, r.err
	}
	return r.pos, nil
}

func trunStride(flags uint32) int {
	n := 0
	for _, f := range []uint32{
		TrunSampleDurationPresent,
		TrunSampleSizePresent,
		TrunSampleFlagsPresent,
		TrunSampleCompositionTimeOffsetPresent,
	} {
		if flags&f != 0 {
			n += 4
		}
	}
	return n
}

// appendLeaf appends the typed payload of b (after version and flags).
func (b *Box) appendLeaf(dst []byte) []byte {
	switch b.kind {
	case KindFrma:
		dst = append(dst, b.Frma.DataFormat[:]...)

	case KindSchm:
		s := b.Schm
		dst = append(dst, s.SchemeType[:]...)
		dst = be.AppendUint32(dst, s.SchemeVersion)
		if b.Flags&SchmURIPresent != 0 {
			dst = append(dst, s.URI...)
		}

	case KindTenc:
		t := b.Tenc
		dst = append(dst, t.Reserved, t.Pattern, t.DefaultIsProtected, t.DefaultPerSampleIVSize)
		dst = append(dst, t.DefaultKID[:]...)
		if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
			dst = append(dst, uint8(len(t.DefaultConstantIV)))
			dst = append(dst, t.DefaultConstantIV...)
		}

	case KindSenc:
		dst = be.AppendUint32(dst, b.Senc.SampleCount)
		dst = append(dst, b.Senc.Raw...)

	case KindTrun:
		t := b.Trun
		dst = be.AppendUint32(dst, uint32(len(t.Entries)))
		if b.Flags&TrunDataOffsetPresent != 0 {
			dst = be.AppendUint32(dst, uint32(t.DataOffset))
		}
		if b.Flags&TrunFirstSampleFlagsPresent != 0 {
			dst = be.AppendUint32(dst, t.FirstSampleFlags)
		}
		for _, e := range t.Entries {
			if b.Flags&TrunSampleDurationPresent != 0 {
				dst = be.AppendUint32(dst, e.Duration)
			}
			if b.Flags&TrunSampleSizePresent != 0 {
				dst = be.AppendUint32(dst, e.Size)
			}
			if b.Flags&TrunSampleFlagsPresent != 0 {
				dst = be.AppendUint32(dst, e.Flags)
			}
			if b.Flags&TrunSampleCompositionTimeOffsetPresent != 0 {
				dst = be.AppendUint32(dst, uint32(e.CompositionTimeOffset))
			}
		}

	case KindTfhd:
		t := b.Tfhd
		dst = be.AppendUint32(dst, t.TrackID)
		if b.Flags&TfhdBaseDataOffsetPresent != 0 {
			dst = be.AppendUint64(dst, t.BaseDataOffset)
		}
		if b.Flags&TfhdSampleDescriptionIndexPresent != 0 {
			dst = be.AppendUint32(dst, t.SampleDescriptionIndex)
		}
		if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
			dst = be.AppendUint32(dst, t.DefaultSampleDuration)
		}
		if b.Flags&TfhdDefaultSampleSizePresent != 0 {
			dst = be.AppendUint32(dst, t.DefaultSampleSize)
		}
		if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
			dst = be.AppendUint32(dst, t.DefaultSampleFlags)
		}

	case KindTrex:
		t := b.Trex
		dst = be.AppendUint32(dst, t.TrackID)
		dst = be.AppendUint32(dst, t.DefaultSampleDescriptionIndex)
		dst = be.AppendUint32(dst, t.DefaultSampleDuration)
		dst = be.AppendUint32(dst, t.DefaultSampleSize)
		dst = be.AppendUint32(dst, t.DefaultSampleFlags)

	case KindStsz:
		s := b.Stsz
		dst = be.AppendUint32(dst, s.SampleSize)
		dst = be.AppendUint32(dst, s.SampleCount)
		if s.SampleSize == 0 {
			for _, v := range s.Sizes {
				dst = be.AppendUint32(dst, v)
			}
		}
	}
	return dst
}

// SampleEncryption decodes the entries of a senc box using the given
// per-sample IV size (8 or 16; 0 for constant-IV tracks).
func (b *Box) SampleEncryption(ivSize int) ([]SampleEncryption, error) {
	if b.kind != KindSenc {
		return nil, fmt.Errorf("box: %s is not a sample encryption box", b.Type)
	}
	r := &fieldReader{buf: b.Senc.Raw}
	withSubsamples := b.Flags&SencUseSubsamples != 0

	// Each entry takes at least ivSize bytes, which bounds the allocation.
	minEntry := ivSize
	if withSubsamples {
		minEntry += 2
	}
	if minEntry > 0 && uint64(b.Senc.SampleCount)*uint64(minEntry) > uint64(len(b.Senc.Raw)) {
		return nil, fmt.Errorf("%w: senc declares %d samples", ErrTruncated, b.Senc.SampleCount)
	}

	samples := make([]SampleEncryption, b.Senc.SampleCount)
	for i := range samples {
		s := &samples[i]
		s.IV = r.bytes(ivSize)
		if withSubsamples {
			n := int(r.uint16())
			if n > 0 && r.need(n*6) {
				s.Subsamples = make([]Subsample, n)
				for j := range s.Subsamples {
					s.Subsamples[j] = Subsample{
						Clear:     r.uint16(),
						Protected: r.uint32(),
					}
				}
			}
		}
		if r.err != nil {
			return nil, fmt.Errorf("senc sample %d: %w", i, r.err)
		}
	}
	return samples, nil
}
