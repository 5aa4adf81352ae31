// Package test contains fixtures shared by the package tests.
package test

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"slices"

	"github.com/mohaanymo/cencdec/internal/box"
)

// Key and KID used by fixtures unless overridden.
var (
	Key = []byte{
		0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
		0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f,
	}
	KID = [16]byte{
		0xa7, 0xe6, 0x1c, 0x37, 0x3e, 0x21, 0x9d, 0x0b,
		0x8f, 0x5e, 0x4a, 0x0a, 0x2c, 0x1f, 0x5d, 0x66,
	}
)

// KeyHex and KIDHex are the hex forms of Key and KID.
const (
	KeyHex = "101112131415161718191a1b1c1d1e1f"
	KIDHex = "a7e61c373e219d0b8f5e4a0a2c1f5d66"
)

// U16 encodes v big-endian.
func U16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }

// U32 encodes v big-endian.
func U32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

// U64 encodes v big-endian.
func U64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

// Box encodes a box with a compact header.
func Box(typ string, parts ...[]byte) []byte {
	payload := slices.Concat(parts...)
	out := U32(uint32(8 + len(payload)))
	out = append(out, typ[:4]...)
	return append(out, payload...)
}

// FullBox encodes a full box with a compact header.
func FullBox(typ string, version uint8, flags uint32, parts ...[]byte) []byte {
	vf := U32(uint32(version)<<24 | flags&0x00ffffff)
	return Box(typ, append([][]byte{vf}, parts...)...)
}

// Sample is one plaintext media sample and how it is protected.
type Sample struct {
	Data       []byte
	IV         []byte
	Subsamples []box.Subsample
}

// Fragment is one moof+mdat pair.
type Fragment struct {
	Samples []Sample
}

// File describes a protected single-track fragmented file.
type File struct {
	Key            []byte
	KID            [16]byte
	IVSize         uint8
	OriginalFormat string
	Fragments      []Fragment

	// GlobalSampleSize is written to the stsz box of the track.
	GlobalSampleSize uint32
	// DefaultSampleSize moves sample sizes from trun into tfhd.
	DefaultSampleSize bool
}

func (f *File) defaults() {
	if f.Key == nil {
		f.Key = Key
	}
	if f.KID == ([16]byte{}) {
		f.KID = KID
	}
	if f.IVSize == 0 {
		f.IVSize = 8
	}
	if f.OriginalFormat == "" {
		f.OriginalFormat = "avc1"
	}
}

// Encrypted returns the protected file.
func (f File) Encrypted() []byte {
	f.defaults()
	return f.build(true)
}

// Decrypted returns the file expected after decryption: the same boxes with
// clear sample data and the sample entry renamed to the original format.
func (f File) Decrypted() []byte {
	f.defaults()
	return f.build(false)
}

// Init returns the ftyp and moov boxes of the protected file.
func (f File) Init() []byte {
	f.defaults()
	return slices.Concat(f.ftyp(), f.moov("encv"))
}

func (f *File) build(encrypted bool) []byte {
	entryType := f.OriginalFormat
	if encrypted {
		entryType = "encv"
	}
	out := slices.Concat(f.ftyp(), f.moov(entryType))
	for i, frag := range f.Fragments {
		out = append(out, f.fragment(uint32(i+1), frag, encrypted)...)
	}
	return out
}

func (f *File) ftyp() []byte {
	return Box("ftyp", []byte("iso6"), U32(0), []byte("iso6"), []byte("dash"))
}

func (f *File) moov(entryType string) []byte {
	mvhd := FullBox("mvhd", 0, 0,
		U32(0), U32(0), U32(1000), U32(0), // times, timescale, duration
		U32(0x00010000), U16(0x0100), make([]byte, 10),
		identityMatrix(), make([]byte, 24), U32(2))

	tkhd := FullBox("tkhd", 0, 3,
		U32(0), U32(0), U32(1), U32(0), U32(0), // times, track id, reserved, duration
		make([]byte, 8), U16(0), U16(0), U16(0), U16(0),
		identityMatrix(), U32(640<<16), U32(360<<16))

	mdhd := FullBox("mdhd", 0, 0, U32(0), U32(0), U32(90000), U32(0), U16(0x55c4), U16(0))
	hdlr := FullBox("hdlr", 0, 0, U32(0), []byte("vide"), make([]byte, 12), []byte("video\x00"))
	vmhd := FullBox("vmhd", 0, 1, make([]byte, 8))
	dinf := Box("dinf", FullBox("dref", 0, 0, U32(1), FullBox("url ", 0, 1)))

	stbl := Box("stbl",
		FullBox("stsd", 0, 0, U32(1), f.sampleEntry(entryType)),
		FullBox("stts", 0, 0, U32(0)),
		FullBox("stsc", 0, 0, U32(0)),
		FullBox("stsz", 0, 0, U32(f.GlobalSampleSize), U32(0)),
		FullBox("stco", 0, 0, U32(0)),
	)

	trak := Box("trak", tkhd, Box("mdia", mdhd, hdlr, Box("minf", vmhd, dinf, stbl)))
	mvex := Box("mvex", FullBox("trex", 0, 0, U32(1), U32(1), U32(3000), U32(0), U32(0)))
	pssh := FullBox("pssh", 1, 0,
		[]byte{0x10, 0x77, 0xef, 0xec, 0xc0, 0xb2, 0x4d, 0x02, 0xac, 0xe3, 0x3c, 0x1e, 0x52, 0xe2, 0xfb, 0x4b},
		U32(1), f.KID[:], U32(0))

	return Box("moov", mvhd, trak, mvex, pssh)
}

func (f *File) sampleEntry(entryType string) []byte {
	return ProtectedEntry(entryType, f.OriginalFormat, f.IVSize, f.KID)
}

// ProtectedEntry encodes a sample entry carrying a 'cenc' protection
// scheme for the given original format. An "enca" entry gets an audio
// sample entry layout, anything else a visual one.
func ProtectedEntry(entryType, originalFormat string, ivSize uint8, kid [16]byte) []byte {
	sinf := Box("sinf",
		Box("frma", []byte(originalFormat)),
		FullBox("schm", 0, 0, []byte("cenc"), U32(0x00010000)),
		Box("schi", FullBox("tenc", 0, 0, []byte{0, 0, 1, ivSize}, kid[:])),
	)

	if entryType == "enca" {
		prefix := slices.Concat(
			make([]byte, 6), U16(1), // reserved, data reference index
			make([]byte, 8),         // version and reserved
			U16(2), U16(16), U16(0), U16(0),
			U32(48000<<16),
		)
		return Box(entryType, prefix, sinf)
	}

	prefix := slices.Concat(
		make([]byte, 6), U16(1),
		make([]byte, 16), // pre_defined and reserved
		U16(640), U16(360),
		U32(0x00480000), U32(0x00480000), U32(0),
		U16(1), make([]byte, 32), U16(0x0018), U16(0xffff),
	)
	return Box(entryType, prefix, Box("pasp", U32(1), U32(1)), sinf)
}

func (f *File) fragment(seq uint32, frag Fragment, encrypted bool) []byte {
	subsamples := false
	for _, s := range frag.Samples {
		if len(s.Subsamples) > 0 {
			subsamples = true
		}
	}

	var sencEntries []byte
	var auxSizes []byte
	for _, s := range frag.Samples {
		entry := slices.Clone(s.IV)
		if subsamples {
			entry = append(entry, U16(uint16(len(s.Subsamples)))...)
			for _, ss := range s.Subsamples {
				entry = append(entry, U16(ss.Clear)...)
				entry = append(entry, U32(ss.Protected)...)
			}
		}
		sencEntries = append(sencEntries, entry...)
		auxSizes = append(auxSizes, byte(len(entry)))
	}
	sencFlags := uint32(0)
	if subsamples {
		sencFlags = box.SencUseSubsamples
	}

	count := uint32(len(frag.Samples))
	tfhdFlags := uint32(box.TfhdDefaultBaseIsMoof)
	tfhdFields := [][]byte{U32(1)}
	trunFlags := uint32(box.TrunDataOffsetPresent | box.TrunSampleSizePresent)
	if f.DefaultSampleSize {
		tfhdFlags |= box.TfhdDefaultSampleSizePresent
		tfhdFields = append(tfhdFields, U32(uint32(len(frag.Samples[0].Data))))
		trunFlags = box.TrunDataOffsetPresent
	}

	mfhd := FullBox("mfhd", 0, 0, U32(seq))
	tfhd := FullBox("tfhd", 0, tfhdFlags, tfhdFields...)
	tfdt := FullBox("tfdt", 1, 0, U64(uint64(seq-1)*3000))
	saiz := FullBox("saiz", 0, 0, []byte{0}, U32(count), auxSizes)
	senc := FullBox("senc", 0, sencFlags, U32(count), sencEntries)

	trunFor := func(dataOffset uint32) []byte {
		fields := [][]byte{U32(count), U32(dataOffset)}
		if !f.DefaultSampleSize {
			for _, s := range frag.Samples {
				fields = append(fields, U32(uint32(len(s.Data))))
			}
		}
		return FullBox("trun", 0, trunFlags, fields...)
	}

	// saio points at the first senc entry, relative to the moof start.
	placeholderTrun := trunFor(0)
	saioFor := func(off uint32) []byte { return FullBox("saio", 0, 0, U32(1), U32(off)) }
	sencOffset := 8 + len(mfhd) + 8 + len(tfhd) + len(tfdt) + len(placeholderTrun) +
		len(saiz) + len(saioFor(0)) + 16

	traf := Box("traf", tfhd, tfdt, placeholderTrun, saiz, saioFor(uint32(sencOffset)), senc)
	moofSize := 8 + len(mfhd) + len(traf)
	traf = Box("traf", tfhd, tfdt, trunFor(uint32(moofSize+8)), saiz, saioFor(uint32(sencOffset)), senc)
	moof := Box("moof", mfhd, traf)

	var mdat []byte
	for _, s := range frag.Samples {
		if encrypted {
			mdat = append(mdat, EncryptSample(f.Key, s.IV, s.Data, s.Subsamples)...)
		} else {
			mdat = append(mdat, s.Data...)
		}
	}
	return slices.Concat(moof, Box("mdat", mdat))
}

func identityMatrix() []byte {
	return slices.Concat(
		U32(0x00010000), U32(0), U32(0),
		U32(0), U32(0x00010000), U32(0),
		U32(0), U32(0), U32(0x40000000),
	)
}

// EncryptSample applies CENC AES-CTR protection to a sample: the IV is
// zero-padded to a 16-byte counter block and one keystream runs across
// all protected spans of the sample.
func EncryptSample(key, iv, data []byte, subsamples []box.Subsample) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	var ctr [aes.BlockSize]byte
	copy(ctr[:], iv)
	stream := cipher.NewCTR(block, ctr[:])

	out := slices.Clone(data)
	if len(subsamples) == 0 {
		stream.XORKeyStream(out, out)
		return out
	}
	pos := 0
	for _, ss := range subsamples {
		pos += int(ss.Clear)
		end := pos + int(ss.Protected)
		stream.XORKeyStream(out[pos:end], out[pos:end])
		pos = end
	}
	return out
}

// Payload returns n deterministic bytes starting at seed.
func Payload(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i*7)
	}
	return p
}
