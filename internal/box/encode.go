package box

import (
	"bytes"
	"io"
	"math"
)

// payloadSize returns the encoded size of everything after the header.
func (b *Box) payloadSize() uint64 {
	var n uint64
	if b.kind.isFullBox() {
		n += fullBoxHeaderSize
	}

	switch b.kind {
	case KindOpaque:
		n += uint64(len(b.Data))
	case KindContainer:
		n += childrenSize(b.Children)
	case KindVisualEntry, KindAudioEntry:
		n += uint64(len(b.Entry.Prefix)) + childrenSize(b.Entry.Children)
	case KindStsd:
		n += 4 + childrenSize(b.Stsd.Entries)
	default:
		n += uint64(len(b.appendLeaf(nil)))
	}
	return n + uint64(len(b.Tail))
}

func childrenSize(children []*Box) uint64 {
	var n uint64
	for _, c := range children {
		n += c.Size()
	}
	return n
}

// headerSize returns the header length used when encoding b.
func (b *Box) headerSize(payload uint64) int {
	if b.Form == HeaderLarge || payload+compactHeaderSize > math.MaxUint32 {
		return largeHeaderSize
	}
	return compactHeaderSize
}

// Size returns the total encoded size of b, header included. It is always
// recomputed from the payload, never taken from the input.
func (b *Box) Size() uint64 {
	p := b.payloadSize()
	return uint64(b.headerSize(p)) + p
}

// appendHeader appends the box header for a payload of the given size.
func (b *Box) appendHeader(dst []byte, payload uint64) []byte {
	hs := b.headerSize(payload)
	switch {
	case hs == largeHeaderSize:
		dst = be.AppendUint32(dst, 1)
		dst = append(dst, b.Type[:]...)
		dst = be.AppendUint64(dst, payload+largeHeaderSize)
	case b.Form == HeaderToEnd:
		dst = be.AppendUint32(dst, 0)
		dst = append(dst, b.Type[:]...)
	default:
		dst = be.AppendUint32(dst, uint32(payload+compactHeaderSize))
		dst = append(dst, b.Type[:]...)
	}
	if b.kind.isFullBox() {
		dst = be.AppendUint32(dst, uint32(b.Version)<<24|b.Flags&0x00ffffff)
	}
	return dst
}

// Encode writes b and all of its descendants to w.
func (b *Box) Encode(w io.Writer) error {
	var scratch [largeHeaderSize + fullBoxHeaderSize]byte
	hdr := b.appendHeader(scratch[:0], b.payloadSize())

	switch b.kind {
	case KindOpaque:
		if err := writeAll(w, hdr, b.Data); err != nil {
			return err
		}

	case KindContainer:
		if err := writeAll(w, hdr); err != nil {
			return err
		}
		if err := encodeChildren(w, b.Children); err != nil {
			return err
		}

	case KindVisualEntry, KindAudioEntry:
		if err := writeAll(w, hdr, b.Entry.Prefix); err != nil {
			return err
		}
		if err := encodeChildren(w, b.Entry.Children); err != nil {
			return err
		}

	case KindStsd:
		hdr = be.AppendUint32(hdr, b.Stsd.EntryCount)
		if err := writeAll(w, hdr); err != nil {
			return err
		}
		if err := encodeChildren(w, b.Stsd.Entries); err != nil {
			return err
		}

	default:
		if err := writeAll(w, b.appendLeaf(hdr)); err != nil {
			return err
		}
	}

	return writeAll(w, b.Tail)
}

func encodeChildren(w io.Writer, children []*Box) error {
	for _, c := range children {
		if err := c.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func writeAll(w io.Writer, chunks ...[]byte) error {
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the encoded form of b.
func (b *Box) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(int(b.Size()))
	b.Encode(&buf) //nolint:errcheck // bytes.Buffer writes do not fail
	return buf.Bytes()
}
