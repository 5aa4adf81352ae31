package box

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// Decoding errors.
var (
	ErrTruncated   = errors.New("box: truncated")
	ErrInvalidSize = errors.New("box: invalid size")
)

const (
	compactHeaderSize = 8
	largeHeaderSize   = 16
	fullBoxHeaderSize = 4
)

// header is a decoded box header.
type header struct {
	typ  Type
	form HeaderForm
	size uint64 // total size including header; 0 for HeaderToEnd
	len  int    // header length in bytes
}

// parseHeader decodes a box header from buf.
func parseHeader(buf []byte) (header, error) {
	if len(buf) < compactHeaderSize {
		return header{}, ErrTruncated
	}
	h := header{len: compactHeaderSize}
	h.size = uint64(be.Uint32(buf))
	copy(h.typ[:], buf[4:8])

	switch h.size {
	case 0:
		h.form = HeaderToEnd
	case 1:
		if len(buf) < largeHeaderSize {
			return header{}, ErrTruncated
		}
		h.form = HeaderLarge
		h.size = be.Uint64(buf[8:])
		h.len = largeHeaderSize
	}

	if h.form != HeaderToEnd && h.size < uint64(h.len) {
		return header{}, fmt.Errorf("%w: %s declares %d bytes", ErrInvalidSize, h.typ, h.size)
	}
	return h, nil
}

// Decode decodes one box from the start of buf and returns it along with
// the number of bytes consumed. A box whose size field is 0 extends to the
// end of buf.
func Decode(buf []byte) (*Box, int, error) {
	return decodeAt(buf, 0)
}

// decodeAt decodes one box from buf; off is the absolute offset of buf[0]
// and is only used in error messages.
func decodeAt(buf []byte, off int64) (*Box, int, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("box at offset %d: %w", off, err)
	}

	end := uint64(len(buf))
	if h.form != HeaderToEnd {
		if h.size > end {
			return nil, 0, fmt.Errorf("box %s at offset %d: %w: declares %d bytes, %d available",
				h.typ, off, ErrInvalidSize, h.size, end)
		}
		end = h.size
	}

	b, err := decodePayload(h, buf[h.len:end], off+int64(h.len))
	if err != nil {
		return nil, 0, err
	}
	return b, int(end), nil
}

// decodePayload builds a Box of the header's type from its payload bytes.
func decodePayload(h header, p []byte, off int64) (*Box, error) {
	b := &Box{
		Type: h.typ,
		Form: h.form,
		kind: kindOf(h.typ),
	}

	start := off - int64(h.len)
	wrap := func(err error) error {
		return fmt.Errorf("box %s at offset %d: %w", h.typ, start, err)
	}

	if b.kind.isFullBox() {
		if len(p) < fullBoxHeaderSize {
			return nil, wrap(ErrTruncated)
		}
		vf := be.Uint32(p)
		b.Version = uint8(vf >> 24)
		b.Flags = vf & 0x00ffffff
		p = p[fullBoxHeaderSize:]
		off += fullBoxHeaderSize
	}

	switch b.kind {
	case KindOpaque:
		b.Data = p

	case KindContainer:
		children, tail, err := decodeChildren(p, off)
		if err != nil {
			return nil, err
		}
		b.Children = children
		b.Tail = tail

	case KindVisualEntry, KindAudioEntry:
		n := sampleEntryHeaderSize(b.kind, p)
		if len(p) < n {
			return nil, wrap(fmt.Errorf("%w: sample entry needs %d bytes, has %d", ErrTruncated, n, len(p)))
		}
		children, tail, err := decodeChildren(p[n:], off+int64(n))
		if err != nil {
			return nil, err
		}
		b.Entry = &SampleEntry{Prefix: p[:n:n], Children: children}
		b.Tail = tail

	case KindStsd:
		if len(p) < 4 {
			return nil, wrap(ErrTruncated)
		}
		entries, tail, err := decodeChildren(p[4:], off+4)
		if err != nil {
			return nil, err
		}
		b.Stsd = &Stsd{EntryCount: be.Uint32(p), Entries: entries}
		b.Tail = tail

	default:
		n, err := b.decodeLeaf(p)
		if err != nil {
			return nil, wrap(err)
		}
		if n < len(p) {
			b.Tail = p[n:]
		}
	}
	return b, nil
}

// decodeChildren decodes consecutive boxes filling p. Fewer than 8
// trailing bytes cannot hold a box and are returned as tail.
func decodeChildren(p []byte, off int64) ([]*Box, []byte, error) {
	var children []*Box
	pos := 0
	for len(p)-pos >= compactHeaderSize {
		child, n, err := decodeAt(p[pos:], off+int64(pos))
		if err != nil {
			return nil, nil, err
		}
		children = append(children, child)
		pos += n
	}
	if pos < len(p) {
		return children, p[pos:], nil
	}
	return children, nil, nil
}

// ReadBox reads and decodes one top-level box from r. It returns io.EOF
// if r is exhausted before the first header byte and a wrapped
// ErrTruncated if it ends inside the box. A box whose size field is 0
// consumes the rest of r.
func ReadBox(r io.Reader) (*Box, error) {
	b, _, err := readBoxAt(r, 0)
	return b, err
}

func readBoxAt(r io.Reader, off int64) (*Box, int64, error) {
	var hdr [largeHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:compactHeaderSize]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("box header at offset %d: %w", off, readErr(err))
	}
	if be.Uint32(hdr[:]) == 1 {
		if _, err := io.ReadFull(r, hdr[compactHeaderSize:]); err != nil {
			return nil, 0, fmt.Errorf("box header at offset %d: %w", off, readErr(err))
		}
	}
	h, err := parseHeader(hdr[:])
	if err != nil {
		return nil, 0, fmt.Errorf("box at offset %d: %w", off, err)
	}

	var payload []byte
	if h.form == HeaderToEnd {
		payload, err = io.ReadAll(r)
		if err != nil {
			return nil, 0, err
		}
	} else {
		n := h.size - uint64(h.len)
		if n > math.MaxInt64 {
			return nil, 0, fmt.Errorf("box %s at offset %d: %w", h.typ, off, ErrInvalidSize)
		}
		// Reading through a limit keeps a bogus size from allocating
		// the declared amount up front.
		payload, err = io.ReadAll(io.LimitReader(r, int64(n)))
		if err != nil {
			return nil, 0, err
		}
		if uint64(len(payload)) != n {
			return nil, 0, fmt.Errorf("box %s at offset %d: %w: declares %d bytes, read %d",
				h.typ, off, ErrTruncated, h.size, uint64(h.len)+uint64(len(payload)))
		}
	}

	b, err := decodePayload(h, payload, off+int64(h.len))
	if err != nil {
		return nil, 0, err
	}
	return b, int64(h.len) + int64(len(payload)), nil
}

func readErr(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return ErrTruncated
	}
	return err
}
