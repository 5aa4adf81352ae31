package box

import (
	"bufio"
	"io"
)

// Scanner reads top-level boxes from a stream one at a time. Each box is
// fully decoded before Next returns; nothing is read ahead beyond the
// buffered reader.
//
// Typical usage:
//
//	sc := box.NewScanner(f)
//	for sc.Next() {
//	    b := sc.Box()
//	    // inspect or modify b, then b.Encode(out)
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	r      *bufio.Reader
	box    *Box
	offset int64 // offset of the current box
	pos    int64 // offset of the next box
	err    error
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}
	return &Scanner{r: br}
}

// Next advances to the next top-level box. It returns false at the end of
// the stream or on error; check Err after the loop.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	if _, err := s.r.Peek(1); err != nil {
		if err != io.EOF {
			s.err = err
		}
		s.box = nil
		return false
	}

	b, n, err := readBoxAt(s.r, s.pos)
	if err != nil {
		s.err = err
		s.box = nil
		return false
	}
	s.box = b
	s.offset = s.pos
	s.pos += n
	return true
}

// Box returns the current box. Only valid after Next returns true.
func (s *Scanner) Box() *Box { return s.box }

// Offset returns the stream offset of the current box.
func (s *Scanner) Offset() int64 { return s.offset }

// Consumed returns the number of bytes read so far.
func (s *Scanner) Consumed() int64 { return s.pos }

// Err returns the first error encountered by the Scanner. Reaching the end
// of the stream is not an error.
func (s *Scanner) Err() error { return s.err }
