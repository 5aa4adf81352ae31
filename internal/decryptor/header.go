package decryptor

import (
	"bytes"

	"github.com/mohaanymo/cencdec/internal/box"
)

// protectedPrefix marks sample entry types that wrap a protected format
// (encv, enca, enct, encs).
var protectedPrefix = []byte("enc")

// isProtectedEntry reports whether t names a protected sample entry.
func isProtectedEntry(t box.Type) bool {
	return bytes.HasPrefix(t[:], protectedPrefix)
}

// formatState is the original sample format last declared by a frma box.
// It lives across top-level boxes; a later declaration replaces an
// earlier one.
type formatState struct {
	format box.Type
	known  bool
}

// observe records the last original format declared inside b, if any.
func (s *formatState) observe(b *box.Box) {
	if f := b.Last(box.TypeFrma); f != nil {
		s.format = f.Frma.DataFormat
		s.known = true
	}
}

// restoreFormats renames every protected sample entry found under b and
// returns how many were renamed.
//
// By default the entry takes the format held in st. With perTrack set, an
// entry takes the format from the frma inside its own protection scheme
// and falls back to st when it has none. Entries are left alone while no
// original format is known.
func restoreFormats(b *box.Box, st *formatState, perTrack bool) int {
	st.observe(b)

	patched := 0
	for stsd := range b.Find(box.TypeStsd) {
		for _, entry := range stsd.Stsd.Entries {
			if !isProtectedEntry(entry.Type) {
				continue
			}
			format, ok := st.format, st.known
			if perTrack {
				if f := entry.Last(box.TypeFrma); f != nil {
					format, ok = f.Frma.DataFormat, true
				}
			}
			if !ok {
				continue
			}
			entry.Type = format
			patched++
		}
	}
	return patched
}
