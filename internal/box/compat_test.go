package box_test

import (
	"bytes"
	"testing"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/box"
)

// containers that the independent parser is asked to descend into.
var expandTypes = map[string]bool{
	"moov": true, "trak": true, "mdia": true, "minf": true, "stbl": true,
	"stsd": true, "encv": true, "avc1": true, "sinf": true, "schi": true,
	"mvex": true, "moof": true, "traf": true,
}

type placed struct {
	typ    string
	offset uint64
	size   uint64
}

// TestEncodeReadableByOtherParser re-encodes an edited file and walks it
// with abema/go-mp4.
func TestEncodeReadableByOtherParser(t *testing.T) {
	boxes := decodeAll(t, fixtureFile().Encrypted())

	for _, b := range boxes {
		if b.Type == box.TypeMoov {
			b.Form = box.HeaderLarge
		}
		for entry := range b.Find(box.TypeEncv) {
			entry.Type = box.StrToType("avc1")
		}
	}

	var buf bytes.Buffer
	var want []placed
	for _, b := range boxes {
		want = append(want, placed{b.Type.String(), uint64(buf.Len()), b.Size()})
		require.NoError(t, b.Encode(&buf))
	}

	var top []placed
	counts := make(map[string]int)
	_, err := gomp4.ReadBoxStructure(bytes.NewReader(buf.Bytes()), func(h *gomp4.ReadHandle) (interface{}, error) {
		typ := h.BoxInfo.Type.String()
		counts[typ]++
		if len(h.Path) == 1 {
			top = append(top, placed{typ, h.BoxInfo.Offset, h.BoxInfo.Size})
		}
		if expandTypes[typ] {
			return h.Expand()
		}
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, want, top)

	for _, typ := range []string{"trak", "avc1", "sinf", "frma", "tenc", "traf", "tfhd", "trun", "senc"} {
		n := 0
		for _, b := range boxes {
			for range b.Find(box.StrToType(typ)) {
				n++
			}
		}
		require.NotZero(t, n, typ)
		require.Equal(t, n, counts[typ], typ)
	}
	require.Zero(t, counts["encv"])
}
