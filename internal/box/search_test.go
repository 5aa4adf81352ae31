package box_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/box"
	"github.com/mohaanymo/cencdec/internal/test"
)

func TestFindOrder(t *testing.T) {
	in := test.Box("moov",
		test.Box("free", []byte{1}),
		test.Box("trak", test.Box("free", []byte{2}), test.Box("edts", test.Box("free", []byte{3}))),
		test.Box("free", []byte{4}),
	)
	b, _, err := box.Decode(in)
	require.NoError(t, err)

	var got []byte
	for f := range b.Find(box.TypeFree) {
		got = append(got, f.Data[0])
	}
	require.Equal(t, []byte{1, 2, 3, 4}, got)

	require.Equal(t, byte(1), b.First(box.TypeFree).Data[0])
	require.Equal(t, byte(4), b.Last(box.TypeFree).Data[0])
	require.Nil(t, b.First(box.TypeMdat))
	require.Nil(t, b.Last(box.TypeMdat))
}

func TestFindIncludesReceiver(t *testing.T) {
	b, _, err := box.Decode(test.Box("moof", test.Box("moof")))
	require.NoError(t, err)

	n := 0
	for f := range b.Find(box.TypeMoof) {
		if n == 0 {
			require.Same(t, b, f)
		}
		n++
	}
	require.Equal(t, 2, n)
}

func TestFindEarlyStop(t *testing.T) {
	b, _, err := box.Decode(test.Box("moov",
		test.Box("free", []byte{1}),
		test.Box("free", []byte{2}),
		test.Box("free", []byte{3}),
	))
	require.NoError(t, err)

	visited := 0
	for range b.Find(box.TypeFree) {
		visited++
		if visited == 2 {
			break
		}
	}
	require.Equal(t, 2, visited)
}

func TestFindInsideSampleEntries(t *testing.T) {
	initSeg := test.File{OriginalFormat: "hvc1"}.Init()
	boxes := decodeAll(t, initSeg)
	moov := boxes[1]

	frma := moov.First(box.TypeFrma)
	require.NotNil(t, frma)
	require.Equal(t, box.TypeHvc1, frma.Frma.DataFormat)

	var entries []*box.Box
	for e := range moov.Find(box.TypeEncv) {
		entries = append(entries, e)
	}
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].First(box.TypeTenc))
}
