package probe

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/models"
	"github.com/mohaanymo/cencdec/internal/test"
)

func fixture() test.File {
	return test.File{Fragments: []test.Fragment{
		{Samples: []test.Sample{
			{Data: test.Payload(32, 1), IV: test.U64(1)},
			{Data: test.Payload(16, 2), IV: test.U64(2)},
		}},
		{Samples: []test.Sample{
			{Data: test.Payload(40, 3), IV: test.U64(3)},
		}},
	}}
}

func TestInspectProtected(t *testing.T) {
	rep, err := Inspect(bytes.NewReader(fixture().Encrypted()))
	require.NoError(t, err)

	require.Equal(t, "iso6", rep.MajorBrand)
	require.True(t, rep.Fragmented)
	require.Equal(t, 2, rep.Fragments)
	require.True(t, rep.Protected())
	require.Equal(t, []models.Track{{
		ID:             1,
		Type:           models.TrackVideo,
		Handler:        "vide",
		Format:         "encv",
		OriginalFormat: "avc1",
		Scheme:         "cenc",
		KID:            uuid.UUID(test.KID).String(),
		IVSize:         8,
	}}, rep.Tracks)
}

func TestInspectDecrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clear.mp4")
	require.NoError(t, os.WriteFile(path, fixture().Decrypted(), 0o644))

	rep, err := InspectFile(path)
	require.NoError(t, err)
	require.False(t, rep.Protected())
	require.Len(t, rep.Tracks, 1)
	require.Equal(t, "avc1", rep.Tracks[0].Format)
	require.Equal(t, "avc1", rep.Tracks[0].Codec())
}

func TestInspectErrors(t *testing.T) {
	_, err := InspectFile(filepath.Join(t.TempDir(), "missing.mp4"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDump(t *testing.T) {
	var out bytes.Buffer
	err := Dump(bytes.NewReader(fixture().Encrypted()), &out)
	require.NoError(t, err)

	var types []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if !strings.HasPrefix(line, " ") {
			types = append(types, strings.Fields(line)[0])
		}
	}
	require.Equal(t, []string{"ftyp", "moov", "moof", "mdat", "moof", "mdat"}, types)
	require.Contains(t, out.String(), "\n  trak size=")
	require.Contains(t, out.String(), "tenc size=")
	require.Contains(t, out.String(), "senc size=")
}
