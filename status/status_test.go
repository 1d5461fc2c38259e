package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinythings/bootr/bootrerr"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	r := &Record{
		Created:      &now,
		Architecture: "amd64",
		OS:           "linux",
		Rootfs:       Rootfs{Type: "layers", DiffIDs: []string{"sha256:aaa", "sha256:bbb"}},
	}

	require.NoError(t, Save(r, dir))
	require.True(t, Exists(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, r.Architecture, loaded.Architecture)
	require.Equal(t, r.Rootfs.DiffIDs, loaded.Rootfs.DiffIDs)
	require.True(t, r.Created.Equal(*loaded.Created))
}

func TestLoadFailsInvalidDataOnMalformedTimestamp(t *testing.T) {
	dir := t.TempDir()
	bad := "architecture: amd64\nos: linux\nrootfs:\n  type: layers\n  diff_ids: []\ncreated: \"not-a-time\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(bad), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	require.ErrorIs(t, err, bootrerr.InvalidData)
}

func TestLoadFailsNotFound(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	require.ErrorIs(t, err, bootrerr.NotFound)
}
