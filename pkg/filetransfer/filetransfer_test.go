package filetransfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/types"
)

func TestSenderReceiver_RoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "table_meta.txt"), []byte("meta-body"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "snapshot"), 0o750))
	dumpData := make([]byte, BlockSize+123) // force a multi-block transfer
	for i := range dumpData {
		dumpData[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "snapshot", "snap-1"), dumpData, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "snapshot", "MANIFEST"), []byte("name: snap-1\n"), 0o600))

	sender, err := NewSender(1, 0,
		filepath.Join(srcDir, "table_meta.txt"),
		filepath.Join(srcDir, "snapshot", "snap-1"),
		"snap-1",
		filepath.Join(srcDir, "snapshot", "MANIFEST"))
	require.NoError(t, err)

	dstDir := t.TempDir()
	recv := NewReceiver(dstDir)

	for _, f := range sender.Files() {
		err := sender.ChunkFile(f.Name, f.Path, func(c Chunk) error {
			return recv.Write(c)
		})
		require.NoError(t, err)
	}

	gotMeta, err := os.ReadFile(filepath.Join(dstDir, "table_meta.txt"))
	require.NoError(t, err)
	require.Equal(t, "meta-body", string(gotMeta))

	gotDump, err := os.ReadFile(filepath.Join(dstDir, "snapshot", "snap-1"))
	require.NoError(t, err)
	require.Equal(t, dumpData, gotDump)

	gotManifest, err := os.ReadFile(filepath.Join(dstDir, "snapshot", "MANIFEST"))
	require.NoError(t, err)
	require.Equal(t, "name: snap-1\n", string(gotManifest))

	exists, size := recv.CheckFile("snapshot/MANIFEST")
	require.True(t, exists)
	require.Equal(t, int64(len("name: snap-1\n")), size)
}

func TestReceiver_RejectsOutOfOrderBlock(t *testing.T) {
	dstDir := t.TempDir()
	recv := NewReceiver(dstDir)

	err := recv.Write(Chunk{TID: types.TID(1), PID: types.PID(0), FileName: "f", BlockID: 0, Data: []byte("a")})
	require.NoError(t, err)

	err = recv.Write(Chunk{TID: types.TID(1), PID: types.PID(0), FileName: "f", BlockID: 2, Data: []byte("c")})
	require.ErrorIs(t, err, dberrors.ErrBlockIdMismatch)
}

func TestReceiver_TreatsRetryOfLastBlockAsNoop(t *testing.T) {
	dstDir := t.TempDir()
	recv := NewReceiver(dstDir)

	require.NoError(t, recv.Write(Chunk{TID: 1, PID: 0, FileName: "f", BlockID: 0, Data: []byte("a")}))
	require.NoError(t, recv.Write(Chunk{TID: 1, PID: 0, FileName: "f", BlockID: 0, Data: []byte("a")}))
	require.NoError(t, recv.Write(Chunk{TID: 1, PID: 0, FileName: "f", BlockID: 1, Data: nil, EOF: true}))

	got, err := os.ReadFile(filepath.Join(dstDir, "f"))
	require.NoError(t, err)
	require.Equal(t, "a", string(got))
}

func TestReceiver_UnknownStreamNonZeroBlock(t *testing.T) {
	dstDir := t.TempDir()
	recv := NewReceiver(dstDir)

	err := recv.Write(Chunk{TID: 1, PID: 0, FileName: "ghost", BlockID: 1, Data: []byte("x")})
	require.ErrorIs(t, err, dberrors.ErrCannotFindReceiver)
}
