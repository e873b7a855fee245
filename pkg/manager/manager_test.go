package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/config"
	"tabletdb/pkg/filetransfer"
	"tabletdb/pkg/replication"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.DBRootPaths = []string{dir}
	cfg.Storage.SSDRootPaths = nil
	cfg.Storage.HDDRootPaths = nil
	cfg.Recycle.Enabled = false
	return cfg
}

func memTableMeta(tid types.TID, pid types.PID) *schema.TableMeta {
	return &schema.TableMeta{
		Name: "t",
		TID:  tid,
		PID:  pid,
		Columns: []schema.ColumnDesc{
			{Name: "pk", Type: types.ColString},
		},
		Indexes:     []schema.IndexDesc{{IndexName: "idx0", KeyColumns: []string{"pk"}}},
		TableType:   types.TableRelational,
		StorageMode: types.StorageMemory,
	}
}

func TestCreateTable_RejectsDuplicate(t *testing.T) {
	mgr, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer mgr.Close()

	meta := memTableMeta(1, 0)
	require.NoError(t, mgr.CreateTable(meta))
	require.Error(t, mgr.CreateTable(memTableMeta(1, 0)))
}

func TestPutGetDelete_RoundTrip(t *testing.T) {
	mgr, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer mgr.Close()

	require.NoError(t, mgr.CreateTable(memTableMeta(1, 0)))

	dims := []binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}}
	require.NoError(t, mgr.Put(1, 0, dims, nil, []byte("v1")))

	e, err := mgr.Get(1, 0, "idx0", []byte("k1"), "", types.Eq, 0, 0, types.Ge)
	require.NoError(t, err)
	require.Equal(t, "v1", string(e.Value))

	require.NoError(t, mgr.Delete(1, 0, "idx0", []byte("k1")))
	_, err = mgr.Get(1, 0, "idx0", []byte("k1"), "", types.Eq, 0, 0, types.Ge)
	require.Error(t, err)
}

func TestTraverse_RespectsConfiguredMax(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scan.MaxTraverseCnt = 2
	mgr, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer mgr.Close()

	require.NoError(t, mgr.CreateTable(memTableMeta(1, 0)))
	for _, k := range []string{"a", "b", "c", "d"} {
		dims := []binlog.Dimension{{IndexName: "idx0", Key: []byte(k)}}
		require.NoError(t, mgr.Put(1, 0, dims, nil, []byte(k)))
	}

	rows, err := mgr.Traverse(1, 0, "idx0", 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(rows), 2)
}

func TestDropTable_RemovesFromRegistry(t *testing.T) {
	mgr, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer mgr.Close()

	require.NoError(t, mgr.CreateTable(memTableMeta(1, 0)))
	require.NoError(t, mgr.DropTable(1, 0))

	_, err = mgr.Count(1, 0)
	require.Error(t, err)
}

func TestAddReplica_FailsWithoutDialer(t *testing.T) {
	mgr, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer mgr.Close()

	require.NoError(t, mgr.CreateTable(memTableMeta(1, 0)))
	err = mgr.AddReplica(1, 0, "peer:1", 0)
	require.Error(t, err)
}

type fakeDialer struct{}

type fakeFollowerClient struct{}

func (fakeFollowerClient) AppendEntries(ctx context.Context, req replication.AppendEntriesRequest) (replication.AppendEntriesResponse, error) {
	return replication.AppendEntriesResponse{Ok: true}, nil
}

type fakeChunkSender struct{}

func (fakeChunkSender) SendChunk(ctx context.Context, c filetransfer.Chunk) error {
	return nil
}

func (fakeDialer) Dial(endpoint types.NodeID) (replication.FollowerClient, ChunkSender) {
	return fakeFollowerClient{}, fakeChunkSender{}
}

func TestAddReplica_SucceedsWithDialer(t *testing.T) {
	mgr, err := New(context.Background(), testConfig(t), fakeDialer{})
	require.NoError(t, err)
	defer mgr.Close()

	require.NoError(t, mgr.CreateTable(memTableMeta(1, 0)))
	require.NoError(t, mgr.AddReplica(1, 0, "peer:1", 0))

	info, err := mgr.GetTableFollower(1, 0)
	require.NoError(t, err)
	require.Contains(t, info, types.NodeID("peer:1"))
}

func TestGetTaskStatus_UnknownOpID(t *testing.T) {
	mgr, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer mgr.Close()

	_, ok := mgr.GetTaskStatus("no-such-op")
	require.False(t, ok)
}

func TestSetConcurrency_UnknownKeyUpdatesDefault(t *testing.T) {
	mgr, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer mgr.Close()

	mgr.SetConcurrency("unused-key", 7)
	require.Equal(t, 7, mgr.concurrencyLimit("anything"))
}
