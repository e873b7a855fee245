// Package config is the tablet's configuration surface: yaml-tagged
// structs loaded with goccy/go-yaml, mirroring the teacher's
// validate-tagged Config, expanded to the option list the tablet
// actually reads at startup.
package config

import "time"

// Config is the root tablet configuration.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger" validate:"required"`
	Server      ServerConfig      `yaml:"http-server" validate:"required"`
	Node        NodeConfig        `yaml:"node" validate:"required"`
	Storage     StorageConfig     `yaml:"storage" validate:"required"`
	Memtable    MemtableConfig    `yaml:"memtable" validate:"required"`
	Persistence PersistenceConfig `yaml:"persistence" validate:"required"`
	Recycle     RecycleConfig     `yaml:"recycle"`
	GC          GCConfig          `yaml:"gc"`
	Scan        ScanConfig        `yaml:"scan"`
	TTL         TTLConfig         `yaml:"ttl"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Binlog      BinlogConfig      `yaml:"binlog"`
	Pool        PoolConfig        `yaml:"pool"`
	ZooKeeper   ZooKeeperConfig   `yaml:"zookeeper"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// NodeConfig identifies this tablet process.
type NodeConfig struct {
	Endpoint string `yaml:"endpoint" validate:"required"`
}

// StorageConfig lists the comma-separated roots per storage mode,
// per spec.md §6 (db_root_path, ssd_root_path, hdd_root_path).
type StorageConfig struct {
	DBRootPaths  []string `yaml:"db_root_path"`
	SSDRootPaths []string `yaml:"ssd_root_path"`
	HDDRootPaths []string `yaml:"hdd_root_path"`
}

type MemtableConfig struct {
	FlushThresholdBytes int `yaml:"flush_threshold" validate:"required,min=1"`
	FlushChanBuffSize   int `yaml:"flush_chan_buff_size" validate:"required,min=1"`
	MaxImmTables        int `yaml:"max_imm_tables" validate:"min=0"`
}

type PersistenceConfig struct {
	SSTable     SSTableConfig     `yaml:"sstable" validate:"required"`
	Cache       CacheConfig       `yaml:"cache" validate:"required"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter" validate:"required"`
}

type SSTableConfig struct {
	SizeMultiplier   int `yaml:"size_multiplier" validate:"required,min=1"`
	CompactThreshold int `yaml:"compact_threshold" validate:"required,min=1"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity" validate:"required,min=1"`
}

type BloomFilterConfig struct {
	FPRate float64 `yaml:"fp_rate" validate:"required,gt=0,lt=1"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// RecycleConfig controls tombstoned-directory retention (spec.md §6).
type RecycleConfig struct {
	RecycleBinRootPaths []string      `yaml:"recycle_bin_root_path"`
	Enabled             bool          `yaml:"recycle_bin_enabled"`
	TTL                 time.Duration `yaml:"recycle_ttl"`
}

// GCConfig controls garbage collection cadence.
type GCConfig struct {
	Interval     time.Duration `yaml:"gc_interval"`
	DiskInterval time.Duration `yaml:"disk_gc_interval"`
	PoolSize     int           `yaml:"gc_pool_size"`
}

// ScanConfig bounds range scans/traversals.
type ScanConfig struct {
	MaxBytesSize     int64 `yaml:"scan_max_bytes_size"`
	ReserveSize      int64 `yaml:"scan_reserve_size"`
	MaxTraverseCnt   int   `yaml:"max_traverse_cnt"`
	RemoveDuplicated bool  `yaml:"enable_remove_duplicated_record"`
}

// TTLConfig is the deployment-wide TTL ceiling.
type TTLConfig struct {
	AbsoluteTTLMax time.Duration `yaml:"absolute_ttl_max"`
	LatestTTLMax   uint64        `yaml:"latest_ttl_max"`
}

// SnapshotConfig controls snapshot scheduling.
type SnapshotConfig struct {
	MakeSnapshotTime            string        `yaml:"make_snapshot_time"`
	MakeSnapshotCheckInterval   time.Duration `yaml:"make_snapshot_check_interval"`
	MakeSnapshotOfflineInterval time.Duration `yaml:"make_snapshot_offline_interval"`
	MakeSnapshotThresholdOffset uint64        `yaml:"make_snapshot_threshold_offset"`
	MakeDiskTableSnapshotInterval time.Duration `yaml:"make_disktable_snapshot_interval"`
}

// BinlogConfig controls durability/retention of the binlog.
type BinlogConfig struct {
	SyncToDiskInterval time.Duration `yaml:"binlog_sync_to_disk_interval"`
	DeleteInterval     time.Duration `yaml:"binlog_delete_interval"`
	NotifyOnPut        bool          `yaml:"binlog_notify_on_put"`
	SegmentMaxBytes    int64         `yaml:"binlog_segment_max_bytes"`
}

// PoolConfig sizes the worker pools of §5.
type PoolConfig struct {
	TaskPoolSize int `yaml:"task_pool_size"`
	IOPoolSize   int `yaml:"io_pool_size"`
}

// ZooKeeperConfig describes the coordination service connection.
type ZooKeeperConfig struct {
	Servers        []string      `yaml:"zk_cluster"`
	RootPath       string        `yaml:"zk_root_path"`
	SessionTimeout time.Duration `yaml:"zk_session_timeout"`
}

// Default returns a baseline development config with one local root per
// storage mode and conservative scheduling intervals.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO", JSON: false},
		Server: ServerConfig{Port: 8080, ReadHeaderTimeout: 5 * time.Second},
		Node:   NodeConfig{Endpoint: "127.0.0.1:8080"},
		Storage: StorageConfig{
			DBRootPaths:  []string{"./data/db"},
			SSDRootPaths: []string{"./data/ssd"},
			HDDRootPaths: []string{"./data/hdd"},
		},
		Memtable: MemtableConfig{
			FlushThresholdBytes: 1 << 20,
			FlushChanBuffSize:   3,
			MaxImmTables:        3,
		},
		Persistence: PersistenceConfig{
			SSTable:     SSTableConfig{SizeMultiplier: 10, CompactThreshold: 4},
			Cache:       CacheConfig{Capacity: 1024},
			BloomFilter: BloomFilterConfig{FPRate: 0.01},
		},
		Recycle: RecycleConfig{
			RecycleBinRootPaths: []string{"./data/recycle"},
			Enabled:             true,
			TTL:                 24 * time.Hour,
		},
		GC: GCConfig{Interval: time.Minute, DiskInterval: 10 * time.Minute, PoolSize: 4},
		Scan: ScanConfig{MaxBytesSize: 2 << 20, ReserveSize: 1 << 10, MaxTraverseCnt: 10000, RemoveDuplicated: false},
		TTL:  TTLConfig{AbsoluteTTLMax: 30 * 24 * time.Hour, LatestTTLMax: 1000},
		Snapshot: SnapshotConfig{
			MakeSnapshotCheckInterval:     time.Minute,
			MakeSnapshotOfflineInterval:   10 * time.Minute,
			MakeSnapshotThresholdOffset:   100000,
			MakeDiskTableSnapshotInterval: time.Hour,
		},
		Binlog: BinlogConfig{
			SyncToDiskInterval: time.Second,
			DeleteInterval:     time.Minute,
			NotifyOnPut:        true,
			SegmentMaxBytes:    32 << 20,
		},
		Pool: PoolConfig{TaskPoolSize: 4, IOPoolSize: 2},
		ZooKeeper: ZooKeeperConfig{
			RootPath:       "/tabletdb",
			SessionTimeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML file into Config, falling back to Default on a
// missing file, mirroring the teacher's initConfig helper.
func Load(path string) (Config, error) {
	return load(path)
}
