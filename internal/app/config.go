package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ConsensusType selects the consensus implementation used by the node.
type ConsensusType string

// Supported consensus engine types.
const (
	ConsensusTypeRaft ConsensusType = "raft"
)

// Config contains runtime settings for a replica process.
type Config struct {
	NodeID        string
	ConsensusType ConsensusType
	LogLevel      string

	GRPCAddr    string
	MetricsAddr string
	PprofAddr   string
	DataDir     string

	PeerAddrs []string

	// SelfIndex is this replica's 0-based position among ReplicaCount
	// replicas, used to address it in target advertisements.
	SelfIndex int

	// ReplicaCount is the total number of replicas in the cluster,
	// including this one. Zero defaults to len(PeerAddrs)+1.
	ReplicaCount int

	// SnapshotEvery is parsed from the environment and kept here, but no
	// component reads it: no automatic raft snapshot is taken.
	SnapshotEvery uint64

	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string

	// SyncQuorumThreshold is the number of matching peer advertisements
	// required before a candidate checkpoint is promoted to canonical.
	// Zero means a majority of the effective replica count returned by
	// PeerAddrsByIndex: count/2 + 1.
	SyncQuorumThreshold int

	// SyncChunkSizeMax bounds the payload a single trailer chunk message
	// may carry. Zero uses statesync.ChunkSizeMax.
	SyncChunkSizeMax uint64

	// SyncSuperblockDir is where the superblock record from a completed
	// sync attempt is persisted.
	SyncSuperblockDir string
}

// DefaultConfig returns a local-development configuration.
func DefaultConfig() Config {
	return Config{
		NodeID:             "node-1",
		ConsensusType:      ConsensusTypeRaft,
		LogLevel:           "info",
		GRPCAddr:           ":9090",
		DataDir:            "./var/node-1",
		TracingServiceName: "consensus-lab-replica",
		SyncSuperblockDir:  "./var/node-1/sync",
	}
}

// LoadConfigFromEnv loads config from environment variables.
//
// Supported vars:
// - APP_NODE_ID
// - APP_CONSENSUS_TYPE (must be "raft")
// - APP_LOG_LEVEL (debug|info|warn|error)
// - APP_GRPC_ADDR
// - APP_METRICS_ADDR (empty disables the metrics server)
// - APP_PPROF_ADDR (empty disables the pprof server)
// - APP_DATA_DIR
// - APP_PEERS (comma-separated addresses)
// - APP_SELF_INDEX (uint, 0-based)
// - APP_REPLICA_COUNT (uint, 0 = len(APP_PEERS)+1)
// - APP_SNAPSHOT_EVERY (uint, 0 = disabled)
// - APP_TRACING_ENABLED (bool)
// - APP_TRACING_ENDPOINT
// - APP_TRACING_SERVICE_NAME
// - APP_SYNC_QUORUM_THRESHOLD (uint, 0 = majority)
// - APP_SYNC_CHUNK_SIZE_MAX (uint, 0 = statesync.ChunkSizeMax)
// - APP_SYNC_SUPERBLOCK_DIR
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("APP_NODE_ID")); v != "" {
		cfg.NodeID = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_CONSENSUS_TYPE")); v != "" {
		cfg.ConsensusType = ConsensusType(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_GRPC_ADDR")); v != "" {
		cfg.GRPCAddr = v
	}
	if v, ok := os.LookupEnv("APP_METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("APP_PPROF_ADDR"); ok {
		cfg.PprofAddr = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_PEERS")); v != "" {
		cfg.PeerAddrs = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_SELF_INDEX")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_SELF_INDEX %q: %w", v, err)
		}
		cfg.SelfIndex = n
	}
	if v := strings.TrimSpace(os.Getenv("APP_REPLICA_COUNT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_REPLICA_COUNT %q: %w", v, err)
		}
		cfg.ReplicaCount = n
	}
	if v := strings.TrimSpace(os.Getenv("APP_SNAPSHOT_EVERY")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_SNAPSHOT_EVERY %q: %w", v, err)
		}
		cfg.SnapshotEvery = n
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_TRACING_ENABLED %q: %w", v, err)
		}
		cfg.TracingEnabled = b
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENDPOINT")); v != "" {
		cfg.TracingEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_SERVICE_NAME")); v != "" {
		cfg.TracingServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SYNC_QUORUM_THRESHOLD")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_SYNC_QUORUM_THRESHOLD %q: %w", v, err)
		}
		cfg.SyncQuorumThreshold = n
	}
	if v := strings.TrimSpace(os.Getenv("APP_SYNC_CHUNK_SIZE_MAX")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_SYNC_CHUNK_SIZE_MAX %q: %w", v, err)
		}
		cfg.SyncChunkSizeMax = n
	}
	if v := strings.TrimSpace(os.Getenv("APP_SYNC_SUPERBLOCK_DIR")); v != "" {
		cfg.SyncSuperblockDir = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and supported.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("app: node id is required")
	}
	switch c.ConsensusType {
	case ConsensusTypeRaft:
	default:
		return fmt.Errorf("app: unsupported consensus type %q", c.ConsensusType)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app: unsupported log level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		return fmt.Errorf("app: grpc addr is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("app: data dir is required")
	}
	if strings.TrimSpace(c.SyncSuperblockDir) == "" {
		return fmt.Errorf("app: sync superblock dir is required")
	}
	if c.TracingEnabled && strings.TrimSpace(c.TracingEndpoint) == "" {
		return fmt.Errorf("app: tracing endpoint is required when tracing is enabled")
	}
	return nil
}

// PeerAddrMap parses PeerAddrs into a map of peer-id -> address.
// Each entry is either "host:port" (peer ID equals address) or "peer-id=host:port".
func (c Config) PeerAddrMap() (map[string]string, error) {
	out := make(map[string]string, len(c.PeerAddrs))
	for _, raw := range c.PeerAddrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		id := raw
		addr := raw
		if left, right, ok := strings.Cut(raw, "="); ok {
			id = strings.TrimSpace(left)
			addr = strings.TrimSpace(right)
		}

		if id == "" || addr == "" {
			return nil, fmt.Errorf("app: invalid peer entry %q", raw)
		}
		if _, exists := out[id]; exists {
			return nil, fmt.Errorf("app: duplicate peer id %q", id)
		}
		out[id] = addr
	}
	return out, nil
}

// PeerAddrsByIndex returns PeerAddrs keyed by replica index, and the
// effective replica count (ReplicaCount, or len(PeerAddrs)+1 when unset).
// PeerAddrs is expected to list every replica other than this one, in
// increasing order of replica index; SelfIndex's slot is skipped when
// assigning indices.
func (c Config) PeerAddrsByIndex() (map[int]string, int) {
	count := c.ReplicaCount
	if count == 0 {
		count = len(c.PeerAddrs) + 1
	}
	out := make(map[int]string, len(c.PeerAddrs))
	next := 0
	for _, addr := range c.PeerAddrs {
		if next == c.SelfIndex {
			next++
		}
		out[next] = strings.TrimSpace(addr)
		next++
	}
	return out, count
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
