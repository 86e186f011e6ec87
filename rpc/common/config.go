package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/util"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Buckets
// --------------------------------------------------------------------------

// BucketShardID returns the shard id a bucket name is served by. Numeric names are
// used as id directly, all other names are hashed. Client and server use the same
// mapping, so a bucket never has to be registered anywhere.
func BucketShardID(bucket string) uint64 {
	if id, err := strconv.ParseUint(bucket, 10, 64); err == nil {
		return id
	}
	return util.HashString(bucket, 0)
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeLocal  ServerShardType = "local"  // lstore, single node
	ShardTypeRemote ServerShardType = "remote" // dstore, raft replicated
)

// Engines a shard can store its documents in
const (
	EngineMaple = "maple"
	EngineBolt  = "bolt"
)

type ServerShard struct {
	// Bucket is the name clients address the shard with
	Bucket string
	// ShardID is the ID of the shard (BucketShardID(Bucket))
	ShardID uint64
	// Type of store backing the shard
	Type ServerShardType
}

// ServerConfig holds all configuration parameters of a server node.
type ServerConfig struct {
	Shards []ServerShard

	// Storage
	Engine  string                 // EngineMaple or EngineBolt
	DataDir string                 // bolt files and raft data
	Views   []docdb.ViewDefinition // defined on every shard at startup

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// remote store parameters
	TimeoutSecond int64
	// PurgeMillisecond is the interval in which the leader of a raft shard proposes
	// the removal of expired documents (0 = never)
	PurgeMillisecond uint64

	// HTTP api settings
	Endpoint string
	User     string // basic auth, disabled if empty
	Password string

	// Logging configuration
	LogLevel string
}

// HasRemoteShard checks if the configuration contains any remote shards
func (c *ServerConfig) HasRemoteShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeRemote {
			return true
		}
	}
	return false
}

// Replicas returns the number of raft replicas of remote shards
func (c *ServerConfig) Replicas() int {
	return len(c.ClusterMembers)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Basic Auth", strconv.FormatBool(c.User != ""))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Storage")
	addField("Engine", c.Engine)
	addField("Data Directory", c.DataDir)
	for _, def := range c.Views {
		addField("View "+def.ID(), string(def.Emit))
	}

	addSection("Shards")
	for _, shard := range c.Shards {
		addField(shard.Bucket, fmt.Sprintf("%s (id %d)", shard.Type, shard.ShardID))
	}

	if c.HasRemoteShard() {
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Purge Interval (ms)", fmt.Sprintf("%d", c.PurgeMillisecond))

		addSection("Cluster")
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// FailureMode decides what the client transport does when a request to an endpoint fails
type FailureMode string

const (
	FailureModeRedistribute FailureMode = "redistribute" // retry on the next endpoint
	FailureModeRetry        FailureMode = "retry"        // retry on the same endpoint
	FailureModeCancel       FailureMode = "cancel"       // fail immediately
)

// ParseFailureMode parses a failure mode name, the empty string selects FailureModeRedistribute
func ParseFailureMode(s string) (FailureMode, error) {
	switch mode := FailureMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return FailureModeRedistribute, nil
	case FailureModeRedistribute, FailureModeRetry, FailureModeCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q (expected redistribute, retry or cancel)", s)
	}
}

type ClientConfig struct {
	Endpoints              []string
	Bucket                 string
	User                   string
	Password               string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	ReadBufferSize         int // bytes, 0 selects the net/http default
	FailureMode            FailureMode
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Bucket", fmt.Sprintf("%s (shard %d)", c.Bucket, BucketShardID(c.Bucket)))
	addField("User", c.User)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Failure Mode", string(c.FailureMode))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))
	addField("Read Buffer Size", strconv.Itoa(c.ReadBufferSize))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
