package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dDoc server",
		Long:    `Start the dDoc server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_DATA_DIR=/var/lib/ddoc)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "shards"
	ServeCmd.PersistentFlags().String(key, "default=local", cmdUtil.WrapString("Comma-separated list of buckets to serve. Format: BUCKET=TYPE where TYPE is one of: local (single node), remote (raft replicated)"))

	key = "engine"
	ServeCmd.PersistentFlags().String(key, common.EngineMaple, cmdUtil.WrapString("Storage engine of the shards: maple (in-memory) or bolt (on disk, satisfies persistTo=1)"))

	key = "views"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of additional views. Format: designDoc/view=emit where emit is 'key' or 'field:<name>'"))

	key = "design-document"
	ServeCmd.PersistentFlags().String(key, "ycsb", cmdUtil.WrapString("Design document of the per table key views"))

	key = "tables"
	ServeCmd.PersistentFlags().String(key, "usertable", cmdUtil.WrapString("Comma-separated list of tables to define key views for"))

	key = "query-ddocs"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of design documents of the query views"))

	key = "query-views"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of query view names, every design document gets all of them"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(remote shards) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("(remote shards) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. 0 disables automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5000, cmdUtil.WrapString("(remote shards) CompactionOverhead defines the number of log entries retained after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "purge-millisecond"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("(remote shards) Interval in milliseconds in which the shard leader proposes the removal of expired documents. 0 disables purging, expired documents stay invisible but keep using memory"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for bolt files, raft logs and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(remote shards) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(remote shards) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(remote shards) Timeout of raft proposals and reads in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen"))

	key = "user"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("User for basic auth, auth is disabled if empty"))

	key = "password"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Password for basic auth"))
}

// parseShards parses the shard list in the format BUCKET=TYPE
func parseShards(s string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	seen := make(map[uint64]string)
	for _, shardConfig := range strings.Split(s, ",") {
		if strings.TrimSpace(shardConfig) == "" {
			continue
		}
		bucket, shardType, ok := strings.Cut(shardConfig, "=")
		bucket = strings.TrimSpace(bucket)
		if !ok || bucket == "" {
			return nil, fmt.Errorf("invalid shard format: %s (expected BUCKET=TYPE)", shardConfig)
		}

		var serverShardType common.ServerShardType
		switch strings.TrimSpace(shardType) {
		case "local", "lstore":
			serverShardType = common.ShardTypeLocal
		case "remote", "dstore":
			serverShardType = common.ShardTypeRemote
		default:
			return nil, fmt.Errorf("invalid shard type: %s (expected one of: local, remote)", shardType)
		}

		id := common.BucketShardID(bucket)
		if other, ok := seen[id]; ok {
			return nil, fmt.Errorf("buckets %s and %s map to the same shard %d", other, bucket, id)
		}
		seen[id] = bucket

		shards = append(shards, common.ServerShard{
			Bucket:  bucket,
			ShardID: id,
			Type:    serverShardType,
		})
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards configured")
	}
	return shards, nil
}

// parseViews combines the generated benchmark views with the additional view definitions
func parseViews() ([]docdb.ViewDefinition, error) {
	views := docdb.YCSBViews(
		viper.GetString("design-document"),
		splitList(viper.GetString("tables")),
		splitList(viper.GetString("query-ddocs")),
		splitList(viper.GetString("query-views")),
	)
	extra, err := docdb.ParseViewDefinitions(viper.GetString("views"))
	if err != nil {
		return nil, err
	}
	return append(views, extra...), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	if serveCmdConfig.Views, err = parseViews(); err != nil {
		return err
	}

	serveCmdConfig.Engine = viper.GetString("engine")
	if serveCmdConfig.Engine != common.EngineMaple && serveCmdConfig.Engine != common.EngineBolt {
		return fmt.Errorf("invalid engine %s (expected %s or %s)", serveCmdConfig.Engine, common.EngineMaple, common.EngineBolt)
	}

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.PurgeMillisecond = viper.GetUint64("purge-millisecond")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.User = viper.GetString("user")
	serveCmdConfig.Password = viper.GetString("password")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = util.HashString(id, 0)
	} else if serveCmdConfig.HasRemoteShard() {
		return fmt.Errorf("ReplicaId is required for remote shards")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			name, addr, ok := strings.Cut(member, "=")
			if !ok {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			serveCmdConfig.ClusterMembers[util.HashString(strings.TrimSpace(name), 0)] = strings.TrimSpace(addr)
		}
	} else if serveCmdConfig.HasRemoteShard() {
		return fmt.Errorf("ClusterMembers is required for remote shards")
	}

	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasRemoteShard() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return nil
}

// run starts the dDoc server
func run(_ *cobra.Command, _ []string) error {
	s, err := serializer.ByName(viper.GetString("serializer"))
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		s,
	)
	defer serv.Close()

	return serv.Serve()
}
