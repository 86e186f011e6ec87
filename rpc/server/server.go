package server

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/bolt"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/dstore"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates and the adapter that handles requests for the store
type serverShard struct {
	Store   store.IDocStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewMsgpackSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	nodeHost   *dragonboat.NodeHost

	stopPurge chan struct{}
	purgeWg   sync.WaitGroup
}

// Handle decodes a request, lets the adapter of the shard handle it and encodes the response.
// It is the transport.ServerHandleFunc of the server.
func (s *RPCServer) Handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	if shard, ok := s.shards.Load(shardId); !ok {
		respMsg = common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(store.RetCTransport, fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = shard.Adapter.Handle(&msg, shard.Store)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(store.RetCInternalError,
			fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// dbFactory returns the factory of the engine documents of a shard are stored in.
// Raft replicated shards start from an empty bolt file, their state is rebuilt from
// the raft snapshot and log. Their databases never sweep expired documents on their
// own, expired documents are purged through the log (see purgeLoop).
func (s *RPCServer) dbFactory(shard common.ServerShard) (store.DBFactory, error) {
	var gcInterval time.Duration // engine default
	if shard.Type == common.ShardTypeRemote {
		gcInterval = -1
	}

	switch s.config.Engine {
	case common.EngineMaple, "":
		return func() docdb.DocDB { return maple.NewMapleDB(&maple.DBOptions{GCInterval: gcInterval}) }, nil
	case common.EngineBolt:
		if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		path := filepath.Join(s.config.DataDir, fmt.Sprintf("shard-%d.bolt", shard.ShardID))
		return func() docdb.DocDB {
			if shard.Type == common.ShardTypeRemote {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					Logger.Panicf("failed to reset %s: %v", path, err)
				}
			}
			database, err := bolt.Open(path, &bolt.Options{GCInterval: gcInterval})
			if err != nil {
				Logger.Panicf("failed to open %s: %v", path, err)
			}
			return database
		}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", s.config.Engine)
	}
}

// withViews wraps a factory so that the configured views are defined on every new database
func (s *RPCServer) withViews(factory store.DBFactory) store.DBFactory {
	return func() docdb.DocDB {
		database := factory()
		for _, def := range s.config.Views {
			if err := database.DefineView(def); err != nil {
				Logger.Panicf("failed to define view %s: %v", def.ID(), err)
			}
		}
		return database
	}
}

func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	if s.config.HasRemoteShard() {
		// Only create the NodeHost if we have remote shards
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
	}

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	for _, shardConfig := range s.config.Shards {
		factory, err := s.dbFactory(shardConfig)
		if err != nil {
			return err
		}

		var shardStore store.IDocStore
		switch shardConfig.Type {
		case common.ShardTypeLocal:
			shardStore = lstore.NewLocalStore(s.withViews(factory))
			Logger.Infof("created local store for bucket %s (shard %d)", shardConfig.Bucket, shardConfig.ShardID)

		case common.ShardTypeRemote:
			if s.nodeHost == nil {
				return fmt.Errorf("node host is nil, cannot create remote store")
			}
			// the state machine defines the views itself, they are part of every replica
			if err := s.nodeHost.StartConcurrentReplica(
				s.config.ClusterMembers, false,
				dstore.CreateStateMachineFactory(factory, s.config.Views),
				s.config.ToDragonboatConfig(shardConfig.ShardID),
			); err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}
			shardStore = dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, s.config.Replicas(), timeout)
			Logger.Infof("started raft replica for bucket %s (shard %d)", shardConfig.Bucket, shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		s.shards.Store(shardConfig.ShardID, serverShard{
			Store:   shardStore,
			Adapter: NewIDocStoreServerAdapter(),
		})
	}

	if s.nodeHost != nil && s.config.PurgeMillisecond > 0 {
		s.stopPurge = make(chan struct{})
		s.purgeWg.Add(1)
		go s.purgeLoop(time.Duration(s.config.PurgeMillisecond) * time.Millisecond)
	}

	Logger.Infof("dDoc setup completed successfully")
	s.transport.RegisterHandler(s.Handle)
	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	Logger.Infof(s.config.String())
	return s.transport.Listen(s.config)
}

// purgeLoop periodically proposes the removal of expired documents on every raft
// shard this replica leads.
func (s *RPCServer) purgeLoop(interval time.Duration) {
	defer s.purgeWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopPurge:
			return
		case <-ticker.C:
			s.purgeLeadShards()
		}
	}
}

func (s *RPCServer) purgeLeadShards() {
	for _, shardConfig := range s.config.Shards {
		if shardConfig.Type != common.ShardTypeRemote {
			continue
		}
		leader, _, ok, err := s.nodeHost.GetLeaderID(shardConfig.ShardID)
		if err != nil || !ok || leader != s.config.ReplicaID {
			continue
		}
		shard, ok := s.shards.Load(shardConfig.ShardID)
		if !ok {
			continue
		}
		purger, ok := shard.Store.(store.IExpiryPurger)
		if !ok {
			continue
		}
		removed, err := purger.PurgeExpired()
		if err != nil {
			Logger.Warningf("failed to purge expired documents of shard %d: %v", shardConfig.ShardID, err)
		} else if removed > 0 {
			Logger.Debugf("purged %d expired documents of shard %d", removed, shardConfig.ShardID)
		}
	}
}

// Close closes all shards and stops the raft node host
func (s *RPCServer) Close() {
	if s.stopPurge != nil {
		close(s.stopPurge)
		s.purgeWg.Wait()
		s.stopPurge = nil
	}
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if err := shard.Store.Close(); err != nil {
			Logger.Warningf("failed to close shard %d: %v", id, err)
		}
		return true
	})
	if s.nodeHost != nil {
		s.nodeHost.Close()
	}
}
