package bench

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	rpchttp "github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

// Dialer opens the store a configuration points to
type Dialer func(c Config) (store.IDocStore, error)

// gate makes sure a process dials every cluster and bucket only once. The first caller
// dials, concurrent callers wait for and share its handle, later callers reuse it.
type gate struct {
	group   singleflight.Group
	handles *xsync.MapOf[string, store.IDocStore]
	dial    Dialer
}

func newGate(dial Dialer) *gate {
	return &gate{
		handles: xsync.NewMapOf[string, store.IDocStore](),
		dial:    dial,
	}
}

var defaultGate = newGate(Dial)

// connectionKey identifies the handle of a configuration.
// In-process stores only hold the views of the configuration that created them,
// so their key includes the view configuration.
func connectionKey(c Config) string {
	key := strings.Join(c.Hosts, ",") + "|" + c.Bucket + "|" + c.User
	if c.InProcess() {
		key += "|" + c.DesignDocumentName +
			"|" + strings.Join(c.Tables, ",") +
			"|" + strings.Join(c.DDocs, ",") +
			"|" + strings.Join(c.Views, ",")
	}
	return key
}

func (g *gate) connect(c Config) (store.IDocStore, error) {
	key := connectionKey(c)
	if s, ok := g.handles.Load(key); ok {
		return s, nil
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		if s, ok := g.handles.Load(key); ok {
			return s, nil
		}
		log.Infof("connecting to bucket %s on %s", c.Bucket, strings.Join(c.Hosts, ","))
		s, err := g.dial(c)
		if err != nil {
			return nil, err
		}
		g.handles.Store(key, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(store.IDocStore), nil
}

// closeAll closes and forgets all handles
func (g *gate) closeAll() error {
	var firstErr error
	g.handles.Range(func(key string, s store.IDocStore) bool {
		g.handles.Delete(key)
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Connect returns the process wide store handle of the configuration
func Connect(c Config) (store.IDocStore, error) {
	return defaultGate.connect(c)
}

// CloseAll closes all store handles of the process. Call it once when the process exits.
func CloseAll() error {
	return defaultGate.closeAll()
}

// Dial opens a new store: an in-process store for HostsInProcess, an rpc client for
// everything else.
func Dial(c Config) (store.IDocStore, error) {
	if c.InProcess() {
		return DialInProcess(c)
	}
	ser, err := serializer.ByName(c.Serializer)
	if err != nil {
		return nil, err
	}
	s, err := client.NewRPCStore(c.ClientConfig(), rpchttp.NewHttpClientTransport(), ser)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %v: %w", c.Hosts, err)
	}
	return s, nil
}

// DialInProcess opens an in-memory store with the views the adapter queries:
// one key view per table and one field view per (design document, view) pair.
func DialInProcess(c Config) (store.IDocStore, error) {
	defs := docdb.YCSBViews(c.DesignDocumentName, c.Tables, c.DDocs, c.Views)
	var defineErr error
	s := lstore.NewLocalStore(func() docdb.DocDB {
		database := maple.NewMapleDB(nil)
		for _, def := range defs {
			if err := database.DefineView(def); err != nil && defineErr == nil {
				defineErr = err
			}
		}
		return database
	})
	if defineErr != nil {
		_ = s.Close()
		return nil, defineErr
	}
	return s, nil
}
