package bench

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/spf13/viper"
)

// Insert modes
const (
	InsertModeUpsert = "upsert" // create or overwrite
	InsertModeAdd    = "add"    // create only, existing records fail the insert
)

// HostsInProcess selects an in-process store instead of a server
const HostsInProcess = "inproc"

// Config holds the properties of the benchmark adapter
type Config struct {
	Hosts    []string // server endpoints or HostsInProcess
	Bucket   string
	User     string
	Password string

	// views
	DesignDocumentName string   // design document of the per table key views (scan)
	Tables             []string // tables an in-process store defines key views for
	DDocs              []string // design document pool of query
	Views              []string // view pool of query

	// writes
	Durability     store.Durability
	WriteAllFields bool
	InsertMode     string
	Expiry         time.Duration // 0 = never

	// client
	OpTimeout      time.Duration
	RetryCount     int
	ReadBufferSize int
	FailureMode    common.FailureMode
	Serializer     string

	CheckOperationStatus bool
	MaxUpdateAttempts    int
}

// SetDefaults registers the default value of every property on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("hosts", HostsInProcess)
	v.SetDefault("bucket", "default")
	v.SetDefault("designDocumentName", "ycsb")
	v.SetDefault("tables", "usertable")
	v.SetDefault("ddocs", "")
	v.SetDefault("views", "")
	v.SetDefault("persistTo", "NONE")
	v.SetDefault("replicateTo", "NONE")
	v.SetDefault("writeallfields", false)
	v.SetDefault("insertMode", InsertModeUpsert)
	v.SetDefault("expiry", 0)
	v.SetDefault("opTimeout", 2500)
	v.SetDefault("retryCount", 3)
	v.SetDefault("readBufferSize", 16384)
	v.SetDefault("failureMode", string(common.FailureModeRedistribute))
	v.SetDefault("serializer", "msgpack")
	v.SetDefault("checkOperationStatus", true)
	v.SetDefault("maxUpdateAttempts", 100)
}

// ConfigFromViper reads the adapter properties from v. Missing properties take the
// values of SetDefaults. Durations are given as integers: expiry in seconds,
// opTimeout in milliseconds.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	durability, err := store.ParseDurability(v.GetString("persistTo"), v.GetString("replicateTo"))
	if err != nil {
		return Config{}, err
	}
	failureMode, err := common.ParseFailureMode(v.GetString("failureMode"))
	if err != nil {
		return Config{}, err
	}

	c := Config{
		Hosts:                splitList(v.GetStringSlice("hosts")),
		Bucket:               v.GetString("bucket"),
		User:                 v.GetString("user"),
		Password:             v.GetString("password"),
		DesignDocumentName:   v.GetString("designDocumentName"),
		Tables:               splitList(v.GetStringSlice("tables")),
		DDocs:                splitList(v.GetStringSlice("ddocs")),
		Views:                splitList(v.GetStringSlice("views")),
		Durability:           durability,
		WriteAllFields:       v.GetBool("writeallfields"),
		InsertMode:           strings.ToLower(v.GetString("insertMode")),
		Expiry:               time.Duration(v.GetInt("expiry")) * time.Second,
		OpTimeout:            time.Duration(v.GetInt("opTimeout")) * time.Millisecond,
		RetryCount:           v.GetInt("retryCount"),
		ReadBufferSize:       v.GetInt("readBufferSize"),
		FailureMode:          failureMode,
		Serializer:           v.GetString("serializer"),
		CheckOperationStatus: v.GetBool("checkOperationStatus"),
		MaxUpdateAttempts:    v.GetInt("maxUpdateAttempts"),
	}
	return c, c.Validate()
}

// DefaultConfig returns the configuration of an in-process store with default properties
func DefaultConfig() Config {
	v := viper.New()
	SetDefaults(v)
	c, err := ConfigFromViper(v)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks the configuration for values the adapter can not work with
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("no hosts configured")
	}
	if c.Bucket == "" {
		return fmt.Errorf("no bucket configured")
	}
	if c.InsertMode != InsertModeUpsert && c.InsertMode != InsertModeAdd {
		return fmt.Errorf("unknown insert mode %q (expected %s or %s)", c.InsertMode, InsertModeUpsert, InsertModeAdd)
	}
	for _, table := range c.Tables {
		if err := store.ValidateTable(table); err != nil {
			return err
		}
	}
	if c.Expiry < 0 || c.OpTimeout < 0 {
		return fmt.Errorf("expiry and opTimeout must not be negative")
	}
	return nil
}

// InProcess reports whether the configuration selects an in-process store
func (c Config) InProcess() bool {
	return len(c.Hosts) == 1 && c.Hosts[0] == HostsInProcess
}

// ClientConfig returns the rpc client configuration for the configured hosts
func (c Config) ClientConfig() common.ClientConfig {
	timeout := int((c.OpTimeout + time.Second - 1) / time.Second)
	return common.ClientConfig{
		Endpoints:      c.Hosts,
		Bucket:         c.Bucket,
		User:           c.User,
		Password:       c.Password,
		TimeoutSecond:  max(1, timeout),
		RetryCount:     c.RetryCount,
		ReadBufferSize: c.ReadBufferSize,
		FailureMode:    c.FailureMode,
	}
}

// splitList flattens comma separated entries and drops empty ones
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
