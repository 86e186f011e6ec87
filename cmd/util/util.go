package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/bench"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files, binds DDOC_* environment variables and reads the
// config file given with --config (json, yaml or toml).
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ddoc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read config file %s: %w", file, err))
		}
	}
}

// SetupAdapterFlags adds the properties of the benchmark adapter (see bench.Config) to a command.
// The flags are named like the properties so the same names work in config files.
func SetupAdapterFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()

	key := "hosts"
	f.String(key, bench.HostsInProcess, WrapString("Comma-separated list of server endpoints. 'inproc' runs an in-memory store inside the process"))

	key = "bucket"
	f.String(key, "default", WrapString("The bucket to store the records in"))

	key = "user"
	f.String(key, "", WrapString("User for basic auth"))

	key = "password"
	f.String(key, "", WrapString("Password for basic auth"))

	key = "designDocumentName"
	f.String(key, "ycsb", WrapString("Design document of the per table key views used by scans"))

	key = "tables"
	f.String(key, "usertable", WrapString("Comma-separated list of tables (in-process store only, servers define their views with --views)"))

	key = "ddocs"
	f.String(key, "", WrapString("Comma-separated list of design documents queries pick from"))

	key = "views"
	f.String(key, "", WrapString("Comma-separated list of views queries pick from"))

	key = "persistTo"
	f.String(key, "NONE", WrapString("Number of nodes a write must be persisted on (NONE, MASTER, ONE, TWO, THREE, FOUR)"))

	key = "replicateTo"
	f.String(key, "NONE", WrapString("Number of replicas a write must reach (NONE, ONE, TWO, THREE)"))

	key = "writeallfields"
	f.Bool(key, false, WrapString("Updates replace the whole record instead of merging the changed fields"))

	key = "insertMode"
	f.String(key, bench.InsertModeUpsert, WrapString("upsert overwrites existing records, add fails on existing records"))

	key = "expiry"
	f.Int(key, 0, WrapString("Expiry of inserted records in seconds (0 = never)"))

	key = "opTimeout"
	f.Int(key, 2500, WrapString("Timeout of a single request in milliseconds"))

	key = "retryCount"
	f.Int(key, 3, WrapString("How many times a failed request is sent"))

	key = "readBufferSize"
	f.Int(key, 16384, WrapString("Read buffer size of a connection in bytes"))

	key = "failureMode"
	f.String(key, string(common.FailureModeRedistribute), WrapString("What happens when an endpoint fails: redistribute (next endpoint), retry (same endpoint) or cancel"))

	key = "checkOperationStatus"
	f.Bool(key, true, WrapString("Report failed inserts and deletes as errors"))

	key = "maxUpdateAttempts"
	f.Int(key, 100, WrapString("How many times an update is attempted before it is given up"))
}

// GetAdapterConfig reads the adapter configuration from viper
func GetAdapterConfig() (bench.Config, error) {
	bench.SetDefaults(viper.GetViper())
	c, err := bench.ConfigFromViper(viper.GetViper())
	if err != nil {
		return bench.Config{}, err
	}
	c.Serializer = viper.GetString("serializer")
	return c, nil
}

// InitLogging installs the project loggers with the level of --log-level
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
