package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dDoc/cmd/doc"
	"github.com/ValentinKolb/dDoc/cmd/serve"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/cmd/workload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ddoc",
		Short: "distributed document store and benchmark client",
		Long: fmt.Sprintf(`dDoc (v%s)

A document store with views and optimistic updates, replicated with RAFT,
together with the YCSB style benchmark client that drives it.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dDoc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dDoc v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(doc.DocumentCommands)
	RootCmd.AddCommand(workload.BenchCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "msgpack", util.WrapString("serializer to use (msgpack, json, gob)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("level at which logs are written to stderr (debug, info, warn, error)"))
	key = "config"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("optional config file (json, yaml or toml) with flag values"))

	// read before any command binds its flags
	_ = viper.BindPFlag("config", RootCmd.PersistentFlags().Lookup("config"))
	cobra.OnInitialize(util.InitConfig)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
