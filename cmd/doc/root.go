package doc

import (
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/bench"
	"github.com/spf13/cobra"
)

var (
	db *bench.DB

	// DocumentCommands represents the document command group
	DocumentCommands = &cobra.Command{
		Use:                "doc",
		Short:              "Perform document operations",
		Long:               "Perform single benchmark operations against a store. Records are addressed by table and key.",
		PersistentPreRunE:  setupDocClient,
		PersistentPostRunE: closeDocClient,
	}
)

func init() {
	util.SetupAdapterFlags(DocumentCommands)
	DocumentCommands.PersistentFlags().String("table", "usertable", util.WrapString("The table of the record"))

	DocumentCommands.AddCommand(getCmd)
	DocumentCommands.AddCommand(insertCmd)
	DocumentCommands.AddCommand(updateCmd)
	DocumentCommands.AddCommand(deleteCmd)
	DocumentCommands.AddCommand(scanCmd)
	DocumentCommands.AddCommand(queryCmd)
	DocumentCommands.AddCommand(infoCmd)
}

// setupDocClient connects the adapter to the configured store
func setupDocClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	config, err := util.GetAdapterConfig()
	if err != nil {
		return err
	}

	db = bench.NewDB(config)
	return db.Init()
}

func closeDocClient(_ *cobra.Command, _ []string) error {
	if err := db.Cleanup(); err != nil {
		return err
	}
	return bench.CloseAll()
}
