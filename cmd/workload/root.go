package workload

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/bench"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	db       *bench.DB
	config   bench.Config
	workload = &Workload{}

	// BenchCommands represents the benchmark command group
	BenchCommands = &cobra.Command{
		Use:                "bench",
		Short:              "Run YCSB style benchmarks against a store",
		PersistentPreRunE:  setupBench,
		PersistentPostRunE: closeBench,
	}
	loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Insert recordcount records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := newRunner(workload, db)
			return report(summarize("load", r.Load(), r.registry))
		},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute operationcount operations of the configured mix",
		Long:  "Execute operationcount operations of the configured mix. With --preload the records are inserted first (needed for in-process stores).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := newRunner(workload, db)
			if viper.GetBool("preload") {
				printResults(os.Stderr, summarize("load", r.Load(), r.registry))
				r = newRunner(workload, db)
			}
			runtime, err := r.Run()
			if err != nil {
				return err
			}
			return report(summarize("run", runtime, r.registry))
		},
	}
)

func init() {
	util.SetupAdapterFlags(BenchCommands)
	f := BenchCommands.PersistentFlags()

	key := "table"
	f.String(key, "usertable", util.WrapString("The table of the records"))
	key = "recordcount"
	f.Int(key, 1000, util.WrapString("Number of records the load phase inserts"))
	key = "operationcount"
	f.Int(key, 1000, util.WrapString("Number of operations of the run phase"))
	key = "threads"
	f.Int(key, 10, util.WrapString("Number of client threads"))
	key = "fieldcount"
	f.Int(key, 10, util.WrapString("Number of fields of a record"))
	key = "fieldlength"
	f.Int(key, 100, util.WrapString("Length of a field value"))
	key = "maxscanlength"
	f.Int(key, 100, util.WrapString("Maximum number of records of a scan"))
	key = "querylimit"
	f.Int(key, 10, util.WrapString("Number of rows a query requests"))
	key = "orderedinserts"
	f.Bool(key, false, util.WrapString("Use sequential record keys instead of hashed ones"))
	key = "readproportion"
	f.Float64(key, 0.95, util.WrapString("Proportion of reads"))
	key = "updateproportion"
	f.Float64(key, 0.05, util.WrapString("Proportion of updates"))
	key = "insertproportion"
	f.Float64(key, 0, util.WrapString("Proportion of inserts"))
	key = "scanproportion"
	f.Float64(key, 0, util.WrapString("Proportion of scans"))
	key = "queryproportion"
	f.Float64(key, 0, util.WrapString("Proportion of view queries"))
	key = "deleteproportion"
	f.Float64(key, 0, util.WrapString("Proportion of deletes"))
	key = "csv"
	f.String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))

	runCmd.Flags().Bool("preload", false, util.WrapString("Run the load phase before the run phase"))

	BenchCommands.AddCommand(loadCmd)
	BenchCommands.AddCommand(runCmd)
}

// setupBench reads the adapter and workload configuration and connects to the store
func setupBench(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	var err error
	if config, err = util.GetAdapterConfig(); err != nil {
		return err
	}

	*workload = Workload{
		Table:            viper.GetString("table"),
		RecordCount:      viper.GetInt("recordcount"),
		OperationCount:   viper.GetInt("operationcount"),
		Threads:          viper.GetInt("threads"),
		FieldCount:       viper.GetInt("fieldcount"),
		FieldLength:      viper.GetInt("fieldlength"),
		MaxScanLength:    viper.GetInt("maxscanlength"),
		QueryLimit:       viper.GetInt("querylimit"),
		OrderedInserts:   viper.GetBool("orderedinserts"),
		ReadProportion:   viper.GetFloat64("readproportion"),
		UpdateProportion: viper.GetFloat64("updateproportion"),
		InsertProportion: viper.GetFloat64("insertproportion"),
		ScanProportion:   viper.GetFloat64("scanproportion"),
		QueryProportion:  viper.GetFloat64("queryproportion"),
		DeleteProportion: viper.GetFloat64("deleteproportion"),
	}
	if err := workload.Validate(); err != nil {
		return err
	}

	db = bench.NewDB(config)
	return db.Init()
}

func closeBench(_ *cobra.Command, _ []string) error {
	if err := db.Cleanup(); err != nil {
		return err
	}
	return bench.CloseAll()
}

// report prints the results and writes them to the csv file if one is configured
func report(res Results) error {
	printResults(os.Stdout, res)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Fprintf(os.Stderr, "exporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, res, workload, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
	}
	return nil
}
