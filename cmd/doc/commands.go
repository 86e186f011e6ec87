package doc

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/bench"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key] [field...]",
		Short: "Reads a record (optionally only the given fields)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := map[string]string{}
			if err := check(db.Read(table(), args[0], args[1:], result)); err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [key] [field=value...]",
		Short: "Inserts a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1:])
			if err != nil {
				return err
			}
			if err := check(db.Insert(table(), args[0], values)); err != nil {
				return err
			}
			fmt.Println("inserted successfully")
			return nil
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [key] [field=value...]",
		Short: "Updates fields of an existing record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1:])
			if err != nil {
				return err
			}
			if err := check(db.Update(table(), args[0], values)); err != nil {
				return err
			}
			fmt.Println("updated successfully")
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := check(db.Delete(table(), args[0])); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [startKey] [count] [field...]",
		Short: "Reads records in key order starting at startKey",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("count must be a number: %w", err)
			}
			var rows []map[string]string
			if err := check(db.Scan(table(), args[0], count, args[2:], &rows)); err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [key] [limit]",
		Short: "Runs a range query on a random view of the configured pools",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("limit must be a number: %w", err)
			}
			if err := check(db.Query(table(), args[0], limit)); err != nil {
				return err
			}
			fmt.Println("query successful")
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Shows information about the database of the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := db.Info()
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
)

func table() string {
	return viper.GetString("table")
}

// check converts the status of an operation into an error, details are in the log
func check(status bench.Status) error {
	if status != bench.StatusOK {
		return fmt.Errorf("operation failed (%s)", status)
	}
	return nil
}

// parseValues parses field=value arguments
func parseValues(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		field, value, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid field %q (expected field=value)", arg)
		}
		values[field] = value
	}
	return values, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
