package main

import (
	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Clear the vector store and re-ingest the configured documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ingester.Reload(ctx)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd, res)
		}
		printResult(cmd, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}
