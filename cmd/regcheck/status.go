package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which documents are loaded",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Ingester.Status(ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, st)
	}

	cmd.Printf("%d documents, %d chunks\n", st.TotalDocuments, st.TotalChunks)
	for _, d := range st.PerDocument {
		cmd.Printf("  %-40s %-10s %d\n", d.Name, d.Status, d.ChunkCount)
	}
	return nil
}
