package main

import (
	"github.com/spf13/cobra"

	"github.com/dgallion1/regcheck/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest documents into the vector store",
	Long: `Parse, chunk and embed documents and store them in the vector store.
Documents whose content is unchanged since the last ingestion are skipped.

Without arguments the configured DOCUMENT_PATHS are ingested.

Examples:
  regcheck ingest
  regcheck ingest Rules.pdf policies/handbook.docx`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var res pipeline.Result
	if len(args) == 0 {
		res = a.Ingester.LoadConfigured(ctx)
	} else {
		files := make([]pipeline.FileInput, 0, len(args))
		for _, p := range args {
			files = append(files, pipeline.FileInput{Path: p})
		}
		res = a.Ingester.IngestFiles(ctx, files)
	}

	if outputJSON {
		return printJSON(cmd, res)
	}
	printResult(cmd, res)
	return nil
}

func printResult(cmd *cobra.Command, res pipeline.Result) {
	for _, f := range res.Processed {
		cmd.Printf("ingested  %s (%d chunks)\n", f.File, f.ChunkCount)
	}
	for _, f := range res.Skipped {
		cmd.Printf("unchanged %s (%d chunks)\n", f.File, f.ChunkCount)
	}
	for _, f := range res.Failed {
		cmd.Printf("failed    %s: %s\n", f.File, f.Error)
	}
}
