package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Show the chunks most similar to a query",
	Long: `Embeds the query and prints the nearest chunks by cosine similarity,
without preferred-type ranking or fallback.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.Retriever.Search(ctx, args[0], searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if outputJSON {
		return printJSON(cmd, results)
	}

	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("[%d] %s p.%d %s (%.3f)\n", i+1, r.Chunk.DocumentName, r.Chunk.PageNumber, r.Chunk.Type, r.Similarity)
		snippet := []rune(strings.Join(strings.Fields(r.Chunk.Content), " "))
		if len(snippet) > 160 {
			snippet = append(snippet[:160], []rune("...")...)
		}
		cmd.Printf("    %s\n", string(snippet))
	}
	return nil
}
