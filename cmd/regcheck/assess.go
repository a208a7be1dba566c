package main

import (
	"github.com/spf13/cobra"

	"github.com/dgallion1/regcheck/internal/assess"
)

var assessContext string

var assessCmd = &cobra.Command{
	Use:   "assess [concern]",
	Short: "Assess a compliance concern against the loaded documents",
	Long: `Retrieves the regulatory content relevant to a concern and asks the
completion model for a structured verdict.

Examples:
  regcheck assess "We keep customer records for two years"
  regcheck assess --context "retail bank, EU" "Passwords are stored in plain text"`,
	Args: cobra.ExactArgs(1),
	RunE: runAssess,
}

func init() {
	assessCmd.Flags().StringVarP(&assessContext, "context", "c", "", "additional context for the concern")
	rootCmd.AddCommand(assessCmd)
}

func runAssess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	v := a.Assessor.Assess(ctx, assess.Request{Concern: args[0], Context: assessContext})
	if outputJSON {
		return printJSON(cmd, v)
	}

	cmd.Printf("Status:     %s\n", v.Status)
	cmd.Printf("Confidence: %.2f\n", v.Confidence)
	cmd.Printf("Summary:    %s\n", v.Summary)
	if len(v.ImpactedRules) > 0 {
		cmd.Println("\nImpacted rules:")
		for _, r := range v.ImpactedRules {
			cmd.Printf("  - %s\n", r)
		}
	}
	if len(v.ComplianceDetails) > 0 {
		cmd.Println("\nDetails:")
		for _, d := range v.ComplianceDetails {
			cmd.Printf("  [%s] %s: %s\n", d.ImpactLevel, d.RuleReference, d.Description)
		}
	}
	if len(v.Recommendations) > 0 {
		cmd.Println("\nRecommendations:")
		for _, r := range v.Recommendations {
			cmd.Printf("  - %s\n", r)
		}
	}
	if len(v.RelevantDocuments) > 0 {
		cmd.Println("\nSources:")
		for _, d := range v.RelevantDocuments {
			cmd.Printf("  %s, %s (%.2f)\n", d.DocumentName, d.Section, d.RelevanceScore)
		}
	}
	return nil
}
