package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/medresearch/internal/models"
)

var findingsExcluded bool

var findingsCmd = &cobra.Command{
	Use:   "findings <dialog-id>",
	Short: "List and curate the findings of a dialog",
	Long: `List the findings the assistant saved to a dialog.

Findings marked as not relevant are shown with their reason and are excluded
from later research in the same dialog.

Examples:
  medresearch findings 12
  medresearch findings 12 --excluded
  medresearch findings mark 41
  medresearch findings unmark 41
  medresearch findings delete 41`,
	Args: cobra.ExactArgs(1),
	RunE: runListFindings,
}

var findingsMarkCmd = &cobra.Command{
	Use:   "mark <finding-id>",
	Short: "Mark a finding as not relevant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRelevance(cmd, args[0], false)
	},
}

var findingsUnmarkCmd = &cobra.Command{
	Use:   "unmark <finding-id>",
	Short: "Mark a finding as relevant again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRelevance(cmd, args[0], true)
	},
}

var findingsDeleteCmd = &cobra.Command{
	Use:   "delete <finding-id>",
	Short: "Delete a finding",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteFinding,
}

func init() {
	findingsCmd.Flags().BoolVar(&findingsExcluded, "excluded", false, "only show findings marked as not relevant")

	findingsCmd.AddCommand(findingsMarkCmd)
	findingsCmd.AddCommand(findingsUnmarkCmd)
	findingsCmd.AddCommand(findingsDeleteCmd)
}

func runListFindings(cmd *cobra.Command, args []string) error {
	id, err := parseID("dialog", args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := cmd.OutOrStdout()

	findings, err := apiClient.ListFindings(ctx, id)
	if err != nil {
		return fmt.Errorf("list findings: %w", err)
	}

	shown := 0
	for _, f := range findings {
		if findingsExcluded && !f.NonRelevanceMark {
			continue
		}
		printFinding(out, f)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out, "No findings.")
	}
	return nil
}

// printFinding writes a finding summary.
func printFinding(out io.Writer, f *models.Finding) {
	mark := defaultTheme.completedStyle().Render("●")
	if f.NonRelevanceMark {
		mark = defaultTheme.errorStyle().Render("✗")
	}
	fmt.Fprintf(out, "%s #%d %s\n", mark, f.ID, f.Title)
	if f.Source != "" {
		fmt.Fprintf(out, "    Source: %s\n", f.Source)
	}
	fmt.Fprintf(out, "    Citations: %d, Websites: %d\n", f.Citations, f.Websites)
	if f.RelevanceReason != "" {
		fmt.Fprintf(out, "    Reason: %s\n", f.RelevanceReason)
	}
	for _, l := range f.PaperLinks {
		fmt.Fprintf(out, "    Paper: %s <%s>\n", l.Title, l.URL)
	}
	for _, l := range f.NewsLinks {
		fmt.Fprintf(out, "    News:  %s <%s>\n", l.Title, l.URL)
	}
	if verbose {
		fmt.Fprintf(out, "    Status: %s, saved %s\n", f.Status, f.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func setRelevance(cmd *cobra.Command, arg string, relevant bool) error {
	id, err := parseID("finding", arg)
	if err != nil {
		return err
	}

	f, err := apiClient.SetRelevance(context.Background(), id, relevant)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}

	state := "relevant"
	if f.NonRelevanceMark {
		state = "not relevant"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked #%d as %s: %s\n", f.ID, state, f.Title)
	return nil
}

func runDeleteFinding(cmd *cobra.Command, args []string) error {
	id, err := parseID("finding", args[0])
	if err != nil {
		return err
	}
	if err := apiClient.DeleteFinding(context.Background(), id); err != nil {
		return fmt.Errorf("delete finding: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted finding #%d\n", id)
	return nil
}
