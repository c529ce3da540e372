package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/medresearch/internal/models"
)

var deleteForce bool

var dialogsCmd = &cobra.Command{
	Use:   "dialogs",
	Short: "List, show, or delete dialogs",
	Long: `List your dialogs, newest first.

Subcommands:
  list    List dialogs (default)
  show    Print a dialog transcript
  delete  Delete a dialog and its findings

Examples:
  medresearch dialogs
  medresearch dialogs show 12
  medresearch dialogs delete 12 --force`,
	RunE: runListDialogs,
}

var dialogsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dialogs",
	Args:  cobra.NoArgs,
	RunE:  runListDialogs,
}

var dialogsShowCmd = &cobra.Command{
	Use:   "show <dialog-id>",
	Short: "Print a dialog transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowDialog,
}

var dialogsDeleteCmd = &cobra.Command{
	Use:   "delete <dialog-id>",
	Short: "Delete a dialog and its findings",
	Long: `Delete a dialog together with all findings saved to it.
Requires confirmation unless --force is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeleteDialog,
}

func init() {
	dialogsDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")

	dialogsCmd.AddCommand(dialogsListCmd)
	dialogsCmd.AddCommand(dialogsShowCmd)
	dialogsCmd.AddCommand(dialogsDeleteCmd)
}

func runListDialogs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	dialogs, err := apiClient.ListDialogs(ctx)
	if err != nil {
		return fmt.Errorf("list dialogs: %w", err)
	}

	if len(dialogs) == 0 {
		fmt.Fprintln(out, "No dialogs yet. Start one with: medresearch chat \"<question>\"")
		return nil
	}

	fmt.Fprintf(out, "%-6s %-40s %8s  %s\n", "ID", "TITLE", "MESSAGES", "LAST ACTIVITY")
	for _, d := range dialogs {
		when := d.CreatedAt
		if d.UpdatedAt != nil {
			when = *d.UpdatedAt
		}
		fmt.Fprintf(out, "%-6d %-40s %8d  %s\n", d.ID, truncate(d.Title, 40), d.Messages, when.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runShowDialog(cmd *cobra.Command, args []string) error {
	id, err := parseID("dialog", args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()

	d, err := apiClient.GetDialog(ctx, id)
	if err != nil {
		return fmt.Errorf("get dialog: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", defaultTheme.completedStyle().Render(d.Title))
	fmt.Fprintf(out, "Dialog %d, started %s\n", d.ID, d.CreatedAt.Local().Format("2006-01-02 15:04"))
	for _, m := range d.ChatHistory {
		fmt.Fprintln(out)
		label := "You"
		if m.Role == models.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintln(out, defaultTheme.statusStyle().Render(label+":"))
		fmt.Fprintln(out, m.Content)
	}
	return nil
}

func runDeleteDialog(cmd *cobra.Command, args []string) error {
	id, err := parseID("dialog", args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := cmd.OutOrStdout()

	d, err := apiClient.GetDialog(ctx, id)
	if err != nil {
		return fmt.Errorf("get dialog: %w", err)
	}

	if !deleteForce {
		fmt.Fprintf(out, "About to delete dialog %d: %s\n", d.ID, d.Title)
		ok, err := confirm(cmd.InOrStdin(), out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := apiClient.DeleteDialog(ctx, id); err != nil {
		return fmt.Errorf("delete dialog: %w", err)
	}
	fmt.Fprintf(out, "Deleted: %s\n", d.Title)
	return nil
}

// confirm asks a yes/no question and defaults to no.
func confirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "\nContinue? [y/N]: ")
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read input: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
