package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/medresearch/internal/models"
)

var (
	exportDialog int64
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export dialogs and their findings to files",
	Long: `Export dialogs for backup or sharing.

Markdown export (default) writes one file per dialog with the dialog metadata
and findings in YAML frontmatter, followed by the transcript. JSON export
writes one document per dialog.

Examples:
  medresearch export ./backup
  medresearch export ./backup --dialog 12
  medresearch export ./backup --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().Int64Var(&exportDialog, "dialog", 0, "export only this dialog")
	exportCmd.Flags().StringVar(&exportFormat, "format", "markdown", "output format: markdown or json")
}

// DialogExport is the exported form of a dialog.
type DialogExport struct {
	ID         int64                `json:"id" yaml:"id"`
	Title      string               `json:"title" yaml:"title"`
	User       string               `json:"user" yaml:"user"`
	CreatedAt  time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt  *time.Time           `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Findings   []*models.Finding    `json:"findings" yaml:"findings"`
	Transcript []models.ChatMessage `json:"transcript" yaml:"-"`
}

func runExport(cmd *cobra.Command, args []string) error {
	exportPath := args[0]
	ctx := context.Background()
	out := cmd.OutOrStdout()

	format := strings.ToLower(exportFormat)
	if format != "markdown" && format != "md" && format != "json" {
		return fmt.Errorf("unsupported format %q", exportFormat)
	}

	if err := os.MkdirAll(exportPath, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	var ids []int64
	if exportDialog != 0 {
		ids = []int64{exportDialog}
	} else {
		dialogs, err := apiClient.ListDialogs(ctx)
		if err != nil {
			return fmt.Errorf("list dialogs: %w", err)
		}
		for _, d := range dialogs {
			ids = append(ids, d.ID)
		}
	}

	if len(ids) == 0 {
		fmt.Fprintln(out, "No dialogs to export.")
		return nil
	}

	fmt.Fprintf(out, "Exporting %d dialogs...\n", len(ids))

	exported := 0
	for _, id := range ids {
		d, err := apiClient.GetDialog(ctx, id)
		if err != nil {
			return fmt.Errorf("get dialog %d: %w", id, err)
		}
		findings, err := apiClient.ListFindings(ctx, id)
		if err != nil {
			return fmt.Errorf("list findings of dialog %d: %w", id, err)
		}
		exp := DialogExport{
			ID:         d.ID,
			Title:      d.Title,
			User:       apiClient.User(),
			CreatedAt:  d.CreatedAt,
			UpdatedAt:  d.UpdatedAt,
			Findings:   findings,
			Transcript: d.ChatHistory,
		}

		var (
			data []byte
			ext  string
		)
		if format == "json" {
			data, err = json.MarshalIndent(exp, "", "  ")
			ext = ".json"
		} else {
			data, err = renderMarkdown(exp)
			ext = ".md"
		}
		if err != nil {
			return fmt.Errorf("render dialog %d: %w", id, err)
		}

		filename := filepath.Join(exportPath, exportName(d)+ext)
		if err := os.WriteFile(filename, data, 0o644); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to write %s: %v\n", filename, err)
			continue
		}
		exported++

		if verbose {
			fmt.Fprintf(out, "  Exported: %s\n", filename)
		}
	}

	fmt.Fprintf(out, "\nExported %d dialogs to %s\n", exported, exportPath)
	return nil
}

// exportName builds a file name from the dialog id and slugified title.
func exportName(d *models.Dialog) string {
	name := fmt.Sprintf("dialog-%d", d.ID)
	if slug := models.Slugify(d.Title); slug != "" {
		name += "-" + slug
	}
	return name
}

// renderMarkdown writes YAML frontmatter followed by the transcript.
func renderMarkdown(exp DialogExport) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(exp); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("---\n\n")
	fmt.Fprintf(&buf, "# %s\n", exp.Title)
	writeTranscript(&buf, exp.Transcript)
	return buf.Bytes(), nil
}

func writeTranscript(w io.Writer, msgs []models.ChatMessage) {
	for _, m := range msgs {
		heading := "User"
		if m.Role == models.RoleAssistant {
			heading = "Assistant"
		}
		fmt.Fprintf(w, "\n## %s\n\n%s\n", heading, m.Content)
	}
}
