package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/medresearch/internal/client"
)

var (
	chatDialog int64
	chatPlain  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the research assistant",
	Long: `Send a message to the research assistant and print its reply.

Without --dialog a new dialog is started. With a message argument one turn is
run; without one, chat reads messages line by line until EOF or "/exit".
Piped input is sent as a single message.

Examples:
  medresearch chat "What is the evidence for metformin in prediabetes?"
  medresearch chat -d 12 "Any newer trials since 2022?"
  medresearch chat -d 12
  cat question.txt | medresearch chat`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Int64VarP(&chatDialog, "dialog", "d", 0, "continue an existing dialog")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "print status lines instead of the interactive view")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	stream, err := apiClient.OpenStream(ctx, chatDialog)
	if err != nil {
		return fmt.Errorf("open dialog: %w", err)
	}
	defer stream.Close()

	interactive := !chatPlain && isTerminal(os.Stdout)

	if len(args) == 1 {
		return chatTurn(ctx, cmd, stream, args[0], interactive)
	}

	in := cmd.InOrStdin()
	if !isTerminal(in) {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		return chatTurn(ctx, cmd, stream, string(data), interactive)
	}

	fmt.Fprintln(out, "Type a question, or /exit to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := chatTurn(ctx, cmd, stream, line, interactive); err != nil {
			if errors.Is(err, errStoppedWaiting) {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
}

// chatTurn runs one message and prints the reply.
func chatTurn(ctx context.Context, cmd *cobra.Command, stream *client.Stream, message string, interactive bool) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return errors.New("message is empty")
	}

	var (
		ev  *client.StreamEvent
		err error
	)
	if interactive {
		ev, err = RunTurnProgress(ctx, stream, message)
	} else {
		errOut := cmd.ErrOrStderr()
		ev, err = stream.Send(ctx, message, func(status string) {
			fmt.Fprintln(errOut, defaultTheme.statusStyle().Render(status))
		})
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if verbose || chatDialog == 0 {
		fmt.Fprintln(out, defaultTheme.hintStyle().Render(fmt.Sprintf("[dialog %d: %s]", ev.DialogID, ev.Title)))
	}
	fmt.Fprintln(out, ev.Reply)
	if !ev.Succeeded {
		return errors.New("research failed, the reply above was saved to the dialog")
	}
	return nil
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
