package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/sai/llm"
	"github.com/PipeOpsHQ/sai/session"
)

const chatHelp = `commands:
  /clear          forget the conversation
  /memory on|off  toggle conversation memory
  /window N       keep the last N turns
  /analytics      show usage for this session
  /save           save settings for --session-id
  /exit           leave`

func newChatCmd(opts *rootOptions, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), opts, d)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return runREPL(cmd, a.session)
		},
	}
}

func runREPL(cmd *cobra.Command, sess *session.Session) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	fmt.Fprintln(out, "sai ready. Type /help for commands.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := runREPLCommand(cmd, sess, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		reply, err := sess.Send(ctx, line)
		if err != nil {
			if errors.Is(err, session.ErrClosed) || ctx.Err() != nil {
				return err
			}
			printSendError(out, reply, err)
			continue
		}
		printReply(out, reply)
	}
}

func runREPLCommand(cmd *cobra.Command, sess *session.Session, line string) (bool, error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/clear":
		if err := sess.ClearMemory(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "memory cleared")
	case "/memory":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return false, fmt.Errorf("usage: /memory on|off")
		}
		if err := sess.SetMemoryEnabled(ctx, fields[1] == "on"); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "memory %s\n", fields[1])
	case "/window":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /window N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("window must be a number: %w", err)
		}
		if err := sess.SetMemoryWindow(ctx, n); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "memory window set to %d\n", n)
	case "/analytics":
		report, err := sess.Analytics(ctx)
		if err != nil {
			return false, err
		}
		printReport(out, report)
	case "/save":
		if err := sess.SaveSettings(ctx); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "settings saved for session %s\n", sess.ID())
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}

func printReply(w io.Writer, reply session.Reply) {
	fmt.Fprintln(w, reply.Text)
	if reply.IsToolResponse {
		fmt.Fprintf(w, "  [%s, %d ms]\n", reply.Tool, reply.LatencyMs)
		return
	}
	fmt.Fprintf(w, "  [%d ms, %d tokens]\n", reply.LatencyMs, reply.TokensUsed)
}

func printSendError(w io.Writer, reply session.Reply, err error) {
	var te *llm.TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		fmt.Fprintf(w, "error: API request failed (%d): %s  [%d ms]\n", te.StatusCode, te.Message, reply.LatencyMs)
		return
	}
	fmt.Fprintf(w, "error: %v  [%d ms]\n", err, reply.LatencyMs)
}
