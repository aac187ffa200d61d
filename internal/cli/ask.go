package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/tools"
)

func newAskCmd(opts *rootOptions, d deps) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send a single prompt and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp(cmd.Context(), opts, d)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			reply, err := a.session.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), reply)
			}
			printReply(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reply as JSON")
	return cmd
}

type chainOptions struct {
	steps  []string
	input  string
	file   string
	tpl    string
	asJSON bool
}

func newChainCmd(opts *rootOptions, d deps) *cobra.Command {
	co := &chainOptions{}
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Run a multi-step prompt chain",
		Example: `  sai chain --step "Summarize this text" --step "Translate to French" --input "..."
  sai chain --file review.yaml
  sai chain --template review --input "..."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, input := co.steps, co.input
			if co.file != "" {
				def, err := chain.LoadFile(co.file)
				if err != nil {
					return err
				}
				steps = def.Steps
				if strings.TrimSpace(input) == "" {
					input = def.Input
				}
			}
			if co.tpl == "" {
				if err := chain.Validate(steps, input); err != nil {
					return err
				}
			}

			a, err := wireApp(cmd.Context(), opts, d)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var run chain.Run
			if co.tpl != "" {
				run, err = a.session.RunTemplate(cmd.Context(), co.tpl, input)
			} else {
				run, err = a.session.RunChain(cmd.Context(), steps, input)
			}
			if err != nil {
				var stepErr *chain.ChainStepError
				if errors.As(err, &stepErr) {
					return fmt.Errorf("chain stopped: %w", err)
				}
				return err
			}
			if co.asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&co.steps, "step", nil, "chain instruction (repeatable, runs in order)")
	cmd.Flags().StringVar(&co.input, "input", "", "initial input for the first step")
	cmd.Flags().StringVar(&co.file, "file", "", "YAML chain definition with steps and optional input")
	cmd.Flags().StringVar(&co.tpl, "template", "", "run a saved template by name")
	cmd.Flags().BoolVar(&co.asJSON, "json", false, "print the run as JSON")
	cmd.MarkFlagsMutuallyExclusive("step", "file", "template")
	return cmd
}

func printRun(w io.Writer, run chain.Run) {
	for _, step := range run.Steps {
		fmt.Fprintf(w, "Step %d: %s\n%s\n\n", step.Index, step.Instruction, step.Output)
	}
	fmt.Fprintf(w, "Final output:\n%s\n", run.FinalOutput)
}

// newToolCmd runs tools without a session, so it needs no API key.
func newToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tool <id> [json-args]",
		Short: "Run a local tool directly",
		Example: `  sai tool calculator '{"expression":"(2+3)*4"}'
  sai tool random '{"min":1,"max":6}'
  sai tool datetime`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("tool arguments must be JSON")
				}
				raw = json.RawMessage(args[1])
			}
			registry := tools.NewRegistry()
			if !registry.Has(args[0]) {
				return fmt.Errorf("unknown tool %q (available: %s)", args[0], strings.Join(tools.ToolNames(), ", "))
			}
			out := registry.Execute(cmd.Context(), args[0], raw)
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
