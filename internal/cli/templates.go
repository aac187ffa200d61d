package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/sai/chain"
)

func newTemplatesCmd(opts *rootOptions, d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage saved chain templates",
	}
	cmd.AddCommand(
		newTemplatesListCmd(opts, d),
		newTemplatesSaveCmd(opts, d),
		newTemplatesDeleteCmd(opts, d),
	)
	return cmd
}

func newTemplatesListCmd(opts *rootOptions, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(cmd.Context(), opts, d)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.ListTemplates(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no templates saved")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTEPS\tCREATED")
			for _, tpl := range list {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", tpl.Name, len(tpl.Steps), humanize.Time(tpl.CreatedAt))
			}
			return tw.Flush()
		},
	}
}

func newTemplatesSaveCmd(opts *rootOptions, d deps) *cobra.Command {
	var (
		steps []string
		file  string
	)
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save a template from --step flags or a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl := chain.Template{Steps: steps}
			if file != "" {
				def, err := chain.LoadFile(file)
				if err != nil {
					return err
				}
				tpl = def.Template()
			}
			if len(args) == 1 {
				tpl.Name = args[0]
			}
			tpl.CreatedAt = time.Now().UTC()
			if err := tpl.Validate(); err != nil {
				return err
			}

			store, _, err := openStore(cmd.Context(), opts, d)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.SaveTemplate(cmd.Context(), tpl); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved template %q (%d steps)\n", tpl.Name, len(tpl.Steps))
			return err
		},
	}
	cmd.Flags().StringArrayVar(&steps, "step", nil, "template instruction (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "YAML chain definition to save")
	cmd.MarkFlagsMutuallyExclusive("step", "file")
	return cmd
}

func newTemplatesDeleteCmd(opts *rootOptions, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Context(), opts, d)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.DeleteTemplate(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete template %q: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted template %q\n", args[0])
			return err
		},
	}
}
