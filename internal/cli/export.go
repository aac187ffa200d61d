package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *rootOptions, _ deps) *cobra.Command {
	var (
		server string
		outDir string
		stdout bool
	)
	cmd := &cobra.Command{
		Use:       "export memory|data",
		Short:     "Download the conversation or the full session data from a running server",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"memory", "data"},
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := serverURL(opts, server)
			if err != nil {
				return err
			}
			resp, err := fetch(cmd.Context(), base+"/api/v1/export/"+args[0])
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if stdout {
				_, err := io.Copy(cmd.OutOrStdout(), resp.Body)
				return err
			}
			name := attachmentName(resp.Header.Get("Content-Disposition"))
			if name == "" {
				name = fmt.Sprintf("sai-%s-export-%s.json", args[0], time.Now().UTC().Format("2006-01-02"))
			}
			path := filepath.Join(outDir, name)
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			if _, err := io.Copy(f, resp.Body); err != nil {
				_ = f.Close()
				return fmt.Errorf("write export file: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server base URL (defaults to http://<addr>)")
	cmd.Flags().StringVar(&outDir, "dir", ".", "directory for the export file")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write the export to stdout instead of a file")
	return cmd
}

func attachmentName(disposition string) string {
	_, rest, ok := strings.Cut(disposition, "filename=")
	if !ok {
		return ""
	}
	return filepath.Base(strings.Trim(strings.TrimSpace(rest), `"`))
}
