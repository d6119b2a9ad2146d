package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a search session's prospects to an XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		ctx := cmd.Context()
		id := args[0]

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sess, err := st.GetSession(ctx, id)
		if err != nil {
			return err
		}
		prospects, err := st.ListSessionProspects(ctx, id)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("busqueda-%s.xlsx", id)
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "export: create file")
		}
		if err := export.SessionXLSX(f, *sess, prospects); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "export: close file")
		}

		zap.L().Info("session exported",
			zap.String("session_id", id),
			zap.Int("prospects", len(prospects)),
			zap.String("file", out),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default busqueda-<id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
