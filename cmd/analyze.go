package main

import (
	"github.com/spf13/cobra"
)

var analyzeDeep bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <prospect-id>",
	Short: "Run the quick AI analysis, or the deep audit with --deep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pipeline := newPipeline(st, newAIClient(cfg), cfg)
		if analyzeDeep {
			res, err := pipeline.DeepAnalyze(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		}
		res, err := pipeline.Analyze(ctx, args[0], nil)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDeep, "deep", false, "run the website, social and reputation audit")
	rootCmd.AddCommand(analyzeCmd)
}
