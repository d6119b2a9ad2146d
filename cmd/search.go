package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/search"
)

var (
	searchLocation string
	searchRadius   float64
	searchLimit    int
	searchStrategy string
	searchUser     string
)

func searchRequest(args []string) search.Request {
	return search.Request{
		Query:    args[0],
		Location: searchLocation,
		Radius:   searchRadius,
		Limit:    searchLimit,
		Strategy: searchStrategy,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var estimateCmd = &cobra.Command{
	Use:   "estimate <query>",
	Short: "Preview how many prospects a search would return without spending quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("search"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newSearchEnv(st, cfg).Estimator.Estimate(ctx, searchRequest(args))
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a search and save its results as a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("search"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		caller := model.Caller{UserID: searchUser, Role: model.RoleSales}
		res, err := newSearchEnv(st, cfg).Manager.Search(ctx, caller, searchRequest(args))
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&searchLocation, "location", "", "city, address or lat,lng")
	cmd.Flags().Float64Var(&searchRadius, "radius", 2000, "search radius in metres")
	cmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum prospects (default from config)")
	_ = cmd.MarkFlagRequired("location")
}

func init() {
	addSearchFlags(estimateCmd)
	addSearchFlags(searchCmd)
	searchCmd.Flags().StringVar(&searchStrategy, "strategy", model.StrategyCacheFirst, "cache_first, fresh or cache_only")
	searchCmd.Flags().StringVar(&searchUser, "user", "cli", "user the session and quota belong to")
	rootCmd.AddCommand(estimateCmd, searchCmd)
}
