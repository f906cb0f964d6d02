package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagIgnoreConfig bool
	flagDebug        bool
	flagMetricsFile  string
)

var rootCmd = &cobra.Command{
	Use:   "coverd",
	Short: "Light novel cover gallery with cached relay fetches and infinite scroll",
	Long: `coverd collects light novel covers from a listing page through a CORS relay
and writes them into a browsable HTML grid, one batch at a time.

  coverd grid          build the grid, press Enter to load the next batch
  coverd search QUERY  replace the grid with the site's search results
  coverd fresh         drop cached pages that no longer resolve
  coverd config init   create the Default profile to tune the defaults`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagIgnoreConfig, "ignore-config", false, "skip the active profile and use built-in defaults plus CLI flags")
	rootCmd.PersistentFlags().StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coverd: %v\n", err)
		os.Exit(1)
	}
}
