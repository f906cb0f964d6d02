package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/brogergvhs/coverd/internal/config"
	"github.com/brogergvhs/coverd/internal/fresh"

	"github.com/spf13/cobra"
)

var (
	freshBackend string
	freshRate    float64
)

var freshCmd = &cobra.Command{
	Use:   "fresh",
	Short: "Probe every cached page and drop the ones that no longer resolve",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, config.Options{CacheBackend: freshBackend})
		if err != nil {
			return err
		}
		defer a.finish()
		defer a.cache.Close()

		rate := a.cfg.FreshRatePerSec
		if cmd.Flags().Changed("rate") {
			rate = freshRate
		}

		if a.cache.Len() == 0 {
			fmt.Println("Cache is empty, nothing to check.")
			return nil
		}

		rep, err := fresh.New(a.cache, a.fetcher, rate, a.log, a.metrics).Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Checked: %d\n", rep.Checked)
		fmt.Printf("Pruned:  %d\n", len(rep.Pruned))
		for _, k := range rep.Pruned {
			fmt.Printf("  - %s\n", k)
		}

		if len(rep.Errors) > 0 {
			keys := make([]string, 0, len(rep.Errors))
			for k := range rep.Errors {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			fmt.Printf("Kept after probe errors: %d\n", len(keys))
			for _, k := range keys {
				fmt.Printf("  - %s: %v\n", k, rep.Errors[k])
			}
		}

		return nil
	},
}

func init() {
	freshCmd.Flags().StringVar(&freshBackend, "cache", "", "cache backend: memory, sqlite or redis")
	freshCmd.Flags().Float64Var(&freshRate, "rate", 0, "probes per second (0 for unlimited)")
	rootCmd.AddCommand(freshCmd)
}
