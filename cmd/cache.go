package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brogergvhs/coverd/internal/config"
	"github.com/brogergvhs/coverd/internal/util"

	"github.com/spf13/cobra"
)

var cacheBackendFlag string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the page cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache usage and the cached pages, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), config.Options{CacheBackend: cacheBackendFlag})
		if err != nil {
			return err
		}
		defer a.cache.Close()

		st := a.cache.Stats()
		fmt.Printf("Backend:  %s\n", a.cfg.CacheBackend)
		fmt.Printf("Entries:  %d\n", st.Entries)
		fmt.Printf("Size:     %s of %s\n", util.Human(st.Bytes), util.Human(st.Budget))
		if st.Degraded {
			fmt.Println("Status:   degraded (backend unavailable)")
			return nil
		}

		if st.Entries == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
		_, _ = fmt.Fprintln(w, "#\tKEY")
		for i, k := range a.cache.Keys() {
			_, _ = fmt.Fprintf(w, "%d\t%s\n", i+1, k)
		}
		if err := w.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to flush table output: %v\n", err)
		}

		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached page",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, config.Options{CacheBackend: cacheBackendFlag})
		if err != nil {
			return err
		}
		defer a.cache.Close()

		n := a.cache.Len()
		if err := a.cache.Clear(ctx); err != nil {
			return fmt.Errorf("clearing %s cache: %w", a.cfg.CacheBackend, err)
		}

		fmt.Printf("Removed %d cached pages from the %s cache.\n", n, a.cfg.CacheBackend)
		return nil
	},
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheBackendFlag, "cache", "", "cache backend: memory, sqlite or redis")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
