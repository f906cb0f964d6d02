package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/search"
	"github.com/brogergvhs/coverd/internal/util"

	"github.com/spf13/cobra"
)

var searchFlags galleryFlags

func init() {
	searchCmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Replace the grid with the site's search results. Without a query, reads queries from stdin",
		RunE:  runSearch,
	}

	searchFlags.bind(searchCmd.Flags())
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, searchFlags.options())
	if err != nil {
		return err
	}
	defer a.finish()
	a.printHeader()

	g, err := a.newGallery(false)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.pipeline.Close(context.Background()); err != nil {
			a.log.Warnf("Cache teardown: %v\n", err)
		}
	}()
	util.SetupInterruptHandler(a.cfg.Output, func() {
		cancel()
		_ = g.pipeline.Close(context.Background())
		a.finish()
	})

	done := make(chan string, 1)
	runner := search.New(search.Config{
		Fetcher:     a.fetcher,
		Extractor:   extract.New(a.cfg.Selectors),
		Renderer:    g.renderer,
		Grid:        g.grid,
		Session:     g.session,
		URLTemplate: a.cfg.SearchURLTemplate,
		MaxRetries:  a.cfg.MaxRetries,
		RetryDelay:  a.cfg.RetryDelay(),
		Debounce:    a.cfg.SearchDebounce(),
		Notifier:    a.banner,
		Log:         a.log,
		Metrics:     a.metrics,
		OnDone: func(q string, n int, err error) {
			reportSearch(q, n, err, g)
			// keep only the latest outcome
			select {
			case <-done:
			default:
			}
			select {
			case done <- q:
			default:
			}
		},
	})

	if len(args) > 0 {
		q := strings.Join(args, " ")
		n, err := runner.Run(ctx, q)
		reportSearch(q, n, err, g)
		g.progress.Close()
		if err != nil && !errors.Is(err, search.ErrInvalidQuery) {
			return err
		}
		return searchFlags.packArchive(g)
	}

	fmt.Println("Type a query and press Enter. Ctrl-D to finish.")

	var last string
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		last = sc.Text()
		runner.Submit(ctx, last)
	}

	// let the final debounced search finish
wait:
	for last != "" {
		select {
		case <-ctx.Done():
			break wait
		case q := <-done:
			if q == last {
				break wait
			}
		}
	}
	runner.Flush()
	g.progress.Close()

	return searchFlags.packArchive(g)
}

func reportSearch(q string, n int, err error, g *gallery) {
	switch {
	case errors.Is(err, search.ErrSearchInFlight):
		fmt.Printf("Search %q skipped, another search is running.\n", q)
	case err != nil:
		fmt.Printf("Search %q failed: %v\n", q, err)
	default:
		fmt.Printf("Search %q: %d covers written to %s\n", q, n, g.grid.IndexPath())
	}
}
