package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/brogergvhs/coverd/internal/config"
	"github.com/brogergvhs/coverd/internal/session"
	"github.com/brogergvhs/coverd/internal/util"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// galleryFlags are shared by every command that renders a grid.
type galleryFlags struct {
	// source
	source    string
	relay     string
	proxyImgs bool

	// runtime
	output       string
	batchSize    int
	imageWorkers int
	maxRetries   int
	dark         bool
	density      int
	archive      string

	// cache
	cacheBackend string
	cacheDir     string
	redisAddr    string
	keepCache    bool
	freshCheck   bool

	// headers/auth
	cookie     string
	cookieFile string
	userAgent  string
	cfBypass   bool
}

func (f *galleryFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.source, "source", "", "listing page to collect covers from")
	fs.StringVar(&f.relay, "relay", "", "relay prefix, the encoded target URL is appended to it")
	fs.BoolVar(&f.proxyImgs, "proxy-images", false, "load cover images through the relay as well")

	fs.StringVar(&f.output, "output", "", "output folder for the grid")
	fs.IntVar(&f.batchSize, "batch-size", 0, "covers rendered per batch")
	fs.IntVar(&f.imageWorkers, "image-workers", 0, "parallel image loads per batch")
	fs.IntVar(&f.maxRetries, "max-retries", 0, "retries per fetch and per image")
	fs.BoolVar(&f.dark, "dark", false, "render the grid with the dark theme")
	fs.IntVar(&f.density, "density", 0, "grid columns")
	fs.StringVar(&f.archive, "archive", "", "also pack the finished grid into this zip file")

	fs.StringVar(&f.cacheBackend, "cache", "", "cache backend: memory, sqlite or redis")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "directory for the sqlite cache")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "redis address for the redis cache")
	fs.BoolVar(&f.keepCache, "keep-cache", false, "keep the cache across runs (no clear on start or exit)")
	fs.BoolVar(&f.freshCheck, "fresh-check", false, "probe cached pages on start and drop the dead ones")

	fs.StringVar(&f.cookie, "cookie", "", "cookie string, e.g. \"key=value; other=123\"")
	fs.StringVar(&f.cookieFile, "cookie-file", "", "path to a text file with cookies (one header line)")
	fs.StringVar(&f.userAgent, "user-agent", "", "override User-Agent")
	fs.BoolVar(&f.cfBypass, "cloudflare-bypass", false, "wrap the transport with the Cloudflare bypass")
}

func (f *galleryFlags) options() config.Options {
	return config.Options{
		Output:           f.output,
		SourceURL:        f.source,
		RelayBase:        f.relay,
		BatchSize:        f.batchSize,
		ImageWorkers:     f.imageWorkers,
		MaxRetries:       f.maxRetries,
		CacheBackend:     f.cacheBackend,
		CacheDir:         f.cacheDir,
		RedisAddr:        f.redisAddr,
		Cookie:           f.cookie,
		CookieFile:       f.cookieFile,
		UserAgent:        f.userAgent,
		GridDensity:      f.density,
		Dark:             f.dark,
		ProxyImages:      f.proxyImgs,
		CloudflareBypass: f.cfBypass,
		KeepCache:        f.keepCache,
		FreshCheck:       f.freshCheck,
	}
}

// packArchive zips the grid when --archive was given.
func (f *galleryFlags) packArchive(g *gallery) error {
	if f.archive == "" {
		return nil
	}

	out, err := filepath.Abs(f.archive)
	if err != nil {
		return err
	}
	if err := util.CreateArchive(g.grid.Dir(), g.grid.Files(), out); err != nil {
		return err
	}

	fmt.Printf("Archive:   %s\n", out)
	return nil
}

var (
	gridFlags galleryFlags
	flagAll   bool
)

func init() {
	gridCmd := &cobra.Command{
		Use:   "grid",
		Short: "Build the cover grid from the listing page. Uses the defaults from the selected config, overwritten by CLI flags",
		RunE:  runGrid,
	}

	gridCmd.Flags().BoolVar(&flagAll, "all", false, "keep loading batches until every cover is rendered")
	gridFlags.bind(gridCmd.Flags())

	rootCmd.AddCommand(gridCmd)
}

func runGrid(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, gridFlags.options())
	if err != nil {
		return err
	}
	defer a.finish()
	a.printHeader()

	g, err := a.newGallery(!flagAll)
	if err != nil {
		return err
	}

	teardown := func() {
		if err := g.pipeline.Close(context.Background()); err != nil {
			a.log.Warnf("Cache teardown: %v\n", err)
		}
	}
	util.SetupInterruptHandler(a.cfg.Output, func() {
		cancel()
		teardown()
		a.finish()
	})
	defer teardown()

	start := time.Now()

	if _, err := g.pipeline.Start(ctx); err != nil && !errors.Is(err, session.ErrBusy) {
		g.progress.Close()
		return err
	}

	if g.prompt != nil {
		defer g.prompt.Close()
	}
	// nothing is observed when the load rendered nothing
	if _, ok := g.viewport.Observed(); ok {
		if err := g.viewport.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Errorf("Infinite scroll stopped: %v\n", err)
		}
	}
	g.progress.Close()

	g.printSummary()
	fmt.Printf("Time:      %s\n", time.Since(start).Round(time.Second))
	if err := gridFlags.packArchive(g); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	fmt.Println("\nAll done.")

	return nil
}
