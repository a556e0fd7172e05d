package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/relativehysteria/nia/internal/app"
	"github.com/relativehysteria/nia/internal/config"
	"github.com/relativehysteria/nia/internal/domain"
	"github.com/relativehysteria/nia/internal/feed"
	"github.com/relativehysteria/nia/internal/feedlist"
	"github.com/relativehysteria/nia/internal/scheduler"
	"github.com/relativehysteria/nia/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	cliApp := &cli.App{
		Name:  "nia",
		Usage: "Fetch, store and track read state of Atom/RSS feeds",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "feeds",
				Aliases: []string{"f"},
				Value:   cfg.FeedsPath,
				Usage:   "Path to the feed list file",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Value:   cfg.DataDir,
				Usage:   "Directory holding the post database",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "fetch",
				Usage:  "Download every configured feed once and persist new posts",
				Action: func(c *cli.Context) error { return withEnv(c, cfg, log, runFetch) },
			},
			{
				Name:   "list",
				Usage:  "List configured feeds with post and unread counts",
				Action: func(c *cli.Context) error { return withEnv(c, cfg, log, runList) },
			},
			{
				Name:      "posts",
				Usage:     "List the stored posts of one feed",
				ArgsUsage: "<section> <feed>",
				Action:    func(c *cli.Context) error { return withEnv(c, cfg, log, runPosts) },
			},
			{
				Name:      "read",
				Usage:     "Mark a post as read",
				ArgsUsage: "<section> <feed> <post-id>",
				Action: func(c *cli.Context) error {
					return withEnv(c, cfg, log, markReadCommand(true))
				},
			},
			{
				Name:      "unread",
				Usage:     "Mark a post as unread",
				ArgsUsage: "<section> <feed> <post-id>",
				Action: func(c *cli.Context) error {
					return withEnv(c, cfg, log, markReadCommand(false))
				},
			},
			{
				Name:   "run",
				Usage:  "Keep fetching on the configured cron schedule until interrupted",
				Action: func(c *cli.Context) error { return withEnv(c, cfg, log, runDaemon(cfg)) },
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	app     *app.App
	fetcher *feed.Fetcher
	store   *store.Store
	log     *slog.Logger
}

type action func(c *cli.Context, e *env) error

// withEnv resolves paths, opens the store, starts the fetcher, performs the
// synchronous startup load, runs fn and tears everything down again.
func withEnv(c *cli.Context, cfg config.Config, log *slog.Logger, fn action) error {
	feedsPath, err := resolveFeedsPath(c.String("feeds"))
	if err != nil {
		return err
	}

	list, err := feedlist.Load(feedsPath)
	if err != nil {
		return err
	}

	dbPath, err := resolveDBPath(c.String("data-dir"))
	if err != nil {
		return err
	}

	st, err := store.New(dbPath, log)
	if err != nil {
		return fmt.Errorf("open post store: %w", err)
	}
	defer st.Close()

	fetcher := feed.NewFetcher(cfg.HTTPTimeout, cfg.MaxWorkers, log)
	defer fetcher.Close()

	a := app.New(list, fetcher, st, log)
	if err := a.LoadFromStore(); err != nil {
		return fmt.Errorf("load persisted posts: %w", err)
	}

	return fn(c, &env{app: a, fetcher: fetcher, store: st, log: log})
}

func runFetch(_ *cli.Context, e *env) error {
	results, err := e.app.FetchAllAndWait()
	if err != nil {
		return err
	}

	for sectionIdx, section := range e.app.List().Sections {
		for feedIdx, f := range section.Feeds {
			id := domain.FeedID{Section: sectionIdx, Feed: feedIdx}

			switch res := results[id]; {
			case res.Failed:
				fmt.Printf("%-30s FAILED\n", f.Title)
			default:
				fmt.Printf("%-30s %d new\n", f.Title, res.Added)
			}
		}
	}

	return nil
}

func runList(_ *cli.Context, e *env) error {
	for sectionIdx, section := range e.app.List().Sections {
		fmt.Printf("# %s\n", section.Name)

		for feedIdx, f := range section.Feeds {
			id := domain.FeedID{Section: sectionIdx, Feed: feedIdx}
			col := e.app.Collection(id)

			fmt.Printf("  %-30s %3d posts, %3d unread\n",
				f.Title, col.Len(), col.Unread())
		}
	}

	return nil
}

func runPosts(c *cli.Context, e *env) error {
	id, err := feedIDFromArgs(c)
	if err != nil {
		return err
	}

	f, ok := e.app.Resolve(id)
	if !ok {
		return fmt.Errorf("no such feed: section %d, feed %d", id.Section, id.Feed)
	}

	fmt.Printf("%s (%s)\n", f.Title, f.URL)
	for p := range f.Posts.All() {
		marker := " "
		if !p.Read {
			marker = "*"
		}

		fmt.Printf("%s %s  %-40s %s\n",
			marker, p.Published.Format("2006-01-02 15:04"), p.Title, p.ID)
	}

	return nil
}

func markReadCommand(read bool) action {
	return func(c *cli.Context, e *env) error {
		id, err := feedIDFromArgs(c)
		if err != nil {
			return err
		}

		if c.Args().Len() < 3 {
			return fmt.Errorf("expected <section> <feed> <post-id>")
		}
		postID := domain.PostID(c.Args().Get(2))

		return e.app.MarkRead(id, postID, read)
	}
}

func runDaemon(cfg config.Config) action {
	return func(_ *cli.Context, e *env) error {
		if cfg.RefreshSpec == "" {
			return fmt.Errorf("run mode needs NIA_REFRESH_CRON to be set")
		}

		sched := scheduler.New(e.log)
		if err := sched.Start(cfg.RefreshSpec); err != nil {
			return fmt.Errorf("start refresh scheduler: %w", err)
		}
		defer sched.Stop()

		e.log.Info("Refresh scheduler is started", "spec", cfg.RefreshSpec)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		for {
			select {
			case <-sched.Ticks():
				e.log.Info("Starting scheduled refresh",
					"feeds", e.app.List().Len())
				e.app.RefreshAll()
			case resp, ok := <-e.fetcher.Responses():
				if !ok {
					return app.ErrFetcherDown
				}
				if err := e.app.HandleResponse(resp); err != nil {
					return err
				}
			case <-e.store.Done():
				return fmt.Errorf("persistence worker stopped: %w", e.store.Err())
			case s := <-sig:
				e.log.Info("Shutdown signal is received", "signal", s.String())
				return nil
			}
		}
	}
}

func feedIDFromArgs(c *cli.Context) (domain.FeedID, error) {
	if c.Args().Len() < 2 {
		return domain.FeedID{}, fmt.Errorf("expected <section> <feed> arguments")
	}

	section, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return domain.FeedID{}, fmt.Errorf("bad section index %q", c.Args().Get(0))
	}

	feedIdx, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return domain.FeedID{}, fmt.Errorf("bad feed index %q", c.Args().Get(1))
	}

	return domain.FeedID{Section: section, Feed: feedIdx}, nil
}

func resolveFeedsPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}

	return filepath.Join(configDir, "nia", "feeds"), nil
}

func resolveDBPath(dataDir string) (string, error) {
	if dataDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("locate cache directory: %w", err)
		}
		dataDir = filepath.Join(cacheDir, "nia")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}

	return filepath.Join(dataDir, "posts.db"), nil
}
