// Command smj-graph indexes a music directory into a node graph and answers
// SMJ7-style queries against it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"smj-graph/internal/config"
	"smj-graph/internal/datastore"
	"smj-graph/internal/nodegraph"
	"smj-graph/internal/scan"
)

type app struct {
	cfg    *config.Config
	logger *log.Logger

	configPath string
	location   string
	database   string
	backend    string
	workers    int
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "smj-graph",
		Short: "Index and search a music library",
		Long: `smj-graph reads the tags of every audio file under a directory, links
songs to their albums, artists and genres in a node graph, and searches the
result with SMJ7-style queries.

Run 'smj-graph syntax' for the query syntax.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "configuration file (default: user config dir)")
	f.StringVarP(&a.location, "location", "l", "", "the location to search for media files")
	f.StringVar(&a.database, "database", "", "the location to store the media database")
	f.StringVar(&a.backend, "backend", "", "storage backend: graph, sqlite or bleve")
	f.IntVar(&a.workers, "workers", 0, "number of tag parsers (0 = one per CPU)")
	f.BoolVarP(&a.debug, "debug", "d", false, "enable debug mode")

	root.AddCommand(
		a.scanCmd(),
		a.searchCmd(),
		a.pruneCmd(),
		a.statsCmd(),
		a.exportCmd(),
		syntaxCmd(),
	)
	return root
}

// setup loads the config file and lays explicitly set flags over it.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("location") {
		cfg.Location = a.location
	}
	if flags.Changed("database") {
		cfg.Database = a.database
	}
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if flags.Changed("workers") {
		cfg.Workers = a.workers
	}
	if flags.Changed("debug") {
		cfg.Debug = a.debug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Location = config.ExpandPath(cfg.Location)
	cfg.Database = config.ExpandPath(cfg.Database)

	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	a.logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	a.cfg = cfg
	a.logger.Debug("config loaded", "path", path, "backend", cfg.Backend, "database", a.storePath(cfg.Backend))
	return nil
}

func (a *app) storePath(backend string) string {
	return datastore.PathFor(backend, a.cfg.Database)
}

// open initializes the configured backend. The graph backend gets an event
// dispatcher that runs until the returned close function is called.
func (a *app) open(ctx context.Context, backend string) (datastore.Datastore, func() error, error) {
	load := a.cfg.LoadOptions()
	load.Logger = a.logger
	opts := &datastore.Options{Logger: a.logger, Load: load}

	stopEvents := func() {}
	if backend == datastore.BackendGraph {
		d := nodegraph.NewDispatcher(a.cfg.Events.Buffer, a.cfg.Events.Interval)
		counts := make(map[nodegraph.EventKind]int)
		d.Subscribe(func(e nodegraph.Event) { counts[e.Kind]++ })

		dctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = d.Run(dctx)
		}()
		stopEvents = func() {
			cancel()
			<-done
			a.logger.Debug("events delivered",
				"child-added", counts[nodegraph.EventChildAdded],
				"changed", counts[nodegraph.EventChanged],
				"destroyed", counts[nodegraph.EventDestroyed])
		}
		opts.Dispatcher = d
	}

	store, err := datastore.New(backend, opts)
	if err != nil {
		stopEvents()
		return nil, nil, err
	}
	if err := store.Initialize(a.storePath(backend)); err != nil {
		stopEvents()
		return nil, nil, err
	}
	return store, func() error {
		defer stopEvents()
		return store.Close()
	}, nil
}

func (a *app) index(ctx context.Context, store datastore.Datastore, since time.Time, serial bool) error {
	if _, err := os.Stat(a.cfg.Location); err != nil {
		return fmt.Errorf("cannot scan a nonexistent path: %q", a.cfg.Location)
	}
	workers := a.cfg.Workers
	if serial {
		workers = 1
	}
	res, err := scan.Run(ctx, a.cfg.Location, store, &scan.Options{
		Workers: workers,
		Since:   since,
		Exclude: a.cfg.Exclude,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		a.logger.Warn("unreadable files skipped", "count", res.Failed)
	}

	adverb := "Parallely"
	if serial {
		adverb = "Serially"
	}
	if since.IsZero() {
		count, _ := store.Count()
		fmt.Printf("Indexer: %s indexed %s files in %.2f seconds.\n", adverb, commatize(count), res.Duration.Seconds())
	} else {
		fmt.Printf("Indexer: %s indexed %s newer files in %.2f seconds.\n", adverb, commatize(res.Indexed), res.Duration.Seconds())
	}
	return nil
}

func (a *app) scanCmd() *cobra.Command {
	var freshen, forceRescan, forceSerial bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the music location into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			path := a.storePath(a.cfg.Backend)
			if forceRescan {
				if err := os.RemoveAll(path); err != nil {
					return fmt.Errorf("remove %s: %w", path, err)
				}
			}

			var since time.Time
			if freshen {
				if info, err := os.Stat(path); err == nil {
					since = info.ModTime()
				}
			}

			store, closeStore, err := a.open(cmd.Context(), a.cfg.Backend)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()
			return a.index(cmd.Context(), store, since, forceSerial)
		},
	}
	cmd.Flags().BoolVar(&freshen, "freshen", false, "only scan files modified since the last scan")
	cmd.Flags().BoolVar(&forceRescan, "force-rescan", false, "nuke the database and start from scratch")
	cmd.Flags().BoolVar(&forceSerial, "force-serial", false, "disable parallelized media parsing")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var outputJSON, showPaths bool
	var indent int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the library with an SMJ7-style query",
		Long: `Search the library. Terms are comma-separated; prefix a term with
! for genre, @ for artist, # for album or $ for title. An empty query lists
every track.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, closeStore, err := a.open(cmd.Context(), a.cfg.Backend)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()

			if count, _ := store.Count(); count == 0 {
				a.logger.Info("database is empty, scanning", "location", a.cfg.Location)
				if err := a.index(cmd.Context(), store, time.Time{}, false); err != nil {
					return err
				}
			}

			results, err := store.Search(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if outputJSON {
				out, err := jsonizer(results, showPaths, indent)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}
			printResults(os.Stdout, results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output matching results in JSON")
	cmd.Flags().BoolVar(&showPaths, "show-paths", false, "include path information in JSON track output")
	cmd.Flags().IntVarP(&indent, "indent", "i", 2, "with --json, # of spaces to indent by")
	return cmd
}

func (a *app) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete entries whose file no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, closeStore, err := a.open(cmd.Context(), a.cfg.Backend)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()
			removed, err := store.RemoveStaleEntries()
			if err != nil {
				return err
			}
			fmt.Printf("Pruner: Removed %s stale files.\n", commatize(removed))
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show library counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, closeStore, err := a.open(cmd.Context(), a.cfg.Backend)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()

			rows, err := collectStats(store)
			if err != nil {
				return err
			}
			if outputJSON {
				return printStatsJSON(os.Stdout, rows)
			}
			printStats(os.Stdout, a.cfg.Backend, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output counts in JSON")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var to, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the library into another backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if to == a.cfg.Backend {
				return fmt.Errorf("export target %q is the active backend", to)
			}
			if out == "" {
				out = a.storePath(to)
			}
			src, closeSrc, err := a.open(cmd.Context(), a.cfg.Backend)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeSrc(); err == nil {
					err = cerr
				}
			}()

			dst, err := datastore.New(to, &datastore.Options{Logger: a.logger})
			if err != nil {
				return err
			}
			if err := dst.Initialize(config.ExpandPath(out)); err != nil {
				return err
			}
			defer func() {
				if cerr := dst.Close(); err == nil {
					err = cerr
				}
			}()
			if err := dst.Clear(); err != nil {
				return err
			}

			start := time.Now()
			n, err := datastore.Copy(dst, src, scan.DefaultBatchSize)
			if err != nil {
				return fmt.Errorf("export stopped after %d tracks: %w", n, err)
			}
			fmt.Printf("Exporter: Copied %s tracks to %s in %.2f seconds.\n", commatize(n), out, time.Since(start).Seconds())
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", datastore.BackendBleve, "target backend: graph, sqlite or bleve")
	cmd.Flags().StringVarP(&out, "out", "o", "", "target path (default: database path with the backend's extension)")
	return cmd
}

func syntaxCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "syntax",
		Short:             "Show the SMJ7-style syntax guide",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(syntaxGuide, "\n")
		},
	}
}
