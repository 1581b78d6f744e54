package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tagay1n/tt-torrent-seedbox/internal/config"
	"github.com/tagay1n/tt-torrent-seedbox/internal/ingest"
	"github.com/tagay1n/tt-torrent-seedbox/internal/porla"
	"github.com/tagay1n/tt-torrent-seedbox/internal/reconcile"
	"github.com/tagay1n/tt-torrent-seedbox/internal/server"
	"github.com/tagay1n/tt-torrent-seedbox/internal/stats"
	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ttseed",
	Short:   "Bounded self-curating torrent archive",
	Long:    "ttseed keeps a capped torrent archive seeding the releases most at risk of dying, evicting well-seeded ones to make room.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if strings.EqualFold(cfg.Logging.Level, "debug") {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(vulnerableCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ttseed", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/ttseed/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the tracker feed, Porla endpoint, and capacity limits.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog and run status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		overview, err := db.GetOverview()
		if err != nil {
			return fmt.Errorf("reading overview: %w", err)
		}

		fmt.Println("Catalog:")
		fmt.Printf("  Torrents known: %d\n", overview.Torrents)
		fmt.Printf("  Managed by Porla: %d\n", overview.Managed)
		fmt.Printf("  Critically vulnerable: %d\n", overview.Critical)
		fmt.Printf("  Managed bytes (known): %s\n", humanBytes(overview.KnownBytes))
		if len(overview.StatusCounts) > 0 {
			fmt.Println("\nBy status:")
			for _, sc := range overview.StatusCounts {
				fmt.Printf("  %s: %d\n", sc.Status, sc.Count)
			}
		}
		if len(overview.LastRunByKind) > 0 {
			fmt.Println("\nLast runs:")
			for _, kind := range []string{store.RunIngest, store.RunStats, store.RunReconcile} {
				if finished, ok := overview.LastRunByKind[kind]; ok {
					fmt.Printf("  %s: %s\n", kind, finished)
				}
			}
		}
		return nil
	},
}

var vulnerableLimit int

var vulnerableCmd = &cobra.Command{
	Use:   "vulnerable",
	Short: "List the most vulnerable torrents",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.TopVulnerable(vulnerableLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No scored torrents yet. Run 'ttseed stats' first.")
			return nil
		}

		for _, t := range items {
			title := t.TopicURL
			if t.Title != nil && *t.Title != "" {
				title = *t.Title
			}
			fmt.Printf("  %7.1f  seeders=%s leechers=%s size=%s  %s\n",
				floatOrZero(t.Score), intOrDash(t.Seeders), intOrDash(t.Leechers),
				sizeOrDash(t.SizeBytes), title)
		}
		return nil
	},
}

func init() {
	vulnerableCmd.Flags().IntVarP(&vulnerableLimit, "limit", "n", 20, "Number of torrents to list")
}

// --- cycle commands ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch the tracker feed and register new torrents",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := ingest.New(cfg, db, newClient()).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Ingest complete: new=%d updated=%d skipped=%d added=%d errors=%d\n",
			result.New, result.Updated, result.Skipped, result.Added, result.Errors)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Refresh seeder/leecher counts for managed torrents",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := stats.New(cfg, db, newClient()).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Stats refresh complete: tracked=%d refreshed=%d missing=%d errors=%d\n",
			result.Tracked, result.Refreshed, result.Missing, result.Errors)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Apply the retention policy against Porla",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := reconcile.New(cfg, db, newClient()).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Reconcile complete: kept=%d added=%d removed=%d skipped=%d errors=%d bytes=%s\n",
			result.Kept, result.Added, result.Removed, result.Skipped, result.Errors,
			humanBytes(result.KeepBytes))
		if result.PinnedOverflow {
			fmt.Println("Warning: pinned torrents alone exceed the configured capacity.")
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full cycle: ingest -> stats -> reconcile",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		client := newClient()
		ctx := cmd.Context()

		fmt.Println("Step 1/3: ingest")
		if result, err := ingest.New(cfg, db, client).Run(ctx); err != nil {
			fmt.Printf("  Error: %v\n", err)
		} else {
			fmt.Printf("  new=%d updated=%d skipped=%d added=%d errors=%d\n",
				result.New, result.Updated, result.Skipped, result.Added, result.Errors)
		}

		fmt.Println("Step 2/3: stats")
		if result, err := stats.New(cfg, db, client).Run(ctx); err != nil {
			fmt.Printf("  Error: %v\n", err)
		} else {
			fmt.Printf("  tracked=%d refreshed=%d missing=%d errors=%d\n",
				result.Tracked, result.Refreshed, result.Missing, result.Errors)
		}

		fmt.Println("Step 3/3: reconcile")
		result, err := reconcile.New(cfg, db, client).Run(ctx)
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
			return err
		}
		fmt.Printf("  kept=%d added=%d removed=%d skipped=%d errors=%d bytes=%s\n",
			result.Kept, result.Added, result.Removed, result.Skipped, result.Errors,
			humanBytes(result.KeepBytes))
		return nil
	},
}

// --- serve command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("Starting status server at http://%s\n", addr)
		fmt.Println("Press Ctrl+C to stop")
		return http.ListenAndServe(addr, server.New(db, newClient(), version))
	},
}

func openDB() (*store.DB, error) {
	return store.Open(cfg.GetDBPath())
}

func newClient() porla.Client {
	return porla.NewHTTPClient(cfg.Porla)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func intOrDash(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func sizeOrDash(n *int64) string {
	if n == nil {
		return "-"
	}
	return humanBytes(*n)
}
