package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/buildinfo"
	"github.com/matzehuels/stacklock/pkg/cache"
	"github.com/matzehuels/stacklock/pkg/history"
	"github.com/matzehuels/stacklock/pkg/pipeline"
	"github.com/matzehuels/stacklock/pkg/project"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "stacklock"

	// Environment variables selecting shared backends.
	envRedisURL = "STACKLOCK_REDIS_URL"
	envMongoURI = "STACKLOCK_MONGO_URI"

	redisPrefix = "stacklock:"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	projectDir string
	noCache    bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), projectDir: "."}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Stacklock resolves and locks Python project dependencies",
		Long: `Stacklock resolves the dependencies declared in pyproject.toml against
package indexes, local paths, VCS repositories and direct URLs, and writes a
reproducible lock file covering every target environment.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.projectDir, "project", "p", ".", "project directory holding pyproject.toml")
	root.PersistentFlags().BoolVar(&c.noCache, "no-cache", false, "disable the HTTP response cache")

	root.AddCommand(c.lockCommand())
	root.AddCommand(c.checkCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.showCommand())
	root.AddCommand(c.serveIndexCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Runner Factory
// =============================================================================

// loadProject reads the project selected by --project.
func (c *CLI) loadProject() (*project.Project, error) {
	return project.Load(c.projectDir)
}

// newRunner creates a pipeline runner for CLI use. The caller closes it.
func (c *CLI) newRunner(ctx context.Context) (*pipeline.Runner, error) {
	cc, err := c.newCache(ctx)
	if err != nil {
		return nil, err
	}
	store, err := c.newHistory(ctx)
	if err != nil {
		cc.Close()
		return nil, err
	}
	r := pipeline.NewRunner(cc, store, c.Logger)
	if dir, err := cacheDir(); err == nil {
		r.CacheDir = filepath.Join(dir, "vcs")
	}
	return r, nil
}

// newCache picks Redis when STACKLOCK_REDIS_URL is set and the file cache
// otherwise. Without a usable cache directory entries live for the process.
func (c *CLI) newCache(ctx context.Context) (cache.Cache, error) {
	if c.noCache {
		return cache.NewNullCache(), nil
	}
	if url := os.Getenv(envRedisURL); url != "" {
		rc, err := cache.NewRedisCache(ctx, url, redisPrefix)
		if err != nil {
			c.Logger.Warn("redis cache unavailable, using file cache", "err", err)
		} else {
			c.Logger.Debug("using redis cache")
			return rc, nil
		}
	}
	dir, err := cacheDir()
	if err != nil {
		return cache.NewMemoryCache(), nil
	}
	fc, err := cache.NewFileCache(filepath.Join(dir, "http"))
	if err != nil {
		c.Logger.Warn("cache directory unusable, caching in memory", "dir", dir, "err", err)
		return cache.NewMemoryCache(), nil
	}
	return fc, nil
}

// newHistory picks MongoDB when STACKLOCK_MONGO_URI is set and the local
// history file otherwise.
func (c *CLI) newHistory(ctx context.Context) (history.Store, error) {
	if uri := os.Getenv(envMongoURI); uri != "" {
		return history.NewMongoStore(ctx, uri, history.DefaultDatabase)
	}
	store, err := history.NewFileStore("")
	if err != nil {
		c.Logger.Warn("run history disabled", "err", err)
		return history.Nop{}, nil
	}
	return store, nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/stacklock/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
