package cli

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/indexserver"
)

const shutdownTimeout = 5 * time.Second

// serveIndexCommand creates the serve-index command.
func (c *CLI) serveIndexCommand() *cobra.Command {
	var (
		addr   string
		rescan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve-index [dir]",
		Short: "Serve a directory of distributions as a simple package index",
		Long: `Serve the wheels and sdists below a directory as a PEP 503 / PEP 691
simple index. Wheels also get PEP 658 metadata files.

Point a project at it with:

  [[tool.stacklock.source]]
  name = "local"
  url = "http://127.0.0.1:8080/simple"

Examples:
  stacklock serve-index ./dist
  stacklock serve-index ./wheels --addr :9000 --rescan 30s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return c.runServeIndex(cmd.Context(), dir, addr, rescan)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().DurationVar(&rescan, "rescan", 0, "rescan the directory at this interval (0 disables)")
	return cmd
}

func (c *CLI) runServeIndex(ctx context.Context, dir, addr string, rescan time.Duration) error {
	logger := loggerFromContext(ctx)

	srv, err := indexserver.New(dir, indexserver.Options{Logger: logger})
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	printSuccess("Serving %d projects from %s", len(srv.Projects()), dir)
	printKeyValue("Index", StyleLink.Render("http://"+lis.Addr().String()+"/simple/"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Serve(lis)
	}()

	var tick <-chan time.Time
	if rescan > 0 {
		ticker := time.NewTicker(rescan)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			logger.Info("shutting down")
			return hs.Shutdown(shutdownCtx)
		case <-tick:
			if err := srv.Rescan(); err != nil {
				logger.Warn("rescan failed", "err", err)
			}
		case err := <-errCh:
			if stderrors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	}
}
