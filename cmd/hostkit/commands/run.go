package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ncobase/hostkit/config"
	"github.com/ncobase/hostkit/logging/logger"
	"github.com/ncobase/hostkit/logging/observes"
	"github.com/ncobase/hostkit/version"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command
func NewRunCommand(root *rootOptions) *cobra.Command {
	var (
		extensionPath string
		console       bool
		shutdown      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load and enable extensions until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, watchable, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if extensionPath != "" {
				cfg.Extension.Path = extensionPath
			}

			// Create logger
			logCleanup, err := logger.New(cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logCleanup()
			info := version.GetVersionInfo()
			logger.SetVersion(info.Version)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, _ = logger.EnsureTraceID(ctx)

			id := observes.Identity{Name: cfg.AppName, Version: info.Version, Revision: info.Revision, Environment: cfg.RunMode}
			shutdownTracer, err := observes.NewTracer(ctx, cfg.Observes.Tracer, id)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(flushCtx); err != nil {
					logger.Warnf(flushCtx, "Failed to flush traces: %v", err)
				}
			}()

			hook, err := observes.NewSentry(cfg.Observes.Sentry, id)
			if err != nil {
				return fmt.Errorf("failed to init sentry: %w", err)
			}
			if hook != nil {
				logger.AddHook(hook)
				defer hook.Flush(2 * time.Second)
			}

			h, err := newHost(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdown)
				defer cancel()
				h.Close(closeCtx)
				logger.Infof(closeCtx, "Host stopped")
			}()

			if err := h.Start(ctx); err != nil {
				return err
			}

			if cfg.Extension.HotReload && watchable {
				config.Watch(func(next *config.Config, err error) {
					if err != nil {
						logger.Errorf(ctx, "Failed to reload config: %v", err)
						return
					}
					if extensionPath != "" {
						next.Extension.Path = extensionPath
					}
					if err := h.Reload(ctx, next); err != nil {
						logger.Errorf(ctx, "Failed to reload extensions: %v", err)
					}
				})
			}

			if console {
				go readConsole(ctx, h, cmd)
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&extensionPath, "path", "p", "", "extension directory (overrides extension.path)")
	cmd.Flags().BoolVar(&console, "console", false, "read commands from stdin")
	cmd.Flags().DurationVar(&shutdown, "shutdown-timeout", 30*time.Second, "time allowed for disabling extensions")

	return cmd
}

func readConsole(ctx context.Context, h *host, cmd *cobra.Command) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := h.Dispatch(ctx, line); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	}
}
