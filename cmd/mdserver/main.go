// Command mdserver runs the collaborative document server: it holds the
// single authoritative document, accepts local client connections over
// a Unix domain socket, and serializes edits into numbered versions on
// a fixed-interval tick.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"mdcollab/internal/adminhttp"
	"mdcollab/internal/config"
	"mdcollab/internal/document"
	"mdcollab/internal/home"
	"mdcollab/internal/logging"
	"mdcollab/internal/session"
	"mdcollab/internal/transport"
	"mdcollab/internal/version"
)

var buildVersion = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "mdserver",
		Short: "Collaborative Markdown document server",
	}
	rootCmd.PersistentFlags().String("home", "", "runtime directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("admin-addr", "", "admin status HTTP address, e.g. 127.0.0.1:8090 (empty disables it)")

	serverCmd := &cobra.Command{
		Use:   "server [tick_interval_ms]",
		Short: "Start the document server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			adminAddr, _ := cmd.Flags().GetString("admin-addr")

			tickMS := 0
			if len(args) == 1 {
				ms, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("tick_interval_ms must be an integer: %w", err)
				}
				tickMS = ms
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, homeFlag, adminAddr, tickMS)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildVersion)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, homeFlag, adminAddr string, tickMS int) error {
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if err := hd.EnsureExists(); err != nil {
		return err
	}
	logger.Info("home directory", "path", hd.Root())

	roles, err := loadOrInitRoles(hd.RolesPath())
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}

	doc := document.New()
	registry := session.NewRegistry()
	interval := config.ResolveTickInterval(tickMS)

	sched, err := version.New(doc, registry, interval, logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	transportSrv := transport.New(hd.SocketPath(), sched, roles.Lookup, logger)

	var wg sync.WaitGroup
	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := transportSrv.Serve(serveCtx); err != nil {
			logger.Error("transport server error", "error", err)
		}
	}()

	var adminSrv *adminhttp.Server
	if adminAddr != "" {
		var token string
		adminSrv, token, err = adminhttp.New(adminAddr, sched, logger)
		if err != nil {
			return fmt.Errorf("create admin http server: %w", err)
		}
		logger.Info("admin status token issued", "token", token)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminSrv.Serve(serveCtx); err != nil {
				logger.Error("admin http server error", "error", err)
			}
		}()
	}

	fmt.Printf("Server PID: %d\n", os.Getpid())
	logger.Info("server started", "pid", os.Getpid(), "socket", hd.SocketPath(), "tick_interval", interval)

	quit := runAdminConsole(ctx, logger, registry)

	select {
	case <-ctx.Done():
	case <-quit:
	}

	logger.Info("shutting down")
	cancelServe()
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	wg.Wait()

	finalVersion, snapshot := sched.CurrentState()
	if err := os.WriteFile(hd.SnapshotPath(), snapshot, 0o644); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	logger.Info("snapshot persisted", "path", hd.SnapshotPath(), "version", finalVersion)
	return nil
}

// runAdminConsole reads admin commands from stdin. QUIT is refused while
// any session is registered; once accepted, the returned channel is
// closed to trigger persistence and shutdown (spec.md §6).
func runAdminConsole(ctx context.Context, logger *slog.Logger, registry *session.Registry) <-chan struct{} {
	quit := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			if line != "QUIT" {
				continue
			}
			if n := registry.Len(); n > 0 {
				logger.Warn("QUIT refused: sessions still connected", "count", n)
				fmt.Println("QUIT refused: sessions still connected")
				continue
			}
			close(quit)
			return
		}
	}()
	return quit
}

// resolveHome returns a Dir from the flag value, or the platform default.
func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// loadOrInitRoles loads the roles file, creating an empty one if it does
// not yet exist so a fresh runtime directory can boot without manual setup.
func loadOrInitRoles(path string) (config.Roles, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("# <username> <read|write>\n"), 0o644); err != nil {
			return nil, fmt.Errorf("create default roles file: %w", err)
		}
	}
	return config.LoadRoles(path)
}
