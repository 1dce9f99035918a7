package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"migrator/app/usecase"
	"migrator/internal/domain/entity"
	"migrator/internal/infrastructure/metrics"
	"migrator/internal/infrastructure/store/filesystem"
	"migrator/internal/infrastructure/transport"
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// lockInitialize takes the host-wide initialize lock without waiting.
func lockInitialize(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another initialize holds %s", path)
	}
	return lock, nil
}

func newPlanService(dir string) (*usecase.PlanService, error) {
	repo, err := filesystem.NewPlanRepository(dir)
	if err != nil {
		return nil, fmt.Errorf("init plan repo: %w", err)
	}
	return usecase.NewPlanService(repo), nil
}

func newInitializeCommand(a *app) *cobra.Command {
	var (
		ignoreCompleted bool
		planDir         string
		lockFile        string
	)

	cmd := &cobra.Command{
		Use:   "initialize <names>",
		Short: "Rebuild the backlog for the collections matching names",
		Long: `Rebuild the backlog for the collections matching names: a single name, a
pattern with * wildcards, or a comma-separated list. Collections already in
the completed ledger are skipped unless --ignore-completed is given, which
also clears the ledger.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := lockInitialize(lockFile)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			var c closers
			defer c.close()

			ctx := cmd.Context()
			s, err := buildServices(ctx, a, &c)
			if err != nil {
				return err
			}
			if planDir == "" {
				planDir = a.cfg.Store.PlanDir
			}
			plans, err := newPlanService(planDir)
			if err != nil {
				return err
			}

			coord := usecase.NewCoordinator(s.manager, plans, a.logger)
			plan, err := coord.Initialize(ctx, args[0], ignoreCompleted, func(job *entity.Job, total int64) {
				a.logger.Info().
					Str("job_id", job.ID()).
					Int64("count", job.Count).
					Int64("total", total).
					Msg("counted")
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, plan)
		},
	}

	cmd.Flags().BoolVar(&ignoreCompleted, "ignore-completed", false, "Clear the completed ledger and queue every discovered job")
	cmd.Flags().StringVar(&planDir, "plan-dir", "", "Directory for plan snapshots (default from config)")
	cmd.Flags().StringVar(&lockFile, "lock-file", filepath.Join(os.TempDir(), "migrator-initialize.lock"), "Lock file serializing initialize runs on this host")
	return cmd
}

func newPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <names>",
		Short: "Show the jobs initialize would queue, with counts, without touching the backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c closers
			defer c.close()

			s, err := buildServices(cmd.Context(), a, &c)
			if err != nil {
				return err
			}
			jobs, err := usecase.NewCoordinator(s.manager, nil, a.logger).Preview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, jobs)
		},
	}
}

func newWorkCommand(a *app) *cobra.Command {
	var (
		workers int
		once    bool
	)

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Consume the backlog: transfer each job and record it as completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c closers
			defer c.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := buildServices(ctx, a, &c)
			if err != nil {
				return err
			}
			tr, err := buildTransfer(ctx, a, s, &c)
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = a.cfg.Worker.Count
			}

			pool := make([]*usecase.Worker, 0, workers)
			for i := 0; i < workers; i++ {
				pool = append(pool, usecase.NewWorker(s.manager, tr, a.cfg.Worker.PollInterval, a.cfg.Worker.TransferTimeout, a.logger))
			}

			if once {
				return drainAll(ctx, pool)
			}

			go func() {
				a.logger.Info().Str("addr", a.cfg.Server.MetricsAddr).Msg("starting metrics server")
				if err := metrics.StartMetricsServer(a.cfg.Server.MetricsAddr); err != nil {
					a.logger.Error().Err(err).Msg("metrics server failed")
				}
			}()

			for _, w := range pool {
				w.Start(ctx)
			}
			<-ctx.Done()
			a.logger.Info().Msg("shutdown signal received")
			for _, w := range pool {
				w.Stop()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent workers (default from config)")
	cmd.Flags().BoolVar(&once, "once", false, "Drain the backlog and exit instead of polling")
	return cmd
}

// drainAll runs every worker until the backlog is empty and joins their errors.
func drainAll(ctx context.Context, pool []*usecase.Worker) error {
	errs := make(chan error, len(pool))
	for _, w := range pool {
		go func(w *usecase.Worker) {
			_, err := w.Drain(ctx)
			errs <- err
		}(w)
	}
	var all []error
	for range pool {
		if err := <-errs; err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

func newServeCommand(a *app) *cobra.Command {
	var initTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API, initialize endpoint, progress stream and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c closers
			defer c.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s, err := buildServices(ctx, a, &c)
			if err != nil {
				return err
			}
			plans, err := newPlanService(a.cfg.Store.PlanDir)
			if err != nil {
				return err
			}
			coord := usecase.NewCoordinator(s.manager, plans, a.logger)
			handler := transport.NewCoordinatorHandler(coord, plans, initTimeout, a.logger)

			r := mux.NewRouter()
			handler.RegisterRoutes(r)
			corsHandler := handlers.CORS(
				handlers.AllowedOrigins([]string{"*"}),
				handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
				handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
			)(r)

			srv := &http.Server{
				Addr:         a.cfg.Server.Addr(),
				Handler:      handlers.RecoveryHandler()(corsHandler),
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}

			go func() {
				a.logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error().Err(err).Msg("http server failed")
					cancel()
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-stop:
				a.logger.Info().Msg("shutdown signal received")
			case <-ctx.Done():
				a.logger.Info().Msg("context cancelled")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			a.logger.Info().Msg("shutting down http server")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error().Err(err).Msg("http server shutdown error")
			}
			a.logger.Info().Msg("service stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&initTimeout, "initialize-timeout", 30*time.Minute, "Upper bound for one POST /initialize")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print backlog and completed ledger with document counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c closers
			defer c.close()

			s, err := buildServices(cmd.Context(), a, &c)
			if err != nil {
				return err
			}
			st, err := s.manager.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newClearCommand(a *app) *cobra.Command {
	var backlog, completed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the backlog and/or the completed ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !backlog && !completed {
				return errors.New("nothing to clear: pass --backlog and/or --completed")
			}
			var c closers
			defer c.close()

			s, err := buildServices(cmd.Context(), a, &c)
			if err != nil {
				return err
			}
			if backlog {
				if err := s.manager.ClearBacklogJobs(cmd.Context()); err != nil {
					return err
				}
				a.logger.Info().Msg("backlog cleared")
			}
			if completed {
				if err := s.manager.ClearCompletedJobs(cmd.Context()); err != nil {
					return err
				}
				a.logger.Info().Msg("completed ledger cleared")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&backlog, "backlog", false, "Clear the backlog queue and hash")
	cmd.Flags().BoolVar(&completed, "completed", false, "Clear the completed ledger")
	return cmd
}
