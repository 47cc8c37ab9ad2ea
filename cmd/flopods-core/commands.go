package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/zahidkhandev/flopods-sub000/internal/adapters/driving/http"
	"github.com/zahidkhandev/flopods-sub000/internal/billing"
	"github.com/zahidkhandev/flopods-sub000/internal/config"
	"github.com/zahidkhandev/flopods-sub000/internal/worker"
)

var (
	workerConcurrency int
	workerNoHTTP      bool
	estimateModel     string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process ingestion and embedding tasks",
	Long: `Run the task worker. The scheduler enqueues maintenance tasks and the
operator HTTP API is served alongside unless disabled.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.migrate(ctx); err != nil {
				return err
			}
			a.logger.Info("schema ready")
			return nil
		})
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <document-id>",
	Short: "Queue a full embedding rebuild for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			task, err := a.documents.RequestRegeneration(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s task %s\n", task.Type, task.ID)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task queue counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.taskQueue.Stats(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		})
	},
}

var estimateCmd = &cobra.Command{
	Use:   "estimate <size-bytes> <mime-type>",
	Short: "Estimate the embedding cost of an upload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || size < 0 {
			return fmt.Errorf("invalid size %q", args[0])
		}
		billingCfg, err := config.BillingFromEnv()
		if err != nil {
			return err
		}
		estimator, err := billing.NewEstimator(billingCfg)
		if err != nil {
			return err
		}
		model := estimateModel
		if m := os.Getenv("EMBEDDING_MODEL"); m != "" && !cmd.Flags().Changed("model") {
			model = m
		}
		est, err := estimator.EstimateUpload(size, args[1], model)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "model:   %s\n", est.Quote.Model)
		fmt.Fprintf(out, "pages:   %d\n", est.Pages)
		fmt.Fprintf(out, "tokens:  %d\n", est.Tokens)
		fmt.Fprintf(out, "cost:    $%s\n", est.Quote.CostUSD.StringFixed(6))
		fmt.Fprintf(out, "charge:  $%s\n", est.Quote.ChargeUSD.StringFixed(6))
		fmt.Fprintf(out, "credits: %d\n", est.Quote.Credits)
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage workspace provider keys",
}

var keysSetCmd = &cobra.Command{
	Use:   "set <workspace-id> <provider> <api-key>",
	Short: "Store a workspace's own provider key and enable BYOK",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.keys.SaveWorkspaceKey(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s key for workspace %s\n", args[1], args[0])
			return nil
		})
	},
}

var keysBYOKCmd = &cobra.Command{
	Use:   "byok <workspace-id> <on|off>",
	Short: "Switch a workspace between its own keys and the platform keys",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.keys.SetBYOK(ctx, args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "byok %s for workspace %s\n", args[1], args[0])
			return nil
		})
	},
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", v)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "number of processing goroutines (overrides WORKER_CONCURRENCY)")
	workerCmd.Flags().BoolVar(&workerNoHTTP, "no-http", false, "do not serve the operator API")
	estimateCmd.Flags().StringVar(&estimateModel, "model", "text-embedding-004", "embedding model to price (EMBEDDING_MODEL when unset)")

	keysCmd.AddCommand(keysSetCmd, keysBYOKCmd)
	rootCmd.AddCommand(workerCmd, migrateCmd, regenerateCmd, statusCmd, estimateCmd, keysCmd, versionCmd)
}

// withApp loads config, builds the app, runs fn and closes everything.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close failed", "error", cerr)
		}
	}()
	return fn(ctx, a)
}

func runWorker(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		cfg := a.cfg
		if workerConcurrency > 0 {
			cfg.Worker.Concurrency = workerConcurrency
		}

		if err := a.scheduler.EnsureDefaults(ctx, cfg.Pipeline.StaleSweepEvery); err != nil {
			return fmt.Errorf("failed to seed schedules: %w", err)
		}

		wcfg := worker.WorkerConfig{
			TaskQueue:      a.taskQueue,
			Ingestion:      a.ingestion,
			Pipeline:       a.pipeline,
			Maintenance:    a.maintenance,
			Logger:         a.logger,
			Concurrency:    cfg.Worker.Concurrency,
			DequeueTimeout: cfg.Worker.DequeueTimeout,
		}
		if cfg.Worker.SchedulerEnabled {
			wcfg.Scheduler = a.scheduler
		}
		w := worker.NewWorker(wcfg)

		// In-flight tasks finish on shutdown, so the worker runs detached
		// from the signal context and is stopped explicitly.
		if err := w.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		if cfg.HTTP.Enabled && !workerNoHTTP {
			server := httpadapter.NewServer(httpadapter.Config{
				Host:    cfg.HTTP.Host,
				Port:    cfg.HTTP.Port,
				Version: version,
				Token:   cfg.HTTP.Token,
				Logger:  a.logger,
			}, httpadapter.Services{
				Documents: a.documents,
				Search:    a.search,
				Schedules: a.scheduler,
				TaskQueue: a.taskQueue,
				Checks: map[string]httpadapter.Pinger{
					"postgres":  a.db,
					"queue":     a.taskQueue,
					"documents": a.documentStorage,
					"vectors":   a.vectorStorage,
				},
			})
			g.Go(func() error { return server.Start(gctx) })
		}
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})

		err := g.Wait()
		a.logger.Info("shutting down worker")

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(cfg.Pipeline.LockTTL):
			err = errors.Join(err, errors.New("worker did not stop before lock ttl"))
		}
		return err
	})
}
