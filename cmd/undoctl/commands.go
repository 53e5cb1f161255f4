package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/INLOpen/atundo/config"
	"github.com/INLOpen/atundo/store"
	"github.com/INLOpen/atundo/undo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// app carries what the persistent pre-run loads for every subcommand. Each
// command releases what it opened through close before returning.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// connect opens the database and builds a manager whose hooks report to reg.
func (a *app) connect(reg prometheus.Registerer) (*undo.Manager, error) {
	db, schema, err := openDB(a.cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { db.Close() })

	tp, cleanup, err := initTracerProvider(a.cfg.Tracing, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cleanup)

	hm := newHooks(reg, a.logger)
	a.closers = append(a.closers, hm.Stop)

	m, err := newManager(a.cfg, db, schema, tp, hm, a.logger)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "undoctl",
		Short:         "Operate the AT-mode undo log of a resource database",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			logger, logCloser, err := createLogger(cfg.Logging)
			if err != nil {
				return err
			}
			if logCloser != nil {
				a.closers = append(a.closers, func() { logCloser.Close() })
			}
			a.cfg = cfg
			a.logger = logger.With("command", cmd.Name())
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "undoctl.yaml", "Path to the configuration file")

	rootCmd.AddCommand(newSchemaCmd(a))
	rootCmd.AddCommand(newUndoCmd(a))
	rootCmd.AddCommand(newCommitCmd(a))
	rootCmd.AddCommand(newPurgeCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	return rootCmd
}

func newSchemaCmd(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print, or apply, the undo log table DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ddl := store.MySQLDialect(a.cfg.Undo.TableName).CreateTable
			if !apply {
				fmt.Fprintln(cmd.OutOrStdout(), ddl+";")
				return nil
			}
			db, _, err := openDB(a.cfg.Database, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if _, err := db.ExecContext(cmd.Context(), ddl); err != nil {
				return fmt.Errorf("create undo log table: %w", err)
			}
			a.logger.Info("Undo log table ready", "table", a.cfg.Undo.TableName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Execute the DDL against the configured database")
	return cmd
}

func newUndoCmd(a *app) *cobra.Command {
	var (
		xid      string
		branchID int64
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Roll back one branch from its undo log",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if xid == "" {
				return errors.New("--xid is required")
			}
			m, err := a.connect(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := m.Undo(ctx, xid, branchID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "branch %d of %s rolled back\n", branchID, xid)
			return nil
		},
	}
	cmd.Flags().StringVar(&xid, "xid", "", "Global transaction id")
	cmd.Flags().Int64Var(&branchID, "branch-id", 0, "Branch id")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Bound on the whole undo including retries")
	return cmd
}

func newCommitCmd(a *app) *cobra.Command {
	var (
		xid       string
		branchIDs []int64
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Delete the undo logs of globally committed branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if xid == "" || len(branchIDs) == 0 {
				return errors.New("--xid and at least one --branch-id are required")
			}
			m, err := a.connect(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			ac := a.cfg.AsyncCommit
			committer, err := undo.NewAsyncCommitter(m, ac.QueueSize, ac.BatchSize,
				config.ParseDuration(ac.FlushInterval, time.Second, a.logger), a.logger)
			if err != nil {
				return err
			}
			var dones []<-chan error
			for _, b := range branchIDs {
				done, err := committer.Submit(xid, b)
				if err != nil {
					committer.Close()
					return err
				}
				dones = append(dones, done)
			}
			if err := committer.Close(); err != nil {
				return err
			}
			var errs []error
			for _, done := range dones {
				errs = append(errs, <-done)
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d branch undo logs of %s deleted\n", len(branchIDs), xid)
			return nil
		},
	}
	cmd.Flags().StringVar(&xid, "xid", "", "Global transaction id")
	cmd.Flags().Int64SliceVar(&branchIDs, "branch-id", nil, "Branch id, repeatable")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete undo log rows older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if olderThan == 0 {
				olderThan = config.ParseDuration(a.cfg.Undo.LogRetention, 7*24*time.Hour, a.logger)
			}
			if limit == 0 {
				limit = a.cfg.Undo.PurgeBatchSize
			}
			m, err := a.connect(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			n, err := m.PurgeOlderThan(cmd.Context(), olderThan, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d undo log rows purged\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff, defaults to undo.log_retention")
	cmd.Flags().IntVar(&limit, "limit", 0, "Rows per delete statement, defaults to undo.purge_batch_size")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the retention purge and expose metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			reg := prometheus.NewRegistry()
			m, err := a.connect(reg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var srv *http.Server
			if a.cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
				srv = &http.Server{Addr: a.cfg.Metrics.ListenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					a.logger.Info("Metrics server listening", "address", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("Metrics server failed", "error", err)
					}
				}()
			}

			u := a.cfg.Undo
			err = m.RunRetention(ctx,
				config.ParseDuration(u.LogRetention, 7*24*time.Hour, a.logger),
				config.ParseDuration(u.PurgeInterval, time.Hour, a.logger),
				u.PurgeBatchSize)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
					a.logger.Error("Metrics server shutdown failed", "error", shutdownErr)
				}
			}
			return err
		},
	}
}
