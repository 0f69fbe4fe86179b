package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ptmscout/internal/columns"
	"github.com/dharsanguruparan/ptmscout/internal/config"
	"github.com/dharsanguruparan/ptmscout/internal/database"
	"github.com/dharsanguruparan/ptmscout/internal/datafile"
	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/logger"
	"github.com/dharsanguruparan/ptmscout/internal/notify"
	"github.com/dharsanguruparan/ptmscout/internal/pfam"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
	"github.com/dharsanguruparan/ptmscout/internal/queue"
	"github.com/dharsanguruparan/ptmscout/internal/repository"
	"github.com/dharsanguruparan/ptmscout/internal/session"
	"github.com/dharsanguruparan/ptmscout/internal/sweeper"
	"github.com/dharsanguruparan/ptmscout/internal/validate"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel, "console")
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func readPTMs(path string) (*ptm.Registry, error) {
	if path == "" {
		return ptm.NewRegistry(nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := ptm.ReadYAML(f)
	if err != nil {
		return nil, err
	}
	return ptm.NewRegistry(records)
}

func newValidateCmd() *cobra.Command {
	var ptmFile string
	var dataset bool
	var limit int
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Classify the columns of a data file and check its rows offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := readPTMs(ptmFile)
			if err != nil {
				return fmt.Errorf("load ptms: %w", err)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			table, err := datafile.Open(args[0], f, -1)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cols, colErrs := validate.CheckAssignments(columns.Infer(table.Header))
			for _, c := range cols {
				fmt.Fprintf(out, "column %d\t%s\t%s\n", c.Number+1, c.Type, c.Label)
			}
			if units := columns.FindUnits(table.Header); units != "" {
				fmt.Fprintf(out, "units\t%s\n", units)
			}
			res := validate.Result{Errors: colErrs, Critical: len(colErrs) > 0}
			if len(colErrs) == 0 {
				res = validate.Check(cols, table.Rows, registry, validate.Options{Limit: limit, NullModifications: dataset})
			}
			if res.OK() {
				fmt.Fprintf(out, "%d rows ok\n", len(table.Rows))
				return nil
			}
			fmt.Fprintln(out, res.String())
			return fmt.Errorf("%d problems found", len(res.Errors))
		},
	}
	cmd.Flags().StringVar(&ptmFile, "ptms", "", "PTM reference YAML used to resolve modifications")
	cmd.Flags().BoolVar(&dataset, "dataset", false, "Check as a dataset upload without a modification column")
	cmd.Flags().IntVar(&limit, "limit", 0, "Check only the first N rows")
	return cmd
}

func newPfamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pfam",
		Short: "Manage the PFam family cache",
	}
	var path string
	load := &cobra.Command{
		Use:   "load <families.tsv>",
		Short: "Load family accessions, ids and classes into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.PFamCachePath
			}
			families, err := pfam.OpenFamilies(path)
			if err != nil {
				return err
			}
			defer families.Close()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := families.Load(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d families into %s\n", n, path)
			return nil
		},
	}
	load.Flags().StringVar(&path, "path", "", "Cache directory (defaults to PFAM_CACHE_PATH)")
	cmd.AddCommand(load)
	return cmd
}

func newPTMsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptms",
		Short: "Manage the PTM reference tree",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load <ptms.yaml>",
		Short: "Replace the stored PTM records with a YAML reference file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			records, err := ptm.ReadYAML(f)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.New(pool).SavePTMs(cmd.Context(), records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d ptms\n", len(records))
			return nil
		},
	})
	return cmd
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover pipeline jobs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "restart <job-id>",
			Short: "Requeue a failed load job from the stage it failed in",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				pool, err := connect(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer pool.Close()
				client := asynq.NewClient(asynq.RedisClientOpt{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				})
				defer client.Close()

				repo := repository.New(pool)
				tracker := jobs.NewTracker(repo)
				wizard := session.NewWizard(repo, nil, nil, tracker, queue.NewClient(client, logger.With("queue")),
					session.Options{BaseURL: cfg.BaseURL}, logger.With("jobs"))
				job, err := wizard.Restart(cmd.Context(), args[0], "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s queued at stage %s\n", job.ID, job.Stage)
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Fail active jobs that exceeded the stale timeout",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				pool, err := connect(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer pool.Close()
				mailer, err := notify.NewMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword, logger.With("mail"))
				if err != nil {
					return err
				}
				notifier := notify.NewNotifier(mailer, cfg.AdminEmail, cfg.IssueTrackerURL, logger.With("notify"))
				tracker := jobs.NewTracker(repository.New(pool))
				failed, err := sweeper.New(tracker, notifier, cfg.StaleAfter, logger.With("sweeper")).Sweep(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range failed {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			},
		},
	)
	return cmd
}
