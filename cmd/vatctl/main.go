package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-vat/cmd/vatctl/cli"
	"github.com/odyssey-erp/odyssey-vat/internal/app"
	"github.com/odyssey-erp/odyssey-vat/internal/documents"
	"github.com/odyssey-erp/odyssey-vat/internal/platform/db"
	"github.com/odyssey-erp/odyssey-vat/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	exitCode := 0
	root := &cobra.Command{
		Use:           "vatctl",
		Short:         "Compile and manage JPK_V7M VAT declarations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetArgs(args)
	root.AddCommand(
		generateCmd(ctx, cfg, logger, &exitCode),
		schemasCmd(cfg, &exitCode),
		enqueueCmd(ctx, cfg, &exitCode),
		queueCmd(ctx, cfg),
	)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "vatctl: %v\n", err)
		return 1
	}
	return exitCode
}

func generateCmd(ctx context.Context, cfg *app.Config, logger *slog.Logger, exitCode *int) *cobra.Command {
	var opts cli.GenerateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Compile a declaration from an input file or the document store",
		RunE: func(cmd *cobra.Command, args []string) error {
			var source *documents.Source
			if opts.Input == "" {
				pool, err := db.New(ctx, cfg.PGDSN, db.Options{ReadOnly: true})
				if err != nil {
					return err
				}
				defer pool.Close()
				source = documents.NewSource(documents.NewRepository(pool))
				logger.Debug("loading documents from store", slog.Int64("company_id", opts.CompanyID))
			}
			declare := cli.NewDeclareCLI(nil, cfg.ServiceConfig())
			if source != nil {
				declare = cli.NewDeclareCLI(source, cfg.ServiceConfig())
			}
			*exitCode = declare.GenerateCommand(ctx, opts)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.Input, "input", "i", "", "YAML or JSON document file (skips the database)")
	flags.Int64Var(&opts.CompanyID, "company", 0, "company id to load from the database")
	flags.StringVar(&opts.Period, "period", "", "declaration period YYYY-MM")
	flags.StringVar(&opts.Schema, "schema", "", "schema version, defaults to VAT_SCHEMA_VERSION")
	flags.IntVar(&opts.Purpose, "purpose", 1, "1 for an original filing, 2 for a correction")
	flags.StringVarP(&opts.Format, "format", "f", cli.FormatXML, "output format: xml, json, xlsx or csv")
	flags.StringVarP(&opts.Out, "out", "o", "", "output file, stdout when empty")
	flags.BoolVar(&opts.AllowWarnings, "allow-warnings", false, "exit 0 even when warnings are reported")
	return cmd
}

func schemasCmd(cfg *app.Config, exitCode *int) *cobra.Command {
	opts := cli.SchemasOptions{Default: cfg.VATSchemaVersion}
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List supported schema versions",
		Run: func(cmd *cobra.Command, args []string) {
			*exitCode = cli.SchemasCommand(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	return cmd
}

func enqueueCmd(ctx context.Context, cfg *app.Config, exitCode *int) *cobra.Command {
	opts := cli.TriggerOptions{Job: jobs.TaskVATDeclarationGenerate}
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a generation or schedule job to the worker queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI := cli.NewJobsCLI(cfg.AsynqRedis())
			defer func() { _ = jobsCLI.Close() }()
			info, err := jobsCLI.Trigger(ctx, opts)
			if err != nil {
				*exitCode = 1
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Job, "job", jobs.TaskVATDeclarationGenerate, "task type to enqueue")
	flags.Int64Var(&opts.CompanyID, "company", 0, "company id, all companies for the schedule job when omitted")
	flags.StringVar(&opts.Period, "period", "", "declaration period YYYY-MM")
	flags.StringVar(&opts.Schema, "schema", "", "schema version")
	flags.IntVar(&opts.Purpose, "purpose", 0, "1 for an original filing, 2 for a correction")
	return cmd
}

func queueCmd(ctx context.Context, cfg *app.Config) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show queue statistics and scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI := cli.NewJobsCLI(cfg.AsynqRedis())
			defer func() { _ = jobsCLI.Close() }()
			stats, err := jobsCLI.InspectQueue(ctx)
			if err != nil {
				return err
			}
			scheduled, err := jobsCLI.ListScheduled(ctx, size)
			if err != nil {
				return err
			}
			cli.RenderQueue(cmd.OutOrStdout(), stats, scheduled)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 10, "number of scheduled tasks to list")
	return cmd
}
