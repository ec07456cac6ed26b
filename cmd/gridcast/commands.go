package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/ajitpratap0/gridcast/internal/pipeline"
	"github.com/ajitpratap0/gridcast/internal/server"
	"github.com/ajitpratap0/gridcast/internal/service"
	"github.com/ajitpratap0/gridcast/pkg/monitoring"
	"github.com/ajitpratap0/gridcast/pkg/registry"
	"github.com/ajitpratap0/gridcast/pkg/warehouse"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gridcast v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// withApp loads the configuration, runs fn under a signal aware context and
// closes everything fn opened.
func withApp(opts *rootOptions, command string, fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(opts, command)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(ctx, a)
	}
}

func ingestCommand(opts *rootOptions) *cobra.Command {
	var chunkWorkers int
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load the raw CSV files into the warehouse",
		Long: `Load every file listed under ingestion.files into its warehouse table.
Each target table is truncated first, so rerunning replaces the data.
The command exits non-zero when any file fails.`,
		RunE: withApp(opts, "ingest", func(ctx context.Context, a *app) error {
			return pipeline.RunStage(ctx, pipeline.StageIngestion, a.log, func(ctx context.Context) error {
				wh, err := a.warehouse(ctx)
				if err != nil {
					return err
				}
				ing := pipeline.NewIngester(a.cfg.Ingestion, pipeline.WarehouseTarget{Client: wh}, a.log,
					pipeline.WithChunkWorkers(chunkWorkers))
				results, err := ing.Run(ctx)
				printIngestion(results)
				return err
			})
		}),
	}
	cmd.Flags().IntVar(&chunkWorkers, "chunk-workers", 2, "Transform workers per file")
	return cmd
}

func printIngestion(results []pipeline.IngestionMetrics) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tTABLE\tROWS\tSECONDS\tSTATUS")
	for _, m := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%s\n", m.Entity, m.Table, m.Rows, m.Seconds, m.Status)
	}
	_ = w.Flush()
}

func preprocessCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preprocess",
		Short: "Validate, assemble and align the training data",
		RunE: withApp(opts, "preprocess", func(ctx context.Context, a *app) error {
			return pipeline.RunStage(ctx, pipeline.StagePreprocessing, a.log, func(ctx context.Context) error {
				wh, err := a.warehouse(ctx)
				if err != nil {
					return err
				}
				store, err := a.matrixStore()
				if err != nil {
					return err
				}
				res, err := pipeline.NewPreprocessor(a.cfg.Preprocessing, wh, store, a.log).Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		}),
	}
}

func trainCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train, track and register the model",
		RunE: withApp(opts, "train", func(ctx context.Context, a *app) error {
			return pipeline.RunStage(ctx, pipeline.StageTraining, a.log, func(ctx context.Context) error {
				store, err := a.matrixStore()
				if err != nil {
					return err
				}
				var trainerOpts []pipeline.TrainerOption
				client, err := a.tracking(ctx)
				if err != nil {
					return err
				}
				if client != nil {
					trainerOpts = append(trainerOpts, pipeline.WithTracking(client, a.cfg.MLflow))
				}
				s3, err := a.artifactStore(ctx)
				if err != nil {
					return err
				}
				if s3 != nil {
					trainerOpts = append(trainerOpts, pipeline.WithArtifactStore(s3))
				}

				res, err := pipeline.NewTrainer(a.cfg.Training, a.cfg.Preprocessing.ArtifactPath, store, a.log, trainerOpts...).Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		}),
	}
}

func evaluateCommand(opts *rootOptions) *cobra.Command {
	var modelVersion, reportPath, explainPath string
	var rows int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a model version on the held out rows",
		RunE: withApp(opts, "evaluate", func(ctx context.Context, a *app) error {
			return pipeline.RunStage(ctx, pipeline.StageEvaluation, a.log, func(ctx context.Context) error {
				store, err := a.matrixStore()
				if err != nil {
					return err
				}
				cache, err := a.modelCache(ctx)
				if err != nil {
					return err
				}
				if modelVersion == "" {
					modelVersion = a.cfg.Serving.DefaultVersion
				}
				evalOpts := []pipeline.EvaluatorOption{
					pipeline.WithMaxRows(rows),
					pipeline.WithReportPath(reportPath),
					pipeline.WithExplanation(explainPath),
				}
				client, err := a.tracking(ctx)
				if err != nil {
					return err
				}
				if client != nil {
					evalOpts = append(evalOpts, pipeline.WithPublisher(registry.NewRunPublisher(client, a.cfg.MLflow)))
				}
				ev := pipeline.NewEvaluator(a.cfg.Training, store, cache, a.log, evalOpts...)
				res, err := ev.Run(ctx, modelVersion)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		}),
	}
	cmd.Flags().StringVar(&modelVersion, "model-version", "", "Model version to evaluate (default serving.default_version)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the evaluation result as JSON to this path")
	cmd.Flags().IntVar(&rows, "rows", pipeline.DefaultEvaluationRows, "Maximum held out rows to score")
	cmd.Flags().StringVar(&explainPath, "explain", "reports/evaluation/lime_sample_prediction.html", "Write the local explanation of the first held out row to this path (empty to skip)")
	return cmd
}

func serveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the inference server",
		RunE: withApp(opts, "serve", func(ctx context.Context, a *app) error {
			deps := service.Deps{
				Serving:      a.cfg.Serving,
				ArtifactPath: a.cfg.Preprocessing.ArtifactPath,
				ModelName:    a.cfg.MLflow.ModelName,
				Logger:       a.log,
			}
			client, err := a.tracking(ctx)
			if err != nil {
				return err
			}
			if client != nil {
				deps.Remote = client
			}

			var monitor server.ReportGenerator
			// The server still answers predictions without the warehouse;
			// only inference logging and drift reports need it.
			wh, err := a.warehouse(ctx)
			if err != nil {
				a.log.Warn("warehouse unavailable, inference logging and monitoring disabled", zap.Error(err))
			} else {
				if a.cfg.Serving.LogInferences {
					sink := warehouse.NewInferenceLogger(wh)
					if err := wh.EnsureTables(ctx, sink.Table()); err != nil {
						return err
					}
					deps.Sink = sink
				}
				monitor = monitoring.NewMonitor(a.cfg.Monitoring, wh, a.log)
			}

			svc, err := service.New(ctx, deps)
			if err != nil {
				return err
			}
			return server.New(a.cfg.Serving, svc, monitor, a.log).Run(ctx)
		}),
	}
}

func monitorCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Build the drift report from the latest inference logs",
		RunE: withApp(opts, "monitor", func(ctx context.Context, a *app) error {
			return pipeline.RunStage(ctx, pipeline.StageMonitoring, a.log, func(ctx context.Context) error {
				wh, err := a.warehouse(ctx)
				if err != nil {
					return err
				}
				report, _, err := monitoring.NewMonitor(a.cfg.Monitoring, wh, a.log).Run(ctx)
				if err != nil {
					return err
				}
				if report == nil {
					fmt.Println("No data collected yet.")
					return nil
				}
				fmt.Printf("Report written to %s (%d of %d features drifted, dataset drift: %t)\n",
					a.cfg.Monitoring.ReportPath, report.DriftedCount, len(report.Features), report.DatasetDrift)
				return nil
			})
		}),
	}
}
