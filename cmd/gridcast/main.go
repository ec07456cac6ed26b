// Command gridcast runs the energy forecasting pipeline stages and the
// inference server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "gridcast",
		Short: "gridcast - building energy forecasting pipeline and inference server",
		Long: `gridcast ingests raw meter, building and weather data into the warehouse,
prepares an aligned feature matrix, trains and registers a gradient boosted
model and serves meter reading predictions over HTTP.

Example:
  gridcast ingest --config configs/pipeline_config.yaml
  gridcast preprocess && gridcast train
  gridcast serve`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/pipeline_config.yaml", "Path to the pipeline configuration YAML file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		versionCommand(),
		ingestCommand(opts),
		preprocessCommand(opts),
		trainCommand(opts),
		evaluateCommand(opts),
		serveCommand(opts),
		monitorCommand(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
