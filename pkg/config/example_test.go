package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/gridcast/pkg/config"
)

// ExampleDefaults demonstrates the values a fresh configuration starts with.
func ExampleDefaults() {
	cfg := config.Defaults()

	fmt.Printf("Batch Size: %d\n", cfg.Ingestion.BatchSize)
	fmt.Printf("Remote Timeout: %s\n", cfg.Serving.RemoteTimeout)
	fmt.Printf("Default Version: %s\n", cfg.Serving.DefaultVersion)

	// Output:
	// Batch Size: 200000
	// Remote Timeout: 2s
	// Default Version: latest
}

// ExamplePipelineConfig_Validate shows how to validate a configuration
// before using it.
func ExamplePipelineConfig_Validate() {
	cfg := config.Defaults()
	cfg.Ingestion.Files = []config.SourceFile{
		{Name: "weather", Path: "data/raw/weather_train.csv", Table: "dim_weather"},
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Configuration is valid!")

	cfg.Training.TestSize = 1.5
	fmt.Println(cfg.Validate())

	// Output:
	// Configuration is valid!
	// training.test_size must be in (0, 1)
}

// ExampleServingConfig_DefaultModelPath shows where the local fallback model lives.
func ExampleServingConfig_DefaultModelPath() {
	cfg := config.Defaults()
	fmt.Println(cfg.Serving.DefaultModelPath())

	// Output:
	// saved_models/model.json
}
