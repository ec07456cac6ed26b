// Package config provides configuration management for gridcast.
//
// # Usage
//
//	cfg := config.Defaults()
//	if err := config.Load("configs/pipeline_config.yaml", cfg); err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
// Any value may reference the environment. A default after the colon is
// used when the variable is unset:
//
//	# pipeline_config.yaml
//	db:
//	  host: ${DB_HOST:localhost}
//	  password: ${DB_PASSWORD}
//	mlflow:
//	  tracking_uri: ${MLFLOW_TRACKING_URI:http://localhost:5000}
//
// An unset variable without a default resolves to the empty string.
package config
