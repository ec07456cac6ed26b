// Package gridcast is an MLOps subsystem for forecasting building energy
// consumption.
//
// It covers the path from raw meter, building and weather files to served
// predictions:
//
//	gridcast ingest      CSV files -> MySQL warehouse tables
//	gridcast preprocess  validate, join, engineer and align the feature matrix
//	gridcast train       fit the gradient boosted model, track it in MLflow
//	gridcast evaluate    score a model version on the held out rows
//	gridcast serve       HTTP inference with a versioned model cache
//	gridcast monitor     PSI drift report over the logged inferences
//
// # Key Packages
//
//	pkg/schema       dataset kinds, declared column types and table names
//	pkg/columnar     typed column frames used by every stage
//	pkg/features     memory optimizer, feature engineer and alignment engine
//	pkg/model        GBDT trainer, native and LightGBM model loading
//	pkg/modelcache   version resolution with registry and local fallback
//	pkg/registry     MLflow tracking client and S3 artifact store
//	pkg/warehouse    MySQL staging writes, reads and inference logging
//	pkg/monitoring   drift computation and HTML report rendering
//	internal/service inference service built on the model cache
//	internal/server  gin HTTP front of the inference service
//
// # Configuration
//
// All stages read configs/pipeline_config.yaml. Values of the form
// ${VAR} are expanded from the environment, and a .env file in the working
// directory is loaded first when present.
package gridcast
