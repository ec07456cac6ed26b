// Package features turns joined warehouse tables into model-ready design
// matrices and replays the exact same encoding for single inference
// requests.
//
// The training path is
//
//	Assembler.Process -> Engineer.Engineer -> Aligner.Fit -> SaveArtifact
//
// and the serving path is
//
//	LoadArtifact -> Engineer.Engineer -> Aligner.Transform -> DesignMatrix
//
// A fitted Artifact is read-only. Any number of goroutines may call
// Transform on one Aligner concurrently.
package features
