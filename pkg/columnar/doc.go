// Package columnar implements the typed tabular buffer shared by ingestion,
// preprocessing, training and serving.
//
// # Overview
//
// A Frame is an ordered list of named columns of equal length. Every column
// carries exactly one ColumnType:
//
//	int8, int16, int32, int64   never null
//	float16, float32, float64   NaN is null
//	category                    dictionary codes, -1 is null
//	string                      null bitmap
//	timestamp                   unix nanoseconds, NaT is null
//
// Narrow types matter: the raw meter readings run to tens of millions of
// rows, and the memory optimizer in pkg/features downcasts every numeric
// column to the smallest type that holds its observed range.
//
// # Usage Example
//
//	f := columnar.NewFrame()
//	_ = f.Set("building_id", columnar.NewNumericColumn([]int16{1, 2}))
//	_ = f.Set("primary_use", columnar.CategoryColumnFromStrings([]string{"Office", "Retail"}, nil))
//	_ = f.Cast("building_id", columnar.ColumnTypeInt32)
//
//	joined, err := columnar.LeftJoin(energy, building, []string{"building_id"})
//
// # Persistence
//
// EncodeFrame/DecodeFrame write a compact binary snapshot compressed with
// pkg/compression; pkg/formats/parquet converts frames to and from Parquet.
package columnar
