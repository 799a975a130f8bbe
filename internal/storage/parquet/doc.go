// Package parquet implements Parquet file reading and writing for bar data.
//
// The package provides:
//   - BarWriter for streaming bars into a Parquet file
//   - BarReader for loading partition files, with structural validation
//     on open so undecodable files surface as errors instead of panics
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet
