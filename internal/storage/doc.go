// Package storage implements the partitioned Parquet store for the
// tickvault market-data platform.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│    Save     │────▶│    Merge    │────▶│   Atomic    │
//	│  (bucket)   │     │ (sequence)  │     │   Commit    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │
//	                           ▼
//	                    ┌─────────────┐
//	                    │  Partition  │
//	                    │   Parquet   │
//	                    └─────────────┘
//
// The storage system provides:
//   - Hive-style partitioning (market/source/dataset_interval/ticker/date)
//   - Merge-on-save reconciliation keyed by (ticker, timestamp) with
//     sequence numbers deciding between overlapping fetches
//   - Crash-safe commits through same-directory temp files and rename
//   - Self-repair of undecodable partition files
//   - Parquet columnar files readable by external engines
package storage
