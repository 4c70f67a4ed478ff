// Package tracking determines which files an execution created or modified.
// Three independent detectors feed a deduplicated union:
//
//   - hook-based: the sandboxed filesystem API reports creates and
//     positive-length writes to a Recorder while the code runs
//   - snapshot-based: a before/after walk of the watched roots, comparing
//     size and mtime stamps
//   - storage-level: a before/after diff of the persisted-storage listing,
//     applied by the host when the first two detectors saw nothing
//
// Designated system paths are excluded from walks and dropped from the
// final set even when a detector flagged them. The whole computation runs
// only for successful executions.
package tracking
