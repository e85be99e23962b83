// Package stores persists run history in SQLite.
//
// Each engine run is saved as a row in runs plus one host_results row per
// Result, keyed by the run ID of the AggregatedResult. The schema is
// managed with embedded golang-migrate migrations. The database runs in
// WAL mode with foreign keys on, so deleting a run removes its results.
//
// A Recorder saves runs as they complete:
//
//	store, err := stores.Open(ctx, "herd.db")
//	eng := engine.New(inv, engine.WithProcessors(stores.NewRecorder(store, logger)))
//
// FailedHosts lets a later process resume with the hosts that failed in a
// stored run.
package stores
