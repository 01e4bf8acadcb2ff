// Package stores persists convergence run reports in SQLite.
//
// The run log is append-only: each report becomes one row in runs plus
// ordered rows in run_entries and run_warnings. The engine never reads it
// back. It exists for the history command and for operators auditing what
// changed on a host.
//
// Schema changes ship as embedded golang-migrate migrations and are
// applied by Migrate. File-backed databases run in WAL mode.
package stores
