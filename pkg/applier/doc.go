// Package applier converges resources on a transports.Host. It implements
// engine.ResourceApplier for every resource kind.
//
// Packages, accounts and repositories are managed by running the host's
// own tools through the host. Files and directories go through the host's
// file operations. Services are managed through systemd, over D-Bus on the
// local machine and with systemctl elsewhere. Containers are managed with
// the Docker API, reached through a socket connection opened on the host.
//
// Every method is idempotent: applying a converged resource reports
// engine.OutcomeUnchanged and runs nothing that modifies the host. Errors
// are returned as *engine.EngineError so the executor can tell transient
// failures from permanent ones.
package applier
