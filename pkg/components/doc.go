// Package components defines the built-in component kinds.
//
// The base component "pabawi" owns the configuration directory tree. The
// proxy "pabawi::proxy::nginx" fronts the console with nginx and optional
// TLS. Two installers are available: "pabawi::install::npm" builds the
// console from source and runs it under systemd, "pabawi::install::docker"
// runs the published image. Integrations live under
// "pabawi::integrations::<name>" and each writes one env fragment to
// <config_dir>/integrations.d.
//
// Build functions are pure. File content is rendered from the embedded
// templates in templates/ so that the same parameters always yield the same
// catalog.
package components
