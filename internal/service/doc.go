// Package service wires the resolution engine to its stores and exposes it to
// the HTTP handlers and the CLI.
//
// # Services
//
// ClassifierService owns the live engine: the pattern snapshot, the mapping
// candidate snapshot and the component vocabulary. Reload rebuilds all three
// from the repository (optionally seeding the repository from YAML files
// first) and swaps them in only after every load succeeded, so in-flight
// classifications keep reading the previous snapshot.
//
// Reloader triggers reloads on a cron schedule and when a source file changes.
//
// # Event System
//
// Reloads, extraction conflicts and ambiguous resolutions are published on the
// EventBus. The server forwards them to connected clients via Server-Sent
// Events.
package service
