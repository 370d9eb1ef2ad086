// Package handler implements the HTTP surface of the resolution engine.
//
// # Endpoints
//
//	POST /api/extract          pattern extraction for one raw name
//	POST /api/resolve          mapping resolution for one attribute set
//	POST /api/classify         full pipeline for one unit or a batch
//	GET  /api/patterns         current pattern snapshot and load errors
//	POST /api/patterns/reload  rebuild every snapshot from the store
//	GET  /api/stats            per-pattern match statistics
//	GET  /metrics              Prometheus metrics
//	GET  /events               Server-Sent Events (reloads, conflicts, ambiguities)
//
// NoMatch and NoMapping are not errors: they are returned with status 200 and
// "matched": false. Errors are returned as JSON with {error, details}.
package handler
