// Package http implements the read-only diagnostics API of the realtime
// client: connection health, stream handles, router diagnostics and
// metrics.
package http
