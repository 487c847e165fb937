// Package server runs the local diagnostics HTTP server of the realtime
// client.
//
// Middleware stack, outermost first:
//   - gin.Recovery
//   - tracing.HTTPMiddleware: trace id per request
//   - monitoring.Middleware: request counters and latency
//   - CORS from the configured origins
//   - per-IP rate limiting when requests_per_second > 0
//
// Routes: /healthz, /streams, /streams/:id, /diagnostics, /metrics and
// /metrics/json.
//
// Example Usage:
//
//	srv := server.New(cfg.Diagnostics, client, metrics, logger)
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package server
