// Package tracing correlates diagnostics requests with their log lines.
//
// Every request gets a trace id, taken from the X-Trace-ID header when the
// caller sent one, stored in the request context and echoed in the
// response:
//
//	router.Use(tracing.HTTPMiddleware(logger))
//	...
//	traceID := tracing.FromContext(c.Request.Context())
package tracing
