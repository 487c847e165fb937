// Package middleware provides the HTTP middleware of the diagnostics API.
//
//   - CORS: origins from configuration, GET only
//   - RateLimit: per-IP token bucket with idle client eviction
//   - GlobalRateLimit: one bucket for every caller
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
