// Command rtclient connects to a content studio realtime endpoint, starts
// one stream and logs every envelope it receives.
//
// Configuration:
//   - Environment variables (RT_URL, RT_TOKEN, RT_AUTH_URL, LOG_LEVEL ...)
//   - A YAML or TOML file given with -config
//   - CLI flags override both
//
// Usage:
//
//	# Against the development server
//	./rtclient -url ws://localhost:8080/ws -kind trend_monitoring -dev
//
//	# With a config file and a custom request
//	./rtclient -config realtime.yaml -kind script_generation \
//	    -params '{"topic":"AI","platform":"tiktok","duration":30}'
//
// While running, the diagnostics API listens on DIAG_ADDR
// (127.0.0.1:9090 by default).
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
