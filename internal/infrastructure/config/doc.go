// Package config provides 12-factor configuration management for the realtime client.
//
// Configuration is loaded from environment variables on top of defaults. An
// optional YAML or TOML file can be layered underneath; environment variables
// always win.
//
// Configuration Sections:
//   - Realtime: shared connection URL, backoff, acknowledgement and keepalive timing
//   - Auth: handshake token source
//   - Logging: Log level and output format
//   - Diagnostics: local status server
//   - DevServer: development stream server
//
// Example Usage:
//
//	cfg, err := config.LoadFile("realtime.yaml")
//	if err != nil {
//	    cfg = config.LoadOrDefault()
//	}
//
// Environment Variables:
//   - RT_URL, RT_BACKOFF_MIN, RT_BACKOFF_MAX, RT_BACKOFF_MULTIPLIER, RT_MAX_RETRIES
//   - RT_ACK_TIMEOUT, RT_HEARTBEAT_INTERVAL, RT_PING_INTERVAL, RT_PONG_WAIT
//   - RT_HANDSHAKE_TIMEOUT, RT_SEND_QUEUE, RT_SEND_RPS, RT_RETAIN_TERMINAL
//   - RT_AUTH_URL, RT_TOKEN, RT_AUTH_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - DIAG_ENABLED, DIAG_ADDR, DIAG_RATE_LIMIT_RPS, DIAG_RATE_LIMIT_BURST, DIAG_GLOBAL_RPS,
//     DIAG_ALLOW_ORIGINS
//   - DEVSERVER_ADDR, DEVSERVER_STEPS, DEVSERVER_INTERVAL
package config
