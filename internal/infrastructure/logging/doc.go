// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every realtime component receives a named child logger so that log lines
// can be filtered per component:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	sup := supervisor.New(tr, supervisor.Options{Logger: logger.Component("supervisor")})
//	logger.Info("Client starting", zap.String("url", cfg.Realtime.URL))
//
// Components accept a plain *zap.Logger and treat nil as a no-op logger.
package logging
