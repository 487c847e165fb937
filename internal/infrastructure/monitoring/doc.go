/*
Package monitoring provides metrics collection for the realtime layer.

# Overview

Prometheus metrics are registered on a registry owned by the Metrics value
(never the global default registry) so several clients, and tests, can live in
one process.

# Features

- Connection state gauge, dial outcomes and reconnect counts
- Inbound/outbound frames by envelope type, malformed and dropped frames
- Stream status transitions, live stream gauge, acknowledgement latency
- Registered subscriber gauge and errors by taxonomy label
- Diagnostics HTTP request metrics

# Usage

	metrics := monitoring.NewMetrics()
	sup := supervisor.New(tr, supervisor.Options{Metrics: metrics})

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{})))

A nil *Metrics is accepted everywhere and records nothing.
*/
package monitoring
