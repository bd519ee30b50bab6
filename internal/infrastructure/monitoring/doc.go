/*
Package monitoring provides Prometheus metrics for the shell.

# Overview

Metrics cover the upward HTTP API, outgoing app-server calls, inbound
notifications and requests, the app-server process lifecycle, and event
routing to UI surfaces.

# Usage

	// Tests pass prometheus.NewRegistry() to avoid duplicate registration
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	defer metrics.Close()

	router.Use(monitoring.Middleware(metrics, "/metrics"))
	router.GET("/metrics", monitoring.Handler(prometheus.DefaultGatherer))

	d := jsonrpc.NewDispatcher(appserver.Events, logger).WithMetrics(metrics)

A nil *Metrics is accepted everywhere and records nothing.
*/
package monitoring
