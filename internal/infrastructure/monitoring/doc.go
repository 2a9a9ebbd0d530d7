/*
Package monitoring provides Prometheus metrics for the service.

# Overview

Metrics cover HTTP traffic, open pages, annotation passes, mutation
batches, CPI loads, outbound fetches and the stats stream. Collectors are
registered on the Registerer passed to NewMetrics, so tests can use a
private registry.

# Usage

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "initial")
	res := annotator.Annotate(body, year, mode)
	timer.Stop(res.Count, res.Truncated)

A nil *Metrics is valid and records nothing.
*/
package monitoring
