// Package metrics exposes prometheus metrics for the poller and portal client.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "energycommunity_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once
	registry     *prometheus.Registry

	cycles       *prometheus.CounterVec
	cycleLatency *prometheus.HistogramVec
	lastSuccess  prometheus.Gauge
	entities     prometheus.Gauge

	logins    *prometheus.CounterVec
	relogins  prometheus.Counter
	requests  *prometheus.CounterVec
	publishes *prometheus.CounterVec
)

func register() {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()

		cycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Total poll cycles by result",
			},
			[]string{"result"},
		)
		cycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_latency_seconds",
				Help:    "Poll cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		lastSuccess = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "poll_last_success_timestamp_seconds",
				Help: "Unix time of the last successful poll cycle",
			},
		)
		entities = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "entities",
				Help: "Number of entities built by the last successful cycle",
			},
		)
		logins = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "portal_logins_total",
				Help: "Total portal logins by result",
			},
			[]string{"result"},
		)
		relogins = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "portal_relogins_total",
				Help: "Total re-logins after the portal rejected the session",
			},
		)
		requests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "portal_requests_total",
				Help: "Total authenticated portal requests by status class",
			},
			[]string{"status"},
		)
		publishes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publishes_total",
				Help: "Total entity state publishes by sink and result",
			},
			[]string{"sink", "result"},
		)

		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			cycles,
			cycleLatency,
			lastSuccess,
			entities,
			logins,
			relogins,
			requests,
			publishes,
		)
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// ObserveCycle records a finished poll cycle.
func ObserveCycle(err error, duration time.Duration, entityCount int) {
	register()
	r := result(err)
	cycles.WithLabelValues(r).Inc()
	cycleLatency.WithLabelValues(r).Observe(duration.Seconds())
	if err == nil {
		lastSuccess.SetToCurrentTime()
		entities.Set(float64(entityCount))
	}
}

// ObserveLogin records a login handshake.
func ObserveLogin(err error) {
	register()
	logins.WithLabelValues(result(err)).Inc()
}

// IncRelogin counts a re-login triggered by a 401.
func IncRelogin() {
	register()
	relogins.Inc()
}

// ObserveRequest records the status of an authenticated request. A status of
// 0 means the request never got a response.
func ObserveRequest(status int) {
	register()
	requests.WithLabelValues(statusClass(status)).Inc()
}

// ObservePublish records a publish to a sink.
func ObservePublish(sink string, err error) {
	register()
	publishes.WithLabelValues(sink, result(err)).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
