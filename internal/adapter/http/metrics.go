package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
)

const metricsNamespace = "buzzforge"

// StatusSource reports the scheduler snapshot.
type StatusSource interface {
	Status() schedule.State
}

// SchedulerCollector exports the scheduler snapshot as Prometheus metrics.
// Values are read at scrape time, so the scheduler keeps no extra counters.
type SchedulerCollector struct {
	src StatusSource

	running    *prometheus.Desc
	quotaLimit *prometheus.Desc
	quotaUsed  *prometheus.Desc
	firings    *prometheus.Desc
	inFlight   *prometheus.Desc
	nextFire   *prometheus.Desc
	lastFired  *prometheus.Desc
	lastTook   *prometheus.Desc
}

// NewSchedulerCollector creates a collector over src.
func NewSchedulerCollector(src StatusSource) *SchedulerCollector {
	name := func(n string) string { return prometheus.BuildFQName(metricsNamespace, "scheduler", n) }
	return &SchedulerCollector{
		src:        src,
		running:    prometheus.NewDesc(name("running"), "Whether the scheduler loop is running.", nil, nil),
		quotaLimit: prometheus.NewDesc(name("quota_limit"), "Daily pipeline run quota.", nil, nil),
		quotaUsed:  prometheus.NewDesc(name("quota_used"), "Pipeline runs used on the current local day.", nil, nil),
		firings:    prometheus.NewDesc(name("trigger_firings_total"), "Trigger firings by outcome.", []string{"trigger", "outcome"}, nil),
		inFlight:   prometheus.NewDesc(name("trigger_running"), "Whether the trigger job is running.", []string{"trigger"}, nil),
		nextFire:   prometheus.NewDesc(name("trigger_next_fire_timestamp_seconds"), "Next scheduled fire time.", []string{"trigger"}, nil),
		lastFired:  prometheus.NewDesc(name("trigger_last_fired_timestamp_seconds"), "Last fire time.", []string{"trigger"}, nil),
		lastTook:   prometheus.NewDesc(name("trigger_last_duration_seconds"), "Duration of the last run.", []string{"trigger"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *SchedulerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.quotaLimit
	ch <- c.quotaUsed
	ch <- c.firings
	ch <- c.inFlight
	ch <- c.nextFire
	ch <- c.lastFired
	ch <- c.lastTook
}

// Collect implements prometheus.Collector.
func (c *SchedulerCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolValue(st.Running))
	ch <- prometheus.MustNewConstMetric(c.quotaLimit, prometheus.GaugeValue, float64(st.Quota.Limit))
	ch <- prometheus.MustNewConstMetric(c.quotaUsed, prometheus.GaugeValue, float64(st.Quota.Limit-st.Remaining))

	for _, t := range st.Triggers {
		fired := t.Fired - t.Failed
		ch <- prometheus.MustNewConstMetric(c.firings, prometheus.CounterValue, float64(fired), t.Name, "ok")
		ch <- prometheus.MustNewConstMetric(c.firings, prometheus.CounterValue, float64(t.Failed), t.Name, "error")
		ch <- prometheus.MustNewConstMetric(c.firings, prometheus.CounterValue, float64(t.Skipped), t.Name, "skipped")
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, boolValue(t.Running), t.Name)
		if !t.NextFireAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.nextFire, prometheus.GaugeValue, float64(t.NextFireAt.Unix()), t.Name)
		}
		if !t.LastFiredAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastFired, prometheus.GaugeValue, float64(t.LastFiredAt.Unix()), t.Name)
			ch <- prometheus.MustNewConstMetric(c.lastTook, prometheus.GaugeValue, t.LastDuration.Seconds(), t.Name)
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MetricsHandler builds a dedicated registry with the scheduler collector
// plus the Go runtime and process collectors.
func MetricsHandler(src StatusSource) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		NewSchedulerCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil
}
