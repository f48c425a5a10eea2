package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/welthee/qcaller/internal/queue"
)

const namespace = "qcaller"

// Source is the part of the scheduler the collector reads on every scrape.
type Source interface {
	Stats() queue.Stats
	IsAnnouncing() bool
	Settings() queue.Settings
}

type Collector struct {
	source Source

	tickets    *prometheus.Desc
	announcing *prometheus.Desc
	retryLimit *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		tickets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tickets"),
			"Number of tickets per lifecycle state.",
			[]string{"state"}, nil,
		),
		announcing: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "announcing"),
			"1 while an announcement blocks calling the next ticket.",
			nil, nil,
		),
		retryLimit: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retry_limit"),
			"Maximum number of calls per ticket.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tickets
	ch <- c.announcing
	ch <- c.retryLimit
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	for state, n := range map[queue.Status]int{
		queue.StatusWaiting:   stats.Waiting,
		queue.StatusSkipped:   stats.Skipped,
		queue.StatusServed:    stats.Served,
		queue.StatusAbsent:    stats.Absent,
		queue.StatusCancelled: stats.Cancelled,
	} {
		ch <- prometheus.MustNewConstMetric(c.tickets, prometheus.GaugeValue, float64(n), string(state))
	}

	announcing := 0.0
	if c.source.IsAnnouncing() {
		announcing = 1
	}
	ch <- prometheus.MustNewConstMetric(c.announcing, prometheus.GaugeValue, announcing)

	ch <- prometheus.MustNewConstMetric(c.retryLimit, prometheus.GaugeValue, float64(c.source.Settings().RetryLimit))
}
