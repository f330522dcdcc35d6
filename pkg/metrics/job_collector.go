package metrics

import (
	"context"
	"fmt"

	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type jobStatsCollector struct {
	store         store.Store
	jobsByStatus  *prometheus.Desc
	pagesByStatus *prometheus.Desc
}

// NewJobStatsCollector exposes the persisted job and page counts on every
// scrape.
func NewJobStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_store_%s", orchestratorWorker, name)
	}

	return &jobStatsCollector{
		store: s,
		jobsByStatus: prometheus.NewDesc(
			fqName("jobs"),
			"Number of persisted jobs by status.",
			[]string{statusLabel},
			prometheus.Labels{},
		),
		pagesByStatus: prometheus.NewDesc(
			fqName("pages"),
			"Number of persisted pages by status.",
			[]string{statusLabel},
			prometheus.Labels{},
		),
	}
}

func (c *jobStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsByStatus
	ch <- c.pagesByStatus
}

// Collect implements Collector.
func (c *jobStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.store.Statistics(context.Background())
	if err != nil {
		zap.S().Named("job_collector").Errorf("failed to collect job statistics: %s", err)
		return
	}

	for status, total := range stats.JobsByStatus {
		ch <- prometheus.MustNewConstMetric(c.jobsByStatus, prometheus.GaugeValue, float64(total), string(status))
	}

	for status, total := range stats.PagesByStatus {
		ch <- prometheus.MustNewConstMetric(c.pagesByStatus, prometheus.GaugeValue, float64(total), string(status))
	}
}
