// Package metrics reads release resource usage from metrics-server.
package metrics

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned"

	"apps-console/pkg/apps"
)

// InstanceLabel is set by charts on every object of a release.
const InstanceLabel = "app.kubernetes.io/instance"

// ReleaseSelector returns the label selector matching the objects of a release.
func ReleaseSelector(release string) string {
	return InstanceLabel + "=" + release
}

// Service handles fetching and processing of Kubernetes metrics.
type Service struct {
	metricsClient metricsv1beta1.Interface
	timeout       time.Duration
	log           *logrus.Entry
}

// NewService creates a new metrics service. A nil client disables stats.
func NewService(mc metricsv1beta1.Interface, log *logrus.Entry) *Service {
	if mc == nil {
		log.Warn("Metrics client is nil, release stats are disabled")
	}
	return &Service{metricsClient: mc, timeout: time.Second, log: log}
}

// Enabled reports whether a metrics client is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.metricsClient != nil
}

// ReleaseStats sums the CPU and memory usage of the pods of a release.
// It returns nil stats when metrics are unavailable or no pod reports usage.
func (s *Service) ReleaseStats(ctx context.Context, namespace, release string) (*apps.ReleaseStats, error) {
	if !s.Enabled() {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	list, err := s.metricsClient.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: ReleaseSelector(release),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list pod metrics of %s", release)
	}
	s.log.WithFields(logrus.Fields{
		"release": release,
		"pods":    len(list.Items),
		"took":    time.Since(start),
	}).Debug("Fetched pod metrics")
	if len(list.Items) == 0 {
		return nil, nil
	}

	var stats apps.ReleaseStats
	for _, pod := range list.Items {
		for _, c := range pod.Containers {
			cpu := c.Usage["cpu"]
			mem := c.Usage["memory"]
			stats.CPUMilliCores += cpu.MilliValue()
			stats.MemoryBytes += mem.Value()
		}
	}
	return &stats, nil
}
