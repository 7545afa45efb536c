package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfSessionOperation is perf metric
	PerfSessionOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_cryptodev_session",
		Help:         "perf_cryptodev_session provides the sample metrics of session open and close",
		RequiredTags: []string{"algorithm", "action"},
	}

	// PerfHashChain is perf metric
	PerfHashChain = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_cryptodev_chain",
		Help:         "perf_cryptodev_chain provides the sample metrics of iterated hash runs",
		RequiredTags: []string{"algorithm"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfSessionOperation,
	&PerfHashChain,
}
