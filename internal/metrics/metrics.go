package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace           = "layerlex"
	MetricsSubsystemSystem     = "system"
	MetricsSubsystemHTTP       = "http"
	MetricsSubsystemAPI        = "api"
	MetricsSubsystemExtraction = "extraction"
	MetricsSubsystemResolution = "resolution"
	MetricsSubsystemPipeline   = "pipeline"
	MetricsSubsystemPatterns   = "patterns"

	MetricsVersionLabel = "version"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64)

	IncrementHTTPRequests()
	IncrementHTTPErrors()

	ObserveExtraction(outcome string, conflict bool, mismatches int)
	ObserveResolution(outcome string, ambiguous bool)
	ObserveStage(stage, outcome string, elapsed float64)

	SetLoadedDefinitions(activePatterns, candidates int)
	AddPatternLoadErrors(n int)
	ObserveReload(trigger string, success bool)
}

type InstanceInfo struct {
	Version string
}

// metrics used to instrument the engine in prometheus.
type metrics struct {
	registry *prometheus.Registry

	startTime prometheus.Gauge
	info      prometheus.Gauge

	apiTime *prometheus.HistogramVec

	httpRequestsTotal prometheus.Counter
	httpErrorsTotal   prometheus.Counter

	extractionsTotal          *prometheus.CounterVec
	extractionConflicts       prometheus.Counter
	validationMismatchesTotal prometheus.Counter

	resolutionsTotal    *prometheus.CounterVec
	ambiguousResolution prometheus.Counter

	stageTime *prometheus.HistogramVec

	activePatterns    prometheus.Gauge
	mappingCandidates prometheus.Gauge
	loadErrorsTotal   prometheus.Counter
	reloadsTotal      *prometheus.CounterVec
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	options := collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}
	m.registry.MustRegister(collectors.NewProcessCollector(options))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "start_timestamp_seconds",
		Help:      "The time the server started.",
	})
	m.startTime.SetToCurrentTime()
	m.registry.MustRegister(m.startTime)

	m.info = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   MetricsNamespace,
		Subsystem:   MetricsSubsystemSystem,
		Name:        "info",
		Help:        "The server version.",
		ConstLabels: map[string]string{MetricsVersionLabel: info.Version},
	})
	m.info.Set(1)
	m.registry.MustRegister(m.info)

	m.apiTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemAPI,
			Name:      "time_seconds",
			Help:      "Time to execute the api handler",
		},
		[]string{"handler", "method", "status_code"},
	)
	m.registry.MustRegister(m.apiTime)

	m.httpRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "requests_total",
		Help:      "The total number of http API requests.",
	})
	m.registry.MustRegister(m.httpRequestsTotal)

	m.httpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "errors_total",
		Help:      "The total number of http API errors.",
	})
	m.registry.MustRegister(m.httpErrorsTotal)

	m.extractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemExtraction,
		Name:      "total",
		Help:      "The total number of extractions by outcome.",
	}, []string{"outcome"})
	m.registry.MustRegister(m.extractionsTotal)

	m.extractionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemExtraction,
		Name:      "conflicts_total",
		Help:      "The total number of extractions matched by more than one pattern.",
	})
	m.registry.MustRegister(m.extractionConflicts)

	m.validationMismatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemExtraction,
		Name:      "validation_mismatches_total",
		Help:      "The total number of extracted values rejected by the registry.",
	})
	m.registry.MustRegister(m.validationMismatchesTotal)

	m.resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemResolution,
		Name:      "total",
		Help:      "The total number of resolutions by outcome.",
	}, []string{"outcome"})
	m.registry.MustRegister(m.resolutionsTotal)

	m.ambiguousResolution = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemResolution,
		Name:      "ambiguous_total",
		Help:      "The total number of resolutions tied at priority and specificity.",
	})
	m.registry.MustRegister(m.ambiguousResolution)

	m.stageTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemPipeline,
			Name:      "stage_time_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"stage", "outcome"},
	)
	m.registry.MustRegister(m.stageTime)

	m.activePatterns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPatterns,
		Name:      "active",
		Help:      "The number of active patterns in the current snapshot.",
	})
	m.registry.MustRegister(m.activePatterns)

	m.mappingCandidates = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPatterns,
		Name:      "mapping_candidates",
		Help:      "The number of mapping candidates in the current snapshot.",
	})
	m.registry.MustRegister(m.mappingCandidates)

	m.loadErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPatterns,
		Name:      "load_errors_total",
		Help:      "The total number of patterns excluded at load time.",
	})
	m.registry.MustRegister(m.loadErrorsTotal)

	m.reloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPatterns,
		Name:      "reloads_total",
		Help:      "The total number of reloads by trigger and result.",
	}, []string{"trigger", "success"})
	m.registry.MustRegister(m.reloadsTotal)

	return m
}

// Disabled returns a Metrics that records nothing
func Disabled() Metrics {
	return (*metrics)(nil)
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64) {
	if m != nil {
		m.apiTime.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsed)
	}
}

func (m *metrics) IncrementHTTPRequests() {
	if m != nil {
		m.httpRequestsTotal.Inc()
	}
}

func (m *metrics) IncrementHTTPErrors() {
	if m != nil {
		m.httpErrorsTotal.Inc()
	}
}

func (m *metrics) ObserveExtraction(outcome string, conflict bool, mismatches int) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(outcome).Inc()
	if conflict {
		m.extractionConflicts.Inc()
	}
	if mismatches > 0 {
		m.validationMismatchesTotal.Add(float64(mismatches))
	}
}

func (m *metrics) ObserveResolution(outcome string, ambiguous bool) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(outcome).Inc()
	if ambiguous {
		m.ambiguousResolution.Inc()
	}
}

func (m *metrics) ObserveStage(stage, outcome string, elapsed float64) {
	if m != nil {
		m.stageTime.WithLabelValues(stage, outcome).Observe(elapsed)
	}
}

func (m *metrics) SetLoadedDefinitions(activePatterns, candidates int) {
	if m != nil {
		m.activePatterns.Set(float64(activePatterns))
		m.mappingCandidates.Set(float64(candidates))
	}
}

func (m *metrics) AddPatternLoadErrors(n int) {
	if m != nil && n > 0 {
		m.loadErrorsTotal.Add(float64(n))
	}
}

func (m *metrics) ObserveReload(trigger string, success bool) {
	if m != nil {
		m.reloadsTotal.WithLabelValues(trigger, strconv.FormatBool(success)).Inc()
	}
}
