package metrics

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrLabelCountMismatch is returned when the number of label values doesn't match the defined labels.
var ErrLabelCountMismatch = errors.New("label count mismatch")

// ErrNegativeCounterValue is returned when attempting to add a negative value to a counter.
var ErrNegativeCounterValue = errors.New("counter cannot be decreased")

// ErrDuplicateMetric is returned when registering a metric with a name that is already registered.
var ErrDuplicateMetric = errors.New("duplicate metric name")

// atomicFloat64 stores the bits of a float64 as a uint64 for atomic access.
type atomicFloat64 struct {
	bits uint64
}

func (a *atomicFloat64) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64(&a.bits))
}

func (a *atomicFloat64) Store(val float64) {
	atomic.StoreUint64(&a.bits, math.Float64bits(val))
}

func (a *atomicFloat64) Add(delta float64) {
	for {
		old := atomic.LoadUint64(&a.bits)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(&a.bits, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// MetricType represents the type of a metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is the interface implemented by all metric types.
type Metric interface {
	// Name returns the metric name.
	Name() string
	// Help returns the help text.
	Help() string
	// Type returns the metric type.
	Type() MetricType
	// Collect returns all metric samples for exposition.
	Collect() []Sample
}

// Sample represents a single metric sample with labels.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// labeledValue is one (labels, value) cell shared by Counter and Gauge.
type labeledValue struct {
	labels map[string]string
	value  atomicFloat64
}

// valueSet stores the per-label-combination cells of a counter or gauge.
type valueSet struct {
	labelNames []string
	mu         sync.RWMutex
	values     map[string]*labeledValue
}

func newValueSet(labelNames []string) valueSet {
	return valueSet{labelNames: labelNames, values: make(map[string]*labeledValue)}
}

// cell returns the cell for the given label values, creating it if needed.
func (s *valueSet) cell(metric string, labelValues []string) (*labeledValue, error) {
	if len(labelValues) != len(s.labelNames) {
		return nil, fmt.Errorf("%w: %s expected %d labels, got %d", ErrLabelCountMismatch, metric, len(s.labelNames), len(labelValues))
	}

	key := strings.Join(labelValues, "\x00")
	s.mu.RLock()
	lv, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return lv, nil
	}

	labels := make(map[string]string, len(s.labelNames))
	for i, name := range s.labelNames {
		labels[name] = labelValues[i]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock.
	if lv, ok = s.values[key]; !ok {
		lv = &labeledValue{labels: labels}
		s.values[key] = lv
	}
	return lv, nil
}

func (s *valueSet) collect(name string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := make([]Sample, 0, len(s.values))
	for _, lv := range s.values {
		samples = append(samples, Sample{Name: name, Labels: lv.labels, Value: lv.value.Load()})
	}
	return samples
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name string
	help string
	set  valueSet
}

func newCounter(name, help string, labelNames []string) *Counter {
	return &Counter{name: name, help: help, set: newValueSet(labelNames)}
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Help returns the help text.
func (c *Counter) Help() string { return c.help }

// Type returns the metric type.
func (c *Counter) Type() MetricType { return MetricTypeCounter }

// WithLabels returns a CounterVec for the given label values.
// The number of values must match the number of label names.
func (c *Counter) WithLabels(values ...string) (*CounterVec, error) {
	lv, err := c.set.cell(c.name, values)
	if err != nil {
		return nil, err
	}
	return &CounterVec{lv: lv}, nil
}

// Inc increments the counter by 1 (for counters without labels).
func (c *Counter) Inc() error {
	return c.Add(1)
}

// Add adds the given value to the counter (for counters without labels).
func (c *Counter) Add(delta float64) error {
	vec, err := c.WithLabels()
	if err != nil {
		return err
	}
	return vec.Add(delta)
}

// Collect returns all metric samples.
func (c *Counter) Collect() []Sample { return c.set.collect(c.name) }

// CounterVec provides methods for a specific label combination.
type CounterVec struct {
	lv *labeledValue
}

// Inc increments the counter by 1.
func (v *CounterVec) Inc() error { return v.Add(1) }

// Add adds the given value to the counter.
// Returns an error if delta is negative.
func (v *CounterVec) Add(delta float64) error {
	if delta < 0 {
		return ErrNegativeCounterValue
	}
	v.lv.value.Add(delta)
	return nil
}

// Value returns the current counter value.
func (v *CounterVec) Value() float64 { return v.lv.value.Load() }

// Gauge is a metric that can arbitrarily go up and down.
type Gauge struct {
	name string
	help string
	set  valueSet
}

func newGauge(name, help string, labelNames []string) *Gauge {
	return &Gauge{name: name, help: help, set: newValueSet(labelNames)}
}

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Help returns the help text.
func (g *Gauge) Help() string { return g.help }

// Type returns the metric type.
func (g *Gauge) Type() MetricType { return MetricTypeGauge }

// WithLabels returns a GaugeVec for the given label values.
func (g *Gauge) WithLabels(values ...string) (*GaugeVec, error) {
	lv, err := g.set.cell(g.name, values)
	if err != nil {
		return nil, err
	}
	return &GaugeVec{lv: lv}, nil
}

// Set sets the gauge to the given value (for gauges without labels).
func (g *Gauge) Set(value float64) error {
	vec, err := g.WithLabels()
	if err != nil {
		return err
	}
	vec.Set(value)
	return nil
}

// Collect returns all metric samples.
func (g *Gauge) Collect() []Sample { return g.set.collect(g.name) }

// GaugeVec provides methods for a specific label combination.
type GaugeVec struct {
	lv *labeledValue
}

// Set sets the gauge to the given value.
func (v *GaugeVec) Set(value float64) { v.lv.value.Store(value) }

// Inc increments the gauge by 1.
func (v *GaugeVec) Inc() { v.lv.value.Add(1) }

// Dec decrements the gauge by 1.
func (v *GaugeVec) Dec() { v.lv.value.Add(-1) }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogramValue
}

type histogramValue struct {
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     atomicFloat64
	count   uint64
}

func newHistogram(name, help string, buckets []float64, labelNames []string) *Histogram {
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	if len(sorted) == 0 || sorted[len(sorted)-1] != math.Inf(1) {
		sorted = append(sorted, math.Inf(1))
	}

	return &Histogram{
		name:       name,
		help:       help,
		labelNames: labelNames,
		buckets:    sorted,
		values:     make(map[string]*histogramValue),
	}
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Help returns the help text.
func (h *Histogram) Help() string { return h.help }

// Type returns the metric type.
func (h *Histogram) Type() MetricType { return MetricTypeHistogram }

// WithLabels returns a HistogramVec for the given label values.
func (h *Histogram) WithLabels(values ...string) (*HistogramVec, error) {
	if len(values) != len(h.labelNames) {
		return nil, fmt.Errorf("%w: %s expected %d labels, got %d", ErrLabelCountMismatch, h.name, len(h.labelNames), len(values))
	}

	key := strings.Join(values, "\x00")
	h.mu.RLock()
	hv, ok := h.values[key]
	h.mu.RUnlock()

	if !ok {
		labels := make(map[string]string, len(h.labelNames))
		for i, name := range h.labelNames {
			labels[name] = values[i]
		}

		h.mu.Lock()
		hv, ok = h.values[key]
		if !ok {
			hv = &histogramValue{
				labels:  labels,
				buckets: h.buckets,
				counts:  make([]uint64, len(h.buckets)),
			}
			h.values[key] = hv
		}
		h.mu.Unlock()
	}

	return &HistogramVec{hv: hv}, nil
}

// Observe records a value in the histogram (for histograms without labels).
func (h *Histogram) Observe(value float64) error {
	vec, err := h.WithLabels()
	if err != nil {
		return err
	}
	vec.Observe(value)
	return nil
}

// Collect returns all metric samples.
func (h *Histogram) Collect() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	samples := make([]Sample, 0, (len(h.buckets)+2)*len(h.values))
	for _, hv := range h.values {
		cumulative := uint64(0)
		for i, bound := range hv.buckets {
			cumulative += atomic.LoadUint64(&hv.counts[i])
			bucketLabels := make(map[string]string, len(hv.labels)+1)
			for k, v := range hv.labels {
				bucketLabels[k] = v
			}
			if math.IsInf(bound, 1) {
				bucketLabels["le"] = "+Inf"
			} else {
				bucketLabels["le"] = formatFloat(bound)
			}
			samples = append(samples, Sample{Name: h.name + "_bucket", Labels: bucketLabels, Value: float64(cumulative)})
		}

		samples = append(samples, Sample{Name: h.name + "_sum", Labels: hv.labels, Value: hv.sum.Load()})
		samples = append(samples, Sample{Name: h.name + "_count", Labels: hv.labels, Value: float64(atomic.LoadUint64(&hv.count))})
	}
	return samples
}

// HistogramVec provides methods for a specific label combination.
type HistogramVec struct {
	hv *histogramValue
}

// Observe records a value in the histogram.
func (v *HistogramVec) Observe(value float64) {
	for i, bound := range v.hv.buckets {
		if value <= bound {
			atomic.AddUint64(&v.hv.counts[i], 1)
			break
		}
	}
	v.hv.sum.Add(value)
	atomic.AddUint64(&v.hv.count, 1)
}

// Registry holds all registered metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{}
}

// NewRegistry creates a new metric registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make([]Metric, 0),
		names:   make(map[string]struct{}),
	}
}

// NewCounter creates and registers a new counter.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	c := newCounter(name, help, labels)
	r.register(c)
	return c
}

// NewGauge creates and registers a new gauge.
func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	g := newGauge(name, help, labels)
	r.register(g)
	return g
}

// NewHistogram creates and registers a new histogram with the given buckets.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labels ...string) *Histogram {
	h := newHistogram(name, help, buckets, labels)
	r.register(h)
	return h
}

// register panics on duplicate names, since duplicates produce invalid
// Prometheus output.
func (r *Registry) register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[m.Name()]; exists {
		panic(fmt.Sprintf("%s: %s", ErrDuplicateMetric, m.Name()))
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		metrics := make([]Metric, len(r.metrics))
		copy(metrics, r.metrics)
		r.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		for _, m := range metrics {
			writeMetric(w, m)
		}
	})
}

// writeMetric writes a single metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, m Metric) {
	samples := m.Collect()
	if len(samples) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", m.Name(), escapeHelp(m.Help()))
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", m.Name(), m.Type())

	for _, s := range samples {
		if len(s.Labels) == 0 {
			_, _ = fmt.Fprintf(w, "%s %s\n", s.Name, formatFloat(s.Value))
		} else {
			_, _ = fmt.Fprintf(w, "%s{%s} %s\n", s.Name, formatLabels(s.Labels), formatFloat(s.Value))
		}
	}
}

// formatLabels formats labels as key="value",key="value" in sorted key order.
func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, escapeLabelValue(labels[k]))
	}
	return strings.Join(parts, ",")
}

// formatFloat formats a float64 for Prometheus output.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	if math.IsInf(v, -1) {
		return "-Inf"
	}
	s := fmt.Sprintf("%g", v)
	if v == float64(int64(v)) && !strings.Contains(s, ".") && !strings.Contains(s, "e") {
		return fmt.Sprintf("%.0f", v)
	}
	return s
}

func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func escapeLabelValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
