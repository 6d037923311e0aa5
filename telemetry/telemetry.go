package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPort = 2112

// Measurements collects measurements for prometheus.
// A nil *Measurements is valid and records nothing.
type Measurements struct {
	mux        sync.RWMutex
	registry   *prometheus.Registry
	factory    promauto.Factory
	histograms map[string]prometheus.Observer
	gauges     map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
}

// New creates Measurements with its own registry.
func New() *Measurements {
	reg := prometheus.NewRegistry()
	return &Measurements{
		registry:   reg,
		factory:    promauto.With(reg),
		histograms: make(map[string]prometheus.Observer),
		gauges:     make(map[string]prometheus.Gauge),
		counters:   make(map[string]prometheus.Counter),
	}
}

// Registry returns the prometheus registry the measurements are registered with.
func (m *Measurements) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CreateObservableHistogram creates observable histogram unless one with the name exists.
func (m *Measurements) CreateObservableHistogram(name, description string) {
	if m == nil {
		return
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.histograms[name]; ok {
		return
	}
	m.histograms[name] = m.factory.NewHistogram(prometheus.HistogramOpts{Name: name, Help: description})
}

// CreateObservableGauge creates observable gauge unless one with the name exists.
func (m *Measurements) CreateObservableGauge(name, description string) {
	if m == nil {
		return
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.gauges[name]; ok {
		return
	}
	m.gauges[name] = m.factory.NewGauge(prometheus.GaugeOpts{Name: name, Help: description})
}

// CreateCounter creates counter unless one with the name exists.
func (m *Measurements) CreateCounter(name, description string) {
	if m == nil {
		return
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.counters[name]; ok {
		return
	}
	m.counters[name] = m.factory.NewCounter(prometheus.CounterOpts{Name: name, Help: description})
}

// RecordHistogramTime records duration in seconds if histogram with given name exists.
func (m *Measurements) RecordHistogramTime(name string, t time.Duration) bool {
	return m.RecordHistogramValue(name, t.Seconds())
}

// RecordHistogramValue records histogram value if histogram with given name exists.
func (m *Measurements) RecordHistogramValue(name string, f float64) bool {
	if m == nil {
		return false
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.histograms[name]; ok {
		v.Observe(f)
		return true
	}
	return false
}

// SetGauge sets the gauge to the value if gauge with given name exists.
func (m *Measurements) SetGauge(name string, f float64) bool {
	if m == nil {
		return false
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauges[name]; ok {
		v.Set(f)
		return true
	}
	return false
}

// AddToGauge adds the value to the gauge if gauge with given name exists.
func (m *Measurements) AddToGauge(name string, f float64) bool {
	if m == nil {
		return false
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauges[name]; ok {
		v.Add(f)
		return true
	}
	return false
}

// IncrementCounter increments counter if counter with given name exists.
func (m *Measurements) IncrementCounter(name string) bool {
	if m == nil {
		return false
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.counters[name]; ok {
		v.Inc()
		return true
	}
	return false
}

// Run serves the measurements on the /metrics endpoint until ctx is canceled.
// Default port of 2112 is used if port value is set to 0. Cancels ctx when the server fails.
func Run(ctx context.Context, cancel context.CancelFunc, port int, m *Measurements) error {
	if port > 65535 || port < 0 {
		return fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = defaultPort
	}
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if m != nil {
		gatherer = m.registry
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cancel()
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()
	return nil
}
