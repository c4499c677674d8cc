package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/samber/lo"
)

// maxHistogramSamples bounds memory per histogram; older samples are dropped.
const maxHistogramSamples = 1024

// Metrics is an in-process store of counters, gauges and histograms.
type Metrics struct {
	mu         sync.RWMutex
	startTime  time.Time
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
	enabled    bool
}

// HistogramStats contains histogram statistics
type HistogramStats struct {
	Count int
	Sum   float64
	Mean  float64
	Min   float64
	Max   float64
}

// Summary is a point-in-time copy of all metrics.
type Summary struct {
	Timestamp time.Time
	Uptime    time.Duration
	Metrics   map[string]interface{}
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime:  time.Now(),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		enabled:    true,
	}
}

func (m *Metrics) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}

func (m *Metrics) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

func (m *Metrics) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

func (m *Metrics) IncCounter(name string) {
	m.AddCounter(name, 1)
}

func (m *Metrics) AddCounter(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.counters[name] += value
}

func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.gauges[name] = value
}

func (m *Metrics) Observe(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	samples := append(m.histograms[name], value)
	if len(samples) > maxHistogramSamples {
		samples = samples[len(samples)-maxHistogramSamples:]
	}
	m.histograms[name] = samples
}

func (m *Metrics) Counter(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

func (m *Metrics) Gauge(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[name]
}

// HistogramStats returns nil when nothing was observed under name.
func (m *Metrics) HistogramStats(name string) *HistogramStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return statsOf(m.histograms[name])
}

func statsOf(values []float64) *HistogramStats {
	if len(values) == 0 {
		return nil
	}
	sum := lo.Sum(values)
	return &HistogramStats{
		Count: len(values),
		Sum:   sum,
		Mean:  sum / float64(len(values)),
		Min:   lo.Min(values),
		Max:   lo.Max(values),
	}
}

func (m *Metrics) RecordCommandExecution(command string, success bool, duration time.Duration) {
	m.IncCounter("command_total_" + command)
	if success {
		m.IncCounter("command_success_" + command)
	} else {
		m.IncCounter("command_error_" + command)
	}
	m.Observe("command_duration_ms_"+command, float64(duration.Milliseconds()))
}

// RecordSongEvent counts playback loop outcomes (started, finished, skipped, failed).
func (m *Metrics) RecordSongEvent(event string) {
	m.IncCounter("song_event_" + event)
}

func (m *Metrics) RecordQueueEvent(event string, queueSize int) {
	m.IncCounter("queue_event_" + event)
	m.SetGauge("queue_size", float64(queueSize))
}

// RecordResolverEvent counts resolver calls per source kind and records their latency.
func (m *Metrics) RecordResolverEvent(kind, event string, duration time.Duration) {
	m.IncCounter(fmt.Sprintf("resolver_%s_%s", kind, event))
	if duration > 0 {
		m.Observe(fmt.Sprintf("resolver_%s_ms", kind), float64(duration.Milliseconds()))
	}
}

func (m *Metrics) RecordVoiceEvent(event string) {
	m.IncCounter("voice_event_" + event)
}

func (m *Metrics) RecordLyricsEvent(event string) {
	m.IncCounter("lyrics_event_" + event)
}

func (m *Metrics) RecordDisplayEvent(event string) {
	m.IncCounter("display_event_" + event)
}

func (m *Metrics) RecordError(errorType string) {
	m.IncCounter("error_" + errorType)
}

func (m *Metrics) RecordGuildAction(action, guildID string) {
	m.IncCounter("guild_action_" + action)
	m.IncCounter("guild_total_" + guildID)
}

// SetActiveGuilds records how many guilds currently have a playback loop.
func (m *Metrics) SetActiveGuilds(n int) {
	m.SetGauge("active_guilds", float64(n))
}

// Summary snapshots every metric plus runtime statistics.
func (m *Metrics) Summary() Summary {
	m.mu.RLock()
	out := make(map[string]interface{}, len(m.counters)+len(m.gauges))
	for name, v := range m.counters {
		out["counter_"+name] = v
	}
	for name, v := range m.gauges {
		out["gauge_"+name] = v
	}
	for name, values := range m.histograms {
		if s := statsOf(values); s != nil {
			out["histogram_"+name+"_count"] = s.Count
			out["histogram_"+name+"_mean"] = s.Mean
			out["histogram_"+name+"_max"] = s.Max
		}
	}
	start := m.startTime
	m.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	out["memory_alloc_bytes"] = mem.Alloc
	out["memory_sys_bytes"] = mem.Sys
	out["gc_num"] = mem.NumGC
	out["goroutines"] = runtime.NumGoroutine()

	return Summary{
		Timestamp: time.Now(),
		Uptime:    time.Since(start),
		Metrics:   out,
	}
}

func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]int64)
	m.gauges = make(map[string]float64)
	m.histograms = make(map[string][]float64)
	m.startTime = time.Now()
}

// MonitoringCollector samples runtime gauges on an interval.
type MonitoringCollector struct {
	metrics  *Metrics
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMonitoringCollector(metrics *Metrics, interval time.Duration) *MonitoringCollector {
	return &MonitoringCollector{
		metrics:  metrics,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (c *MonitoringCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *MonitoringCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MonitoringCollector) collect() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.metrics.SetGauge("system_memory_alloc_mb", float64(mem.Alloc)/1024/1024)
	c.metrics.SetGauge("system_memory_sys_mb", float64(mem.Sys)/1024/1024)
	c.metrics.SetGauge("system_goroutines", float64(runtime.NumGoroutine()))
	c.metrics.SetGauge("system_gc_count", float64(mem.NumGC))
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Global returns the process-wide metrics instance.
func Global() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics()
	})
	return globalMetrics
}
