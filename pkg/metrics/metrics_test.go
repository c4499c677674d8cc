package metrics

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetrics()
	m.RecordSongEvent("started")
	m.RecordSongEvent("started")
	m.RecordQueueEvent("add", 4)

	if got := m.Counter("song_event_started"); got != 2 {
		t.Errorf("song_event_started = %d", got)
	}
	if got := m.Gauge("queue_size"); got != 4 {
		t.Errorf("queue_size = %v", got)
	}
}

func TestDisabledIsNoop(t *testing.T) {
	m := NewMetrics()
	m.Disable()
	m.RecordError("RESOLUTION")
	m.Observe("latency", 10)

	if m.Counter("error_RESOLUTION") != 0 {
		t.Error("disabled metrics recorded a counter")
	}
	if m.HistogramStats("latency") != nil {
		t.Error("disabled metrics recorded a histogram")
	}

	m.Enable()
	m.RecordError("RESOLUTION")
	if m.Counter("error_RESOLUTION") != 1 {
		t.Error("re-enabled metrics did not record")
	}
}

func TestHistogramStats(t *testing.T) {
	m := NewMetrics()
	for _, v := range []float64{5, 1, 9} {
		m.Observe("x", v)
	}
	s := m.HistogramStats("x")
	if s == nil {
		t.Fatal("expected stats")
	}
	if s.Count != 3 || s.Sum != 15 || s.Mean != 5 || s.Min != 1 || s.Max != 9 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestHistogramIsBounded(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < maxHistogramSamples+10; i++ {
		m.Observe("x", float64(i))
	}
	s := m.HistogramStats("x")
	if s.Count != maxHistogramSamples {
		t.Errorf("count = %d", s.Count)
	}
	if s.Min != 10 {
		t.Errorf("oldest samples should be dropped, min = %v", s.Min)
	}
}

func TestSummaryIncludesHistograms(t *testing.T) {
	m := NewMetrics()
	m.RecordResolverEvent("youtube", "resolve", 20*time.Millisecond)

	sum := m.Summary()
	if sum.Metrics["counter_resolver_youtube_resolve"] != int64(1) {
		t.Errorf("missing counter in summary: %v", sum.Metrics)
	}
	if sum.Metrics["histogram_resolver_youtube_ms_count"] != 1 {
		t.Errorf("missing histogram in summary: %v", sum.Metrics)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordDisplayEvent("update")
				_ = m.Summary()
			}
		}()
	}
	wg.Wait()
	if got := m.Counter("display_event_update"); got != 1000 {
		t.Errorf("display_event_update = %d", got)
	}
}

func TestCollectorStops(t *testing.T) {
	m := NewMetrics()
	c := NewMonitoringCollector(m, 5*time.Millisecond)
	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
	if m.Gauge("system_goroutines") == 0 {
		t.Error("collector never sampled")
	}
}
