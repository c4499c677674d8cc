package main

import (
	"bytes"
	"strings"
	"testing"

	"songbird/pkg/logger"
	"songbird/pkg/metrics"
)

func TestLogMetrics(t *testing.T) {
	var buf bytes.Buffer
	app := &Application{log: logger.NewWithWriter(&buf, "info"), metrics: metrics.NewMetrics()}
	app.metrics.IncCounter("songs_started")

	app.logMetrics()
	out := buf.String()
	for _, want := range []string{`"message":"Metrics summary"`, `"counter_songs_started":1`, `"uptime":`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}

	buf.Reset()
	app.metrics.Disable()
	app.logMetrics()
	if buf.Len() != 0 {
		t.Errorf("disabled metrics were logged: %s", buf.String())
	}
}
