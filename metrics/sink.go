package metrics

import (
	"errors"

	"czdsfetch/internal"
)

// LogSink writes one log line per outcome
type LogSink struct {
	source string
}

// NewLogSink creates a sink tagging every line with source
func NewLogSink(source string) *LogSink {
	return &LogSink{source: source}
}

// Record implements internal.MetricsSink
func (s *LogSink) Record(outcome internal.FetchOutcome) {
	value := 0
	if outcome.Status == internal.StatusSuccess {
		value = 1
	}
	internal.LogDebug("metric status=%d file=%s source=%s outcome=%s", value, outcome.Item.ID, s.source, outcome.Status)
}

// Flush implements internal.MetricsSink
func (s *LogSink) Flush() error {
	return nil
}

// MultiSink fans outcomes out to several sinks
type MultiSink []internal.MetricsSink

// Record implements internal.MetricsSink
func (m MultiSink) Record(outcome internal.FetchOutcome) {
	for _, s := range m {
		s.Record(outcome)
	}
}

// Flush flushes every sink and joins their errors
func (m MultiSink) Flush() error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
