package metrics

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"czdsfetch/internal"
)

func TestMain(m *testing.M) {
	internal.SetLogger(internal.NewSecureLogger(io.Discard, internal.LogLevelError, false, true))
	os.Exit(m.Run())
}

func outcome(id string, status internal.OutcomeStatus, bytes int64) internal.FetchOutcome {
	return internal.FetchOutcome{
		Item:         internal.ResourceItem{ID: id},
		Status:       status,
		BytesWritten: bytes,
		Duration:     1500 * time.Millisecond,
	}
}

func TestPrometheusSink_Record(t *testing.T) {
	sink := NewPrometheusSink("ICANN", "")

	sink.Record(outcome("com", internal.StatusSuccess, 100))
	sink.Record(outcome("net", internal.StatusNotFound, 0))
	sink.Record(outcome("org", internal.StatusPermanentFailure, 0))
	sink.Record(outcome("info", internal.StatusSuccess, 50))

	tests := []struct {
		file string
		want float64
	}{
		{"com", 1},
		{"net", 0},
		{"org", 0},
		{"info", 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(sink.status.WithLabelValues(tt.file, "ICANN")); got != tt.want {
			t.Errorf("status{file=%q} = %v, want %v", tt.file, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(sink.outcomes.WithLabelValues("Success", "ICANN")); got != 2 {
		t.Errorf("outcomes_total{status=Success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.bytesWritten); got != 150 {
		t.Errorf("bytes_written_total = %v, want 150", got)
	}
	if got := testutil.ToFloat64(sink.duration.WithLabelValues("com", "ICANN")); got != 1.5 {
		t.Errorf("item_duration_seconds = %v, want 1.5", got)
	}
}

func TestPrometheusSink_RecordOverwritesStatus(t *testing.T) {
	sink := NewPrometheusSink("ICANN", "")

	sink.Record(outcome("com", internal.StatusPermanentFailure, 0))
	sink.Record(outcome("com", internal.StatusSuccess, 10))

	if got := testutil.ToFloat64(sink.status.WithLabelValues("com", "ICANN")); got != 1 {
		t.Errorf("status = %v, want the latest value 1", got)
	}
}

func TestPrometheusSink_FlushWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "czds.prom")
	sink := NewPrometheusSink("ICANN", path)

	sink.Record(outcome("com", internal.StatusSuccess, 100))
	sink.Record(outcome("net", internal.StatusNotFound, 0))
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`czds_status{file="com",source="ICANN"} 1`,
		`czds_status{file="net",source="ICANN"} 0`,
		`czds_outcomes_total{source="ICANN",status="NotFound"} 1`,
		`czds_last_run_timestamp_seconds{source="ICANN"}`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile should contain %q, got:\n%s", want, text)
		}
	}
}

func TestPrometheusSink_FlushWithoutPath(t *testing.T) {
	sink := NewPrometheusSink("ICANN", "")
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := testutil.ToFloat64(sink.lastRun); got <= 0 {
		t.Errorf("last_run_timestamp_seconds = %v, want the flush time", got)
	}
}

func TestPrometheusSink_FlushBadPath(t *testing.T) {
	sink := NewPrometheusSink("ICANN", filepath.Join(t.TempDir(), "missing", "czds.prom"))
	if err := sink.Flush(); err == nil {
		t.Fatal("Flush() should fail when the directory does not exist")
	}
}

type countingSink struct {
	records int
	err     error
}

func (s *countingSink) Record(internal.FetchOutcome) { s.records++ }
func (s *countingSink) Flush() error                 { return s.err }

func TestMultiSink(t *testing.T) {
	failure := errors.New("disk full")
	a, b := &countingSink{}, &countingSink{err: failure}
	sink := MultiSink{a, NewLogSink("ICANN"), b}

	sink.Record(outcome("com", internal.StatusSuccess, 1))
	sink.Record(outcome("net", internal.StatusSuccess, 1))

	if a.records != 2 || b.records != 2 {
		t.Errorf("records = %d/%d, want 2/2", a.records, b.records)
	}
	if err := sink.Flush(); !errors.Is(err, failure) {
		t.Errorf("Flush() error = %v, want %v", err, failure)
	}
}
