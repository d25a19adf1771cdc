package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPublish(t *testing.T) {
	m := New()

	m.RecordPublish("Angle", 2*time.Millisecond, nil)
	m.RecordPublish("Angle", time.Millisecond, nil)
	m.RecordPublish("Speed", time.Second, errors.New("broker gone"))

	if got := testutil.ToFloat64(m.Published); got != 2 {
		t.Errorf("published = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.PublishErrors); got != 1 {
		t.Errorf("publish errors = %f, want 1", got)
	}
	if got := testutil.CollectAndCount(m.PublishLatency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

func TestRecordSkip(t *testing.T) {
	m := New()

	m.RecordSkip(SkipNonNumeric)
	m.RecordSkip(SkipNonNumeric)
	m.RecordSkip(SkipEmptyTopic)

	tests := []struct {
		reason string
		want   float64
	}{
		{SkipNonNumeric, 2},
		{SkipEmptyTopic, 1},
		{SkipRateLimited, 0},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			if got := testutil.ToFloat64(m.SkippedEntries.WithLabelValues(tt.reason)); got != tt.want {
				t.Errorf("skipped{%s} = %f, want %f", tt.reason, got, tt.want)
			}
		})
	}
}

func TestRecordTick(t *testing.T) {
	m := New()

	m.RecordTick(5)
	m.RecordTick(3)

	if got := testutil.ToFloat64(m.Ticks); got != 2 {
		t.Errorf("ticks = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.Entries); got != 3 {
		t.Errorf("entries = %f, want 3", got)
	}
}

func TestRecordReconnect(t *testing.T) {
	m := New()

	m.RecordReconnect(errors.New("refused"))
	m.RecordReconnect(nil)

	if got := testutil.ToFloat64(m.ReconnectAttempts); got != 2 {
		t.Errorf("attempts = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReconnectFailures); got != 1 {
		t.Errorf("failures = %f, want 1", got)
	}
}

func TestSetConnected(t *testing.T) {
	m := New()

	m.SetConnected(true)
	if got := testutil.ToFloat64(m.SourceConnected); got != 1 {
		t.Errorf("connected = %f, want 1", got)
	}
	m.SetConnected(false)
	if got := testutil.ToFloat64(m.SourceConnected); got != 0 {
		t.Errorf("connected = %f, want 0", got)
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Published.Inc()

	if got := testutil.ToFloat64(b.Published); got != 0 {
		t.Errorf("second instance published = %f, want 0", got)
	}
}

func TestServer(t *testing.T) {
	m := New()
	m.RecordPublish("Angle", time.Millisecond, nil)
	m.RecordSkip(SkipEmptyTopic)

	srv := httptest.NewServer(NewServer("", "/metrics", m).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	for _, want := range []string{
		"ntbridge_published_total 1",
		`ntbridge_skipped_entries_total{reason="empty_topic"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /metrics error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}

func TestNewServer_DefaultPath(t *testing.T) {
	srv := NewServer(":0", "", New())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
