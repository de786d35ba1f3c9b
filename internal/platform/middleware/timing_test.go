package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

var totalRe = regexp.MustCompile(`(?:^|, )total;dur=(\d+\.\d);desc="Total Response Time"$`)

func serveTiming(t *testing.T, opts TimingOptions, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	Timing(opts)(h).ServeHTTP(resp, req)
	return resp
}

func TestTimingAddsTotal(t *testing.T) {
	resp := serveTiming(t, TimingOptions{}, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	header := resp.Header().Get("Server-Timing")
	m := totalRe.FindStringSubmatch(header)
	if m == nil {
		t.Fatalf("unexpected Server-Timing header %q", header)
	}
	ms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		t.Fatalf("parse duration: %v", err)
	}
	if ms < 5 {
		t.Fatalf("expected total >= 5ms, got %v", ms)
	}
	if resp.Header().Get("Timing-Allow-Origin") != "" {
		t.Fatal("did not expect Timing-Allow-Origin by default")
	}
}

func TestTimingHeaderSetWithoutExplicitWrite(t *testing.T) {
	resp := serveTiming(t, TimingOptions{}, func(http.ResponseWriter, *http.Request) {})

	if !totalRe.MatchString(resp.Header().Get("Server-Timing")) {
		t.Fatalf("expected total entry, got %q", resp.Header().Get("Server-Timing"))
	}
}

func TestTimingHeaderPresentWhenBodyWrittenFirst(t *testing.T) {
	resp := serveTiming(t, TimingOptions{}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	if got := resp.Header().Values("Server-Timing"); len(got) != 1 {
		t.Fatalf("expected exactly one Server-Timing header, got %v", got)
	}
	if resp.Body.String() != "ok" {
		t.Fatalf("body not preserved: %q", resp.Body.String())
	}
}

func TestTimingCustomMetrics(t *testing.T) {
	resp := serveTiming(t, TimingOptions{TotalDescription: "all"}, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		SetMetric(ctx, "cache", 1500*time.Microsecond, `hit "warm"`)
		StartTimer(ctx, "db", "query")
		EndTimer(ctx, "db")
		StartTimer(ctx, "render", "")
		EndTimer(ctx, "missing")
		w.WriteHeader(http.StatusOK)
	})

	parts := strings.Split(resp.Header().Get("Server-Timing"), ", ")
	if len(parts) != 4 {
		t.Fatalf("expected 4 entries, got %q", parts)
	}
	if parts[0] != `cache;dur=1.5;desc="hit \"warm\""` {
		t.Fatalf("unexpected cache entry %q", parts[0])
	}
	if !strings.HasPrefix(parts[1], "db;dur=") || !strings.HasSuffix(parts[1], `;desc="query"`) {
		t.Fatalf("unexpected db entry %q", parts[1])
	}
	if !strings.HasPrefix(parts[2], "render;dur=") || strings.Contains(parts[2], "desc") {
		t.Fatalf("expected auto-ended render entry, got %q", parts[2])
	}
	if !strings.HasPrefix(parts[3], "total;dur=") || !strings.HasSuffix(parts[3], `;desc="all"`) {
		t.Fatalf("unexpected total entry %q", parts[3])
	}
}

func TestTimingRestartingTimerKeepsSingleEntry(t *testing.T) {
	resp := serveTiming(t, TimingOptions{DisableTotal: true}, func(w http.ResponseWriter, r *http.Request) {
		StartTimer(r.Context(), "step", "")
		StartTimer(r.Context(), "step", "second")
	})

	got := resp.Header().Get("Server-Timing")
	if strings.Count(got, "step;") != 1 || !strings.Contains(got, `desc="second"`) {
		t.Fatalf("expected single restarted entry, got %q", got)
	}
}

func TestTimingDisableTotal(t *testing.T) {
	resp := serveTiming(t, TimingOptions{DisableTotal: true}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if _, ok := resp.Header()["Server-Timing"]; ok {
		t.Fatalf("expected no Server-Timing header, got %q", resp.Header().Get("Server-Timing"))
	}
}

func TestTimingEnabledPredicate(t *testing.T) {
	opts := TimingOptions{Enabled: func(r *http.Request) bool { return r.URL.Path != "/" }}
	var recorded bool
	resp := serveTiming(t, opts, func(w http.ResponseWriter, r *http.Request) {
		recorded = timingsFromContext(r.Context()) != nil
		SetMetric(r.Context(), "ignored", time.Millisecond, "")
	})

	if recorded {
		t.Fatal("expected no timing state when disabled")
	}
	if got := resp.Header().Get("Server-Timing"); got != "" {
		t.Fatalf("expected no header, got %q", got)
	}
}

func TestTimingCrossOrigin(t *testing.T) {
	resp := serveTiming(t, TimingOptions{CrossOrigin: "*"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if got := resp.Header().Get("Timing-Allow-Origin"); got != "*" {
		t.Fatalf("expected Timing-Allow-Origin '*', got %q", got)
	}
}

func TestTimingMetricsIgnoredAfterFlush(t *testing.T) {
	resp := serveTiming(t, TimingOptions{DisableTotal: true}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		SetMetric(r.Context(), "late", time.Millisecond, "")
		StartTimer(r.Context(), "late-timer", "")
	})

	if got := resp.Header().Get("Server-Timing"); got != "" {
		t.Fatalf("expected no entries, got %q", got)
	}
}

func TestTimingConcurrentMetrics(t *testing.T) {
	resp := serveTiming(t, TimingOptions{DisableTotal: true}, func(w http.ResponseWriter, r *http.Request) {
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				SetMetric(r.Context(), "m"+strconv.Itoa(i), time.Millisecond, "")
			}()
		}
		wg.Wait()
	})

	if got := strings.Count(resp.Header().Get("Server-Timing"), ";dur=1.0"); got != 10 {
		t.Fatalf("expected 10 entries, got %d", got)
	}
}

func TestTimingHelpersWithoutMiddleware(t *testing.T) {
	ctx := context.Background()
	StartTimer(ctx, "a", "")
	EndTimer(ctx, "a")
	SetMetric(ctx, "b", time.Second, "")
	//nolint:staticcheck // nil context is handled explicitly
	if timingsFromContext(nil) != nil {
		t.Fatal("expected nil timings for nil context")
	}
}

func TestTimingInformationalStatusDoesNotFlush(t *testing.T) {
	resp := serveTiming(t, TimingOptions{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusEarlyHints)
		SetMetric(r.Context(), "after-hints", 0, "")
		w.WriteHeader(http.StatusOK)
	})

	if got := resp.Header().Get("Server-Timing"); !strings.HasPrefix(got, "after-hints;dur=0.0") {
		t.Fatalf("expected metric recorded after 103, got %q", got)
	}
}

func TestFormatMetric(t *testing.T) {
	tests := []struct {
		in   timingMetric
		want string
	}{
		{timingMetric{name: "total", dur: 12345 * time.Microsecond}, "total;dur=12.3"},
		{timingMetric{name: "neg", dur: -time.Millisecond}, "neg;dur=0.0"},
		{timingMetric{name: "db query", dur: 0, desc: `a\b`}, `db_query;dur=0.0;desc="a\\b"`},
		{timingMetric{name: "", dur: 0}, "_;dur=0.0"},
	}
	for _, tt := range tests {
		if got := formatMetric(tt.in); got != tt.want {
			t.Fatalf("formatMetric(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimingWriterUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &timingWriter{ResponseWriter: rec, flush: func() {}}
	if tw.Unwrap() != rec {
		t.Fatal("expected Unwrap to return the underlying writer")
	}
	tw.Flush()
	if !rec.Flushed {
		t.Fatal("expected Flush to reach the recorder")
	}
}
