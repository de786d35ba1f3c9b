package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	serverTimingHeader      = "Server-Timing"
	timingAllowOriginHeader = "Timing-Allow-Origin"

	// DefaultTotalDescription labels the total entry unless TimingOptions overrides it.
	DefaultTotalDescription = "Total Response Time"
)

// TimingOptions configures the Timing middleware. The zero value reports a total
// entry for every request and emits no Timing-Allow-Origin header.
type TimingOptions struct {
	// DisableTotal omits the "total" entry.
	DisableTotal bool
	// TotalDescription replaces DefaultTotalDescription.
	TotalDescription string
	// Enabled restricts timing to matching requests. Nil enables every request.
	Enabled func(*http.Request) bool
	// CrossOrigin, when set, is sent as Timing-Allow-Origin.
	CrossOrigin string
}

type timingKey struct{}

var descEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

type timingMetric struct {
	name string
	desc string
	dur  time.Duration
}

type openTimer struct {
	name  string
	desc  string
	start time.Time
}

// requestTimings collects metrics for one request. Handlers may record from helper
// goroutines, so every access holds mu.
type requestTimings struct {
	mu      sync.Mutex
	start   time.Time
	metrics []timingMetric
	open    []openTimer
	flushed bool
}

// Timing measures request duration and reports it with the Server-Timing header.
// Metrics recorded through StartTimer, EndTimer and SetMetric are emitted alongside
// the total; timers still open when the header is written are ended automatically.
func Timing(opts TimingOptions) func(http.Handler) http.Handler {
	totalDesc := opts.TotalDescription
	if totalDesc == "" {
		totalDesc = DefaultTotalDescription
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Enabled != nil && !opts.Enabled(r) {
				next.ServeHTTP(w, r)
				return
			}
			rt := &requestTimings{start: time.Now()}
			tw := &timingWriter{ResponseWriter: w}
			tw.flush = func() {
				value, ok := rt.finish(time.Now(), !opts.DisableTotal, totalDesc)
				if !ok {
					return
				}
				h := w.Header()
				if value != "" {
					h.Add(serverTimingHeader, value)
				}
				if opts.CrossOrigin != "" {
					h.Set(timingAllowOriginHeader, opts.CrossOrigin)
				}
			}
			ctx := context.WithValue(r.Context(), timingKey{}, rt)
			next.ServeHTTP(tw, r.WithContext(ctx))
			tw.flush()
		})
	}
}

// StartTimer begins a named measurement. Starting a name that is already open restarts it.
func StartTimer(ctx context.Context, name, desc string) {
	rt := timingsFromContext(ctx)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.flushed {
		return
	}
	for i := range rt.open {
		if rt.open[i].name == name {
			rt.open[i] = openTimer{name: name, desc: desc, start: time.Now()}
			return
		}
	}
	rt.open = append(rt.open, openTimer{name: name, desc: desc, start: time.Now()})
}

// EndTimer completes a measurement started with StartTimer. Unknown names are ignored.
func EndTimer(ctx context.Context, name string) {
	rt := timingsFromContext(ctx)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.endLocked(name, time.Now())
}

// SetMetric records a completed measurement.
func SetMetric(ctx context.Context, name string, dur time.Duration, desc string) {
	rt := timingsFromContext(ctx)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.flushed {
		return
	}
	rt.metrics = append(rt.metrics, timingMetric{name: name, desc: desc, dur: dur})
}

func timingsFromContext(ctx context.Context) *requestTimings {
	if ctx == nil {
		return nil
	}
	rt, _ := ctx.Value(timingKey{}).(*requestTimings)
	return rt
}

func (rt *requestTimings) endLocked(name string, now time.Time) {
	for i, t := range rt.open {
		if t.name != name {
			continue
		}
		rt.metrics = append(rt.metrics, timingMetric{name: t.name, desc: t.desc, dur: now.Sub(t.start)})
		rt.open = append(rt.open[:i], rt.open[i+1:]...)
		return
	}
}

// finish closes open timers and renders the header value. It reports false once
// the header has already been rendered.
func (rt *requestTimings) finish(now time.Time, total bool, totalDesc string) (string, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.flushed {
		return "", false
	}
	rt.flushed = true
	for len(rt.open) > 0 {
		rt.endLocked(rt.open[0].name, now)
	}
	if total {
		rt.metrics = append(rt.metrics, timingMetric{name: "total", desc: totalDesc, dur: now.Sub(rt.start)})
	}
	entries := make([]string, 0, len(rt.metrics))
	for _, m := range rt.metrics {
		entries = append(entries, formatMetric(m))
	}
	return strings.Join(entries, ", "), true
}

// formatMetric renders name;dur=<milliseconds, one decimal>;desc="...".
func formatMetric(m timingMetric) string {
	dur := m.dur
	if dur < 0 {
		dur = 0
	}
	var b strings.Builder
	b.WriteString(metricName(m.name))
	b.WriteString(";dur=")
	b.WriteString(strconv.FormatFloat(float64(dur)/float64(time.Millisecond), 'f', 1, 64))
	if m.desc != "" {
		b.WriteString(`;desc="`)
		b.WriteString(descEscaper.Replace(m.desc))
		b.WriteByte('"')
	}
	return b.String()
}

// metricName replaces characters outside the RFC 9110 token set with '_'.
func metricName(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if isTokenChar(r) {
			return r
		}
		return '_'
	}, name)
}

func isTokenChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		return true
	}
	return false
}

// timingWriter adds the Server-Timing header just before the status line is sent.
type timingWriter struct {
	http.ResponseWriter
	flush func()
}

func (w *timingWriter) WriteHeader(code int) {
	// 1xx responses precede the final header set.
	if code >= http.StatusOK || code == http.StatusSwitchingProtocols {
		w.flush()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) Flush() {
	w.flush()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *timingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
