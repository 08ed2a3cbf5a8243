package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// session lifecycle events, provisioning outcomes, and OAuth token flows.
// Writers coordinate through a RWMutex; the active session gauge is atomic.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	sessionEvents   map[string]uint64
	provisionCount  map[string]uint64
	oauthCount      map[string]uint64
	activeSessions  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		sessionEvents:   make(map[string]uint64),
		provisionCount:  make(map[string]uint64),
		oauthCount:      make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by the package-level helper
// functions.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates request
// count and cumulative duration by method, normalized path, and status.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionListening records a listen transition and increments the active
// session gauge.
func (r *Recorder) SessionListening() {
	r.incrementSessionEvent("listen")
	r.activeSessions.Add(1)
}

// SessionStopped records a stop transition and decrements the active session
// gauge, guarding against negative counts when updates race.
func (r *Recorder) SessionStopped() {
	r.incrementSessionEvent("stop")
	r.decrementGauge(&r.activeSessions)
}

// SessionDeleted records a teardown. Deleting a listening session stops it
// first, so the gauge is owned by SessionStopped.
func (r *Recorder) SessionDeleted() {
	r.incrementSessionEvent("delete")
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// ObserveProvision records a provisioning outcome keyed by result
// ("ready", "failed", "timeout").
func (r *Recorder) ObserveProvision(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.provisionCount[normalized]++
	r.mu.Unlock()
}

// ObserveOAuth records a token flow event keyed by kind
// ("exchange", "exchange_failure", "refresh", "refresh_failure").
func (r *Recorder) ObserveOAuth(kind string) {
	normalized := normalizeName(kind)
	r.mu.Lock()
	r.oauthCount[normalized]++
	r.mu.Unlock()
}

// ActiveSessions exposes the gauge of sessions currently listening.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// SessionEventCounts returns a copy of the session lifecycle counters for
// reporting and tests.
func (r *Recorder) SessionEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.sessionEvents))
	for k, v := range r.sessionEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[string]uint64)
	r.provisionCount = make(map[string]uint64)
	r.oauthCount = make(map[string]uint64)
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets
// so scrapes and tests see stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	sessionEvents := sortedKeys(r.sessionEvents)
	provisionOutcomes := sortedKeys(r.provisionCount)
	oauthKinds := sortedKeys(r.oauthCount)

	fmt.Fprintln(w, "# HELP multicam_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE multicam_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "multicam_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP multicam_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE multicam_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "multicam_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP multicam_session_events_total Session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE multicam_session_events_total counter")
	for _, event := range sessionEvents {
		fmt.Fprintf(w, "multicam_session_events_total{event=\"%s\"} %d\n", event, r.sessionEvents[event])
	}

	fmt.Fprintln(w, "# HELP multicam_sessions_active Sessions currently listening")
	fmt.Fprintln(w, "# TYPE multicam_sessions_active gauge")
	fmt.Fprintf(w, "multicam_sessions_active %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP multicam_provisions_total Provisioning outcomes by result")
	fmt.Fprintln(w, "# TYPE multicam_provisions_total counter")
	for _, outcome := range provisionOutcomes {
		fmt.Fprintf(w, "multicam_provisions_total{outcome=\"%s\"} %d\n", outcome, r.provisionCount[outcome])
	}

	fmt.Fprintln(w, "# HELP multicam_oauth_events_total OAuth token flow events by kind")
	fmt.Fprintln(w, "# TYPE multicam_oauth_events_total counter")
	for _, kind := range oauthKinds {
		fmt.Fprintf(w, "multicam_oauth_events_total{kind=\"%s\"} %d\n", kind, r.oauthCount[kind])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest records on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// SessionListening increments counters on the default recorder.
func SessionListening() {
	defaultRecorder.SessionListening()
}

// SessionStopped decrements active sessions on the default recorder.
func SessionStopped() {
	defaultRecorder.SessionStopped()
}

// SessionDeleted records a teardown on the default recorder.
func SessionDeleted() {
	defaultRecorder.SessionDeleted()
}

// ObserveProvision records a provisioning outcome on the default recorder.
func ObserveProvision(outcome string) {
	defaultRecorder.ObserveProvision(outcome)
}

// ObserveOAuth records a token flow event on the default recorder.
func ObserveOAuth(kind string) {
	defaultRecorder.ObserveOAuth(kind)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
