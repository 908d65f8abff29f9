package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campusvote_ready",
		Help: "1 when the store answered the last readiness probe.",
	})
)

// Voting metrics
var (
	votesCast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campusvote_votes_cast_total",
		Help: "Votes recorded and counted.",
	})

	voteRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusvote_vote_rejections_total",
			Help: "Cast attempts rejected, by error kind.",
		},
		[]string{"kind"},
	)

	partialCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campusvote_partial_commits_total",
		Help: "Votes recorded whose counter increment failed.",
	})

	driftRepairs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campusvote_tally_drift_repairs_total",
		Help: "Participant counters rewritten by reconciliation.",
	})

	electionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusvote_election_transitions_total",
			Help: "Election lifecycle transitions.",
		},
		[]string{"transition"},
	)
)

var initOnce sync.Once

// Init registers the collectors in the default registry once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			votesCast, voteRejections, partialCommits, driftRepairs, electionTransitions,
		)
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

func RecordVoteCast() { votesCast.Inc() }

func RecordVoteRejected(kind string) { voteRejections.WithLabelValues(kind).Inc() }

func RecordPartialCommit() { partialCommits.Inc() }

func RecordDriftRepairs(n int) {
	if n > 0 {
		driftRepairs.Add(float64(n))
	}
}

// RecordElectionTransition counts "created", "closed" and "deleted" events.
func RecordElectionTransition(transition string) {
	electionTransitions.WithLabelValues(transition).Inc()
}

// Instrument records request counts, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var electionActions = map[string]bool{
	"close":     true,
	"votes":     true,
	"results":   true,
	"reconcile": true,
}

// CanonicalPath collapses identifiers so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "elections":
		return "/v1/elections/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "elections" && electionActions[parts[3]]:
		return "/v1/elections/:id/" + parts[3]
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "enrollments" && parts[4] == "elections":
		return "/v1/enrollments/:section/:year/elections"
	}
	return raw
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
