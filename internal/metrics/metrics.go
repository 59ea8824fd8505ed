package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns a private registry so a textfile only ever contains this
// invocation's series.
type Recorder struct {
	reg *prometheus.Registry

	// APIRequestDuration tracks the duration of marketplace API requests
	APIRequestDuration *prometheus.HistogramVec
	// APIRequestsTotal counts marketplace API requests
	APIRequestsTotal *prometheus.CounterVec

	// SelfTestPassed is 1 when the machine's last self-test passed, else 0
	SelfTestPassed *prometheus.GaugeVec
	// SelfTestDuration is the wall time of the machine's last self-test
	SelfTestDuration *prometheus.GaugeVec
	// SelfTestLastRun is the unix time the machine was last tested
	SelfTestLastRun *prometheus.GaugeVec
}

// New creates a recorder with all collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		reg: reg,
		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "vast_api_request_duration_seconds",
				Help: "Duration of marketplace API requests by method, path, and status",
				// Buckets: 50ms to 30s
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method", "path", "status"},
		),
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vast_api_requests_total",
				Help: "Total number of marketplace API requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),
		SelfTestPassed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vast_selftest_passed",
				Help: "Whether the last self-test of a machine passed (1) or failed (0)",
			},
			[]string{"machine_id"},
		),
		SelfTestDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vast_selftest_duration_seconds",
				Help: "Duration of the last self-test of a machine",
			},
			[]string{"machine_id"},
		),
		SelfTestLastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vast_selftest_last_run_timestamp_seconds",
				Help: "Unix time of the last self-test of a machine",
			},
			[]string{"machine_id"},
		),
	}
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveRequest records one API round trip. Its signature matches
// vast.RequestObserver. A zero status means the request never got a
// response.
func (r *Recorder) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	path = NormalizePath(path)
	r.APIRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
	r.APIRequestsTotal.WithLabelValues(method, path, code).Inc()
}

// RecordSelfTest stores the outcome of one machine self-test.
func (r *Recorder) RecordSelfTest(machineID int, passed bool, duration time.Duration, at time.Time) {
	id := strconv.Itoa(machineID)
	v := 0.0
	if passed {
		v = 1
	}
	r.SelfTestPassed.WithLabelValues(id).Set(v)
	r.SelfTestDuration.WithLabelValues(id).Set(duration.Seconds())
	r.SelfTestLastRun.WithLabelValues(id).Set(float64(at.Unix()))
}

// WriteTextfile writes all series in the node_exporter textfile format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// NormalizePath replaces numeric path segments with ":id" to keep label
// cardinality bounded.
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if s == "" {
			continue
		}
		if _, err := strconv.Atoi(s); err == nil {
			segs[i] = ":id"
		}
	}
	return strings.Join(segs, "/")
}
