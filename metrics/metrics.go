// Package metrics implements the dispatch.Observer collaborator on
// prometheus/client_golang.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jsongate"

// DispatchObserver records per-call dispatch and write measurements.
// All methods are safe for concurrent use.
type DispatchObserver struct {
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	writeDuration prometheus.Histogram
	slowWrites    prometheus.Counter
}

// New registers the gateway collectors with reg and returns the observer.
// Pass prometheus.DefaultRegisterer to use the default registry.
func New(reg prometheus.Registerer) *DispatchObserver {
	o := &DispatchObserver{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "RPC calls dispatched, by controller, method, and outcome.",
		}, []string{"controller", "method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Wall-clock duration of a full dispatch, by controller and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"controller", "method"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_write_duration_seconds",
			Help:      "Time spent writing the response body.",
			Buckets:   prometheus.DefBuckets,
		}),
		slowWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_response_writes_total",
			Help:      "Response writes that exceeded the slow-write threshold.",
		}),
	}
	reg.MustRegister(o.calls, o.callDuration, o.writeDuration, o.slowWrites)
	return o
}

// ObserveDispatch implements dispatch.Observer.
func (o *DispatchObserver) ObserveDispatch(controller, method string, ok bool, elapsed time.Duration) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	o.calls.WithLabelValues(controller, method, outcome).Inc()
	o.callDuration.WithLabelValues(controller, method).Observe(elapsed.Seconds())
}

// ObserveWrite implements dispatch.Observer.
func (o *DispatchObserver) ObserveWrite(elapsed time.Duration, slow bool) {
	o.writeDuration.Observe(elapsed.Seconds())
	if slow {
		o.slowWrites.Inc()
	}
}
