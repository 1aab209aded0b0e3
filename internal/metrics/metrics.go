// Package metrics exposes prometheus counters for the giveaway lifecycle.
package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"giveaway/internal/giveaway"
)

// Recorder owns the collectors and the registry they live in.
type Recorder struct {
	Registry *prometheus.Registry

	eventsCreated     *prometheus.CounterVec
	eventsFinalized   prometheus.Counter
	winnersDrawn      prometheus.Counter
	rewardsUnassigned prometheus.Counter
	batchesDispatched prometheus.Counter
	payoutsDispatched prometheus.Counter
	batchResults      *prometheus.CounterVec
	payoutsCompleted  prometheus.Counter
	eventsClosed      prometheus.Counter
	resultsConsumed   prometheus.Counter
	errors            *prometheus.CounterVec
	schedulerCycles   *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		Registry:          prometheus.NewRegistry(),
		eventsCreated:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "giveaway_events_created_total", Help: "events created"}, []string{"currency"}),
		eventsFinalized:   prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_events_finalized_total", Help: "draws run"}),
		winnersDrawn:      prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_winners_drawn_total", Help: "payouts generated by draws"}),
		rewardsUnassigned: prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_rewards_undistributed_total", Help: "rewards left without a winner"}),
		batchesDispatched: prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_batches_dispatched_total", Help: "transfer batches submitted"}),
		payoutsDispatched: prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_payouts_dispatched_total", Help: "payouts included in submitted batches"}),
		batchResults:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "giveaway_batch_results_total", Help: "transfer results by outcome"}, []string{"outcome"}),
		payoutsCompleted:  prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_payouts_completed_total", Help: "payouts moved to complete"}),
		eventsClosed:      prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_events_closed_total", Help: "events fully distributed"}),
		resultsConsumed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "giveaway_results_consumed_total", Help: "transfer result messages read"}),
		errors:            prometheus.NewCounterVec(prometheus.CounterOpts{Name: "giveaway_errors_total", Help: "errors by stage"}, []string{"stage"}),
		schedulerCycles:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "giveaway_scheduler_cycles_total", Help: "scheduler cycles by outcome"}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "giveaway_scheduler_cycle_seconds",
			Help:    "scheduler cycle duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
	r.Registry.MustRegister(
		r.eventsCreated, r.eventsFinalized, r.winnersDrawn, r.rewardsUnassigned,
		r.batchesDispatched, r.payoutsDispatched, r.batchResults, r.payoutsCompleted,
		r.eventsClosed, r.resultsConsumed, r.errors, r.schedulerCycles, r.cycleDuration,
	)
	return r
}

// Hooks wires the recorder into the giveaway service.
func (r *Recorder) Hooks() giveaway.Hooks {
	return giveaway.Hooks{
		EventCreated: func(eventID uint64, currency string, fee *big.Int) {
			r.eventsCreated.WithLabelValues(currency).Inc()
		},
		EventFinalized: func(eventID uint64, winners, undistributed int) {
			r.eventsFinalized.Inc()
			r.winnersDrawn.Add(float64(winners))
			r.rewardsUnassigned.Add(float64(undistributed))
		},
		BatchDispatched: func(eventID uint64, items int) {
			r.batchesDispatched.Inc()
			r.payoutsDispatched.Add(float64(items))
		},
		BatchSettled: func(eventID uint64, success bool, completed int) {
			outcome := "failure"
			if success {
				outcome = "success"
			}
			r.batchResults.WithLabelValues(outcome).Inc()
			r.payoutsCompleted.Add(float64(completed))
		},
		EventClosed: func(eventID uint64) {
			r.eventsClosed.Inc()
		},
	}
}

// ResultConsumed counts a transfer result read from the broker.
func (r *Recorder) ResultConsumed() {
	r.resultsConsumed.Inc()
}

// Error counts a failure at stage.
func (r *Recorder) Error(stage string) {
	r.errors.WithLabelValues(stage).Inc()
}

// SchedulerCycle records one scheduler pass.
func (r *Recorder) SchedulerCycle(elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.schedulerCycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(elapsed.Seconds())
}
