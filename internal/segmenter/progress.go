package segmenter

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ProgressEstimator synthesizes progress for a processor call that has no
// native progress channel. It is deliberately separate from the session's
// progress-clamping contract so a real progress source can replace it without
// touching any consumer.
type ProgressEstimator interface {
	Start()    // request accepted for processing
	Sent()     // payload handed to the transport
	Received() // response received
	Stop()     // stop synthesizing; safe to call more than once
}

const (
	startProgress    = 5
	sentProgress     = 15
	rampCap          = 85
	receivedProgress = 90
	rampInterval     = 400 * time.Millisecond
	rampMinStep      = 2
	rampMaxStep      = 9
)

// Estimator is the default interpolator: 5 on start, 15 once the payload is
// on the wire, randomized increments capped at 85 while awaiting the
// response, 90 on receipt. The final 100 belongs to the caller, reported once
// the result actually decodes.
type Estimator struct {
	clock  clockwork.Clock
	report func(int)

	mu      sync.Mutex
	current int
	stop    chan struct{}
	stopped bool
}

var _ ProgressEstimator = (*Estimator)(nil)

func NewEstimator(clock clockwork.Clock, report func(int)) *Estimator {
	return &Estimator{clock: clock, report: report}
}

func (e *Estimator) Start() {
	e.emit(startProgress)
}

func (e *Estimator) Sent() {
	e.emit(sentProgress)

	e.mu.Lock()
	if e.stop == nil && !e.stopped {
		e.stop = make(chan struct{})
		go e.ramp(e.stop)
	}
	e.mu.Unlock()
}

func (e *Estimator) Received() {
	e.stopRamp()
	e.emit(receivedProgress)
}

func (e *Estimator) Stop() {
	e.stopRamp()
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

func (e *Estimator) ramp(stop <-chan struct{}) {
	ticker := e.clock.NewTicker(rampInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			e.mu.Lock()
			next := e.current + rampMinStep + rand.Intn(rampMaxStep-rampMinStep+1)
			if next > rampCap {
				next = rampCap
			}
			e.current = next
			e.mu.Unlock()
			e.report(next)
		case <-stop:
			return
		}
	}
}

func (e *Estimator) stopRamp() {
	e.mu.Lock()
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.mu.Unlock()
}

func (e *Estimator) emit(p int) {
	e.mu.Lock()
	e.current = p
	e.mu.Unlock()
	e.report(p)
}
