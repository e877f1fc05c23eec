package qhy

import (
	"context"
	"log"
	"sync"
	"time"
)

// Ticker is anything driven by periodic ticks
type Ticker interface {
	OnTick() error
}

// Runner is a single goroutine host that calls OnTick on a fixed period and
// additionally after any delay requested through ScheduleTick.  All ticks
// happen on the goroutine running Run, so OnTick is never concurrent with
// itself.
type Runner struct {
	period time.Duration
	req    chan time.Duration

	mu     sync.Mutex
	target Ticker
	logger *log.Logger
}

// NewRunner returns a runner ticking every period.  The target is set later
// with Attach, since a Session needs its Scheduler at construction.
func NewRunner(period time.Duration, logger *log.Logger) *Runner {
	if period <= 0 {
		period = time.Second
	}
	return &Runner{period: period, req: make(chan time.Duration, 1), logger: logger}
}

// Attach sets the target of the ticks
func (r *Runner) Attach(t Ticker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = t
}

// ScheduleTick implements Scheduler.  Only the most recent request is kept.
func (r *Runner) ScheduleTick(d time.Duration) {
	for {
		select {
		case r.req <- d:
			return
		default:
		}
		select {
		case <-r.req:
		default:
		}
	}
}

func (r *Runner) tick() {
	r.mu.Lock()
	t := r.target
	r.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.OnTick(); err != nil && r.logger != nil {
		r.logger.Println(err)
	}
}

// Run ticks until ctx is done
func (r *Runner) Run(ctx context.Context) {
	periodic := time.NewTicker(r.period)
	defer periodic.Stop()
	oneshot := time.NewTimer(time.Hour)
	if !oneshot.Stop() {
		<-oneshot.C
	}
	defer oneshot.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-periodic.C:
			r.tick()
		case d := <-r.req:
			if !oneshot.Stop() {
				select {
				case <-oneshot.C:
				default:
				}
			}
			oneshot.Reset(d)
		case <-oneshot.C:
			r.tick()
		}
	}
}
