// Package pool implements the Worker Pool (spec §4.3): a bounded
// concurrent dispatcher with admission control, a batch-reap policy,
// and a watchdog for stuck peers. Re-architected per spec §9's note
// as a single struct owning active/joinable/fail-count behind one
// mutex+condvar (grounded on the teacher's events.Broker
// single-struct-owns-state shape), with admission implemented over
// golang.org/x/sync/semaphore.Weighted sized to max_threads and
// worker fan-out/join implemented with golang.org/x/sync/errgroup.Group
// — its Wait() is the pool's join barrier, so "all workers must be
// joined before the pool returns" needs no hand-rolled bookkeeping.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tasklaunch/pkg/config"
	"github.com/cuemby/tasklaunch/pkg/log"
	"github.com/cuemby/tasklaunch/pkg/metrics"
	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Work is the per-request function the pool dispatches; index is the
// request's position in the dispatched array (the node index). The
// pool is agnostic to the request's payload, per spec §4.3.
type Work func(ctx context.Context, index int) error

// JobStateFunc reports the current JobState so the pool can detect
// the early-termination condition of spec §4.3: "if the JobState
// advances beyond LAUNCHING before the request array is exhausted".
type JobStateFunc func() types.JobState

// UnreachableFunc is invoked for every index the pool never admits
// because of early termination or cancellation, so the caller can
// record HostState.UNREACHABLE via the State Tracker.
type UnreachableFunc func(index int)

// CancelledFunc reports whether cancellation has been requested,
// consulted by the admission loop per spec §4.8.
type CancelledFunc func() bool

// Pool is a bounded concurrent dispatcher parameterized over Work.
type Pool struct {
	maxThreads int64
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	cfg        config.LaunchDefaults
	logger     zerolog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	active    int
	joinable  int
	failCount int
	slots     map[int]*slotInfo
}

type slotInfo struct {
	state types.WorkerSlotState
	start time.Time
}

// New constructs a Pool admitting at most maxThreads concurrent
// workers, using cfg for the watchdog cadence/threshold and admission
// wait tick.
func New(maxThreads int, cfg config.LaunchDefaults) *Pool {
	p := &Pool{
		maxThreads: int64(maxThreads),
		sem:        semaphore.NewWeighted(int64(maxThreads)),
		limiter:    rate.NewLimiter(rate.Every(cfg.WatchdogScanPeriod), 1),
		cfg:        cfg,
		logger:     log.WithComponent("pool"),
		slots:      make(map[int]*slotInfo),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// ActiveCount returns the current number of admitted, not-yet-done
// slots. Satisfies the invariant "at every moment, active <=
// max_threads" (spec §8).
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// FailCount returns the process-wide fail counter.
func (p *Pool) FailCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failCount
}

// WaitIdle blocks until no slot is ACTIVE. Used by callers that need
// to observe a quiescent pool without going through the errgroup join
// (e.g. a watchdog dashboard, or tests asserting the admission
// ceiling at rest).
func (p *Pool) WaitIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.active > 0 {
		p.cond.Wait()
	}
}

// Dispatch admits and runs one worker per index in [0, n), honoring
// admission control, early termination, and cancellation, then joins
// every admitted worker before returning.
func (p *Pool) Dispatch(ctx context.Context, n int, jobState JobStateFunc, cancelled CancelledFunc, unreachable UnreachableFunc, work Work) {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		if jobState() > types.JobLaunching || cancelled() {
			unreachable(i)
			continue
		}

		if !p.admit(gctx, jobState, cancelled) {
			unreachable(i)
			continue
		}

		index := i
		p.mu.Lock()
		p.slots[index] = &slotInfo{state: types.SlotActive, start: time.Now()}
		p.active++
		metrics.PoolActiveWorkers.Set(float64(p.active))
		p.mu.Unlock()

		g.Go(func() error {
			defer p.release(index)
			err := work(gctx, index)
			p.finish(index, err)
			return nil // worker errors are reported via the caller's state tracker, not errgroup
		})
	}

	_ = g.Wait()
}

// admit blocks until a slot is available, the watchdog scanning
// stuck ACTIVE workers on every 1-second timeout (spec §4.3), or
// returns false if early termination/cancellation intervenes first.
func (p *Pool) admit(ctx context.Context, jobState JobStateFunc, cancelled CancelledFunc) bool {
	for {
		if jobState() > types.JobLaunching || cancelled() {
			return false
		}

		waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AdmissionWaitTick)
		err := p.sem.Acquire(waitCtx, 1)
		cancel()
		if err == nil {
			return true
		}
		// Timed out: scan for stuck workers, then retry admission.
		p.scanWatchdog()
		if jobState() > types.JobLaunching || cancelled() {
			return false
		}
	}
}

func (p *Pool) scanWatchdog() {
	if !p.limiter.Allow() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for idx, s := range p.slots {
		if s.state == types.SlotActive && now.Sub(s.start) > p.cfg.WatchdogThreshold {
			metrics.PoolWatchdogStuckWorkers.Inc()
			p.logger.Warn().Int("node_index", idx).Dur("age", now.Sub(s.start)).Msg("worker stuck past watchdog threshold")
		}
	}
}

func (p *Pool) release(index int) {
	p.mu.Lock()
	p.active--
	metrics.PoolActiveWorkers.Set(float64(p.active))
	p.joinable++
	if float64(p.joinable) >= p.cfg.ReapFraction*float64(p.maxThreads) {
		// Batch-reap threshold reached (spec §4.3: cfg.ReapFraction,
		// half by default, of the ceiling in completed-but-not-joined
		// workers triggers a batch join). The semaphore slot is
		// reclaimed below; this resets the bookkeeping counter.
		p.joinable = 0
	}
	if s, ok := p.slots[index]; ok {
		s.state = types.SlotJoined
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	// Released only after active is decremented, so a newly admitted
	// worker never sees active above maxThreads.
	p.sem.Release(1)
}

func (p *Pool) finish(index int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[index]
	if !ok {
		return
	}
	if err != nil {
		s.state = types.SlotFailed
		p.failCount++
	} else {
		s.state = types.SlotDone
	}
}
