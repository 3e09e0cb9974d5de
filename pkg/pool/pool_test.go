package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/tasklaunch/pkg/config"
	"github.com/cuemby/tasklaunch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.LaunchDefaults {
	cfg := config.Default()
	cfg.AdmissionWaitTick = 20 * time.Millisecond
	cfg.WatchdogScanPeriod = 20 * time.Millisecond
	cfg.WatchdogThreshold = 50 * time.Millisecond
	return cfg
}

// TestDispatchNeverExceedsMaxThreads exercises the admission-ceiling
// invariant: at every moment, active <= max_threads.
func TestDispatchNeverExceedsMaxThreads(t *testing.T) {
	p := New(2, testConfig())
	var mu sync.Mutex
	maxObserved := 0

	p.Dispatch(context.Background(), 6,
		func() types.JobState { return types.JobLaunching },
		func() bool { return false },
		func(int) { t.Fatal("no index should be marked unreachable") },
		func(ctx context.Context, index int) error {
			mu.Lock()
			if p.ActiveCount() > maxObserved {
				maxObserved = p.ActiveCount()
			}
			mu.Unlock()
			time.Sleep(15 * time.Millisecond)
			return nil
		},
	)

	assert.LessOrEqual(t, maxObserved, 2)
	assert.Equal(t, 0, p.ActiveCount())
}

// TestDispatchMarksRemainingUnreachableOnEarlyTermination covers the
// cancellation scenario: once JobState advances past LAUNCHING, any
// request not yet admitted is reported unreachable instead of run.
func TestDispatchMarksRemainingUnreachableOnEarlyTermination(t *testing.T) {
	p := New(1, testConfig())
	var admitted int32
	var unreachableCount int32
	var jobState int32 // 0 = LAUNCHING, 1 = CANCELLED

	p.Dispatch(context.Background(), 4,
		func() types.JobState {
			if atomic.LoadInt32(&jobState) == 1 {
				return types.JobCancelled
			}
			return types.JobLaunching
		},
		func() bool { return false },
		func(int) { atomic.AddInt32(&unreachableCount, 1) },
		func(ctx context.Context, index int) error {
			atomic.AddInt32(&admitted, 1)
			atomic.StoreInt32(&jobState, 1)
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	)

	require.GreaterOrEqual(t, int(admitted), 1)
	assert.Greater(t, int(unreachableCount), 0)
	assert.Equal(t, 4, int(admitted)+int(unreachableCount))
}

func TestDispatchRecordsFailCount(t *testing.T) {
	p := New(2, testConfig())

	p.Dispatch(context.Background(), 3,
		func() types.JobState { return types.JobLaunching },
		func() bool { return false },
		func(int) {},
		func(ctx context.Context, index int) error {
			if index == 1 {
				return assert.AnError
			}
			return nil
		},
	)

	assert.Equal(t, 1, p.FailCount())
}

func TestWaitIdleReturnsOnceAllSlotsDone(t *testing.T) {
	p := New(3, testConfig())
	done := make(chan struct{})

	go func() {
		p.Dispatch(context.Background(), 5,
			func() types.JobState { return types.JobLaunching },
			func() bool { return false },
			func(int) {},
			func(ctx context.Context, index int) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			},
		)
		close(done)
	}()

	<-done
	p.WaitIdle()
	assert.Equal(t, 0, p.ActiveCount())
}
