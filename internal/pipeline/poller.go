package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/quantpulse/newsstack/internal/logging"
)

// handoffCap bounds the completed-batch queue between the poller goroutine
// and its consumer. On overflow the oldest batch is evicted and a drop
// counter increments: a slow consumer gets stale data, never a stalled
// poller.
const handoffCap = 100

// Status is the observable state of the background poller.
type Status struct {
	Running            bool
	PollCount          int
	LastPollTS         time.Time
	LastPollStatus     string
	LastPollError      string
	TotalItemsIngested int
	Dropped            int
	EmptyStreak        int
}

// Poller runs the pipeline's cycle repeatedly on its own goroutine so a
// synchronous caller never blocks on network I/O. Single producer, single
// consumer: the poller fills the hand-off queue, Drain empties it.
type Poller struct {
	pipeline *Pipeline
	interval time.Duration

	// emptyCycleReset is how many consecutive empty cycles trigger a dedup
	// prune and cursor reset. Persistent emptiness usually means the dedup
	// state got ahead of the feed, not that news stopped.
	emptyCycleReset int

	mu     sync.Mutex
	queue  [][]Scored
	status Status

	intervalCh chan time.Duration
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
}

// NewPoller wraps a pipeline for background execution. The pipeline must be
// used by this poller only; the best-by-key table is not shared.
func NewPoller(p *Pipeline, interval time.Duration, emptyCycleReset int) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if emptyCycleReset <= 0 {
		emptyCycleReset = 3
	}
	return &Poller{
		pipeline:        p,
		interval:        interval,
		emptyCycleReset: emptyCycleReset,
		intervalCh:      make(chan time.Duration, 1),
	}
}

// Start launches the poll loop. initialCursor, when non-empty, seeds the
// persisted cursor before the first cycle. Calling Start twice is a no-op.
func (p *Poller) Start(initialCursor string) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.status.Running = true
	p.mu.Unlock()

	if initialCursor != "" {
		if err := p.pipeline.store.SetKV(cursorKey, initialCursor); err != nil {
			logging.Warn("initial cursor write failed", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

// Stop halts the loop and waits for it to exit. Idempotent. An in-progress
// sleep is interrupted immediately; an in-flight cycle sees its context
// cancelled and winds down before Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.status.Running = false
	p.mu.Unlock()
}

// UpdateInterval changes the polling interval without a restart. Takes
// effect before the next sleep.
func (p *Poller) UpdateInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case p.intervalCh <- d:
	default:
		// A pending update is already queued; the latest one wins next tick.
		select {
		case <-p.intervalCh:
		default:
		}
		p.intervalCh <- d
	}
}

// Drain atomically empties the hand-off queue, returning all queued results
// flattened oldest-batch-first.
func (p *Poller) Drain() []Scored {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Scored
	for _, batch := range p.queue {
		out = append(out, batch...)
	}
	p.queue = nil
	return out
}

// Status returns a snapshot of the poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	// First cycle runs immediately; the ticker covers the rest.
	p.runOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.intervalCh:
			p.interval = d
			ticker.Reset(d)
			logging.Info("poll interval updated", "interval", d)
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// runOnce executes one cycle and records its outcome. A failed cycle never
// stops the loop; the next tick retries.
func (p *Poller) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("poll cycle panicked", "panic", r)
			p.recordFailure("panic in poll cycle")
		}
	}()

	result := p.pipeline.RunCycle(ctx)

	p.mu.Lock()
	p.status.PollCount++
	p.status.LastPollTS = time.Now()
	if result.Err != nil {
		p.status.LastPollStatus = "ERROR"
		p.status.LastPollError = result.Err.Error()
	} else {
		p.status.LastPollStatus = "OK"
		p.status.LastPollError = ""
		p.status.TotalItemsIngested += result.Ingested
	}

	if result.Err == nil && result.Ingested == 0 {
		p.status.EmptyStreak++
	} else {
		p.status.EmptyStreak = 0
	}
	emptyStreak := p.status.EmptyStreak

	if result.Err == nil && len(result.Merged) > 0 {
		if len(p.queue) >= handoffCap {
			p.queue = p.queue[1:]
			p.status.Dropped++
		}
		p.queue = append(p.queue, result.Merged)
	}
	p.mu.Unlock()

	if emptyStreak >= p.emptyCycleReset {
		logging.Warn("consecutive empty cycles, resetting dedup state", "streak", emptyStreak)
		p.pipeline.PruneStore(true)
		p.pipeline.ResetCursor()
		p.mu.Lock()
		p.status.EmptyStreak = 0
		p.mu.Unlock()
	}
}

func (p *Poller) recordFailure(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.PollCount++
	p.status.LastPollTS = time.Now()
	p.status.LastPollStatus = "ERROR"
	p.status.LastPollError = msg
}
