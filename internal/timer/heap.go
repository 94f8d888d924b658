package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// TimerTask represents a task scheduled for future execution
type TimerTask struct {
	ID       string
	ExpiryAt time.Time
	Interval time.Duration // zero for one-shot tasks
	Callback func(ctx context.Context)
	index    int // index in the heap (for heap.Interface)
}

// timerHeap is a min-heap of TimerTasks ordered by ExpiryAt
type timerHeap []*TimerTask

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	n := len(*h)
	task := x.(*TimerTask)
	task.index = n
	*h = append(*h, task)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// TimerManager runs scheduled tasks from a min-heap on a fixed pool of workers
type TimerManager struct {
	heap     timerHeap
	mu       sync.Mutex
	wakeup   chan struct{}
	tasks    map[string]*TimerTask // for O(1) lookup by ID
	jobs     chan *TimerTask
	workers  int
	workerWg sync.WaitGroup
	runWg    sync.WaitGroup
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time
}

// NewTimerManager creates a new timer manager with a worker pool
func NewTimerManager(workers int) *TimerManager {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	tm := &TimerManager{
		heap:    make(timerHeap, 0),
		wakeup:  make(chan struct{}, 1),
		tasks:   make(map[string]*TimerTask),
		jobs:    make(chan *TimerTask),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	heap.Init(&tm.heap)
	return tm
}

// Start starts the timer manager and its worker pool
func (tm *TimerManager) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.started || tm.stopped {
		return
	}
	tm.started = true

	for i := 0; i < tm.workers; i++ {
		tm.workerWg.Add(1)
		go tm.worker()
	}

	tm.runWg.Add(1)
	go tm.run()
}

// Stop cancels pending tasks and the context passed to running callbacks,
// then waits for running callbacks to return
func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	tm.heap = tm.heap[:0]
	tm.tasks = make(map[string]*TimerTask)
	tm.cancel()
	tm.mu.Unlock()

	tm.runWg.Wait()
	close(tm.jobs)
	tm.workerWg.Wait()
}

// Schedule adds a one-shot task to be executed at the specified time.
// A task with the same ID is replaced.
func (tm *TimerManager) Schedule(id string, expiryAt time.Time, callback func(ctx context.Context)) error {
	return tm.add(&TimerTask{ID: id, ExpiryAt: expiryAt, Callback: callback})
}

// Every adds a repeating task. The first run is after initialDelay, the next ones
// interval after the previous run was dispatched.
func (tm *TimerManager) Every(id string, initialDelay, interval time.Duration, callback func(ctx context.Context)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	return tm.add(&TimerTask{
		ID:       id,
		ExpiryAt: tm.now().Add(initialDelay),
		Interval: interval,
		Callback: callback,
	})
}

func (tm *TimerManager) add(task *TimerTask) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.stopped {
		return ErrManagerStopped
	}

	if existing, ok := tm.tasks[task.ID]; ok {
		heap.Remove(&tm.heap, existing.index)
		delete(tm.tasks, task.ID)
	}

	heap.Push(&tm.heap, task)
	tm.tasks[task.ID] = task

	// Wake up the scheduler if this is the earliest task
	if tm.heap[0] == task {
		select {
		case tm.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a scheduled task
func (tm *TimerManager) Cancel(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&tm.heap, task.index)
	delete(tm.tasks, id)
	return true
}

// run is the main scheduler loop
func (tm *TimerManager) run() {
	defer tm.runWg.Done()

	for {
		tm.mu.Lock()

		if tm.stopped {
			tm.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if tm.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			nextTask := tm.heap[0]
			waitDuration = nextTask.ExpiryAt.Sub(tm.now())

			if waitDuration <= 0 {
				task := heap.Pop(&tm.heap).(*TimerTask)
				delete(tm.tasks, task.ID)

				if task.Interval > 0 {
					next := *task
					next.ExpiryAt = tm.now().Add(task.Interval)
					heap.Push(&tm.heap, &next)
					tm.tasks[next.ID] = &next
				}
				tm.mu.Unlock()

				select {
				case tm.jobs <- task:
				case <-tm.ctx.Done():
					return
				}
				continue
			}
		}

		tm.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-tm.wakeup:
			timer.Stop()
		case <-tm.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// worker executes dispatched tasks
func (tm *TimerManager) worker() {
	defer tm.workerWg.Done()

	for task := range tm.jobs {
		task.Callback(tm.ctx)
	}
}

// Stats returns statistics about the timer manager
func (tm *TimerManager) Stats() TimerStats {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	return TimerStats{
		ScheduledTasks: len(tm.tasks),
		Workers:        tm.workers,
	}
}

// TimerStats contains statistics about the timer manager
type TimerStats struct {
	ScheduledTasks int
	Workers        int
}

var (
	ErrManagerStopped  = &TimerError{"timer manager is stopped"}
	ErrInvalidInterval = &TimerError{"interval must be positive"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
