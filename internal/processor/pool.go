package processor

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Pool tracks the background tasks spawned for non-blocking requests.
// Each task flags its own completion through a done flag, set from within
// the task after all durable side effects have finished; completed entries
// are reaped opportunistically on the next Add. Pending entries are never
// reclaimed.
type Pool struct {
	mu    sync.Mutex
	wg    sync.WaitGroup
	tasks []poolTask
}

type poolTask struct {
	id   string
	name string
	done *atomic.Bool
}

// NewPool returns an empty task pool.
func NewPool() *Pool {
	return &Pool{}
}

// Add schedules fn on its own goroutine and records it with the given done
// flag. The flag must be set by fn itself once every durable side effect
// has completed.
func (p *Pool) Add(name string, done *atomic.Bool, fn func()) {
	p.mu.Lock()
	p.reap()
	task := poolTask{id: uuid.New().String(), name: name, done: done}
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()

	log.Printf("[TRACE] Scheduling task %s (%s)", task.id, name)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// reap drops entries whose task has flagged completion.
// Caller holds p.mu.
func (p *Pool) reap() {
	remaining := p.tasks[:0]
	for _, task := range p.tasks {
		if !task.done.Load() {
			remaining = append(remaining, task)
		}
	}
	p.tasks = remaining
}

// Pending returns the number of tracked tasks that have not flagged
// completion yet.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := 0
	for _, task := range p.tasks {
		if !task.done.Load() {
			pending++
		}
	}
	return pending
}

// Drain blocks until every scheduled task has returned. Tasks own file
// handles and mutex-table state that must be released cleanly, so they are
// awaited rather than terminated.
func (p *Pool) Drain() {
	p.wg.Wait()

	p.mu.Lock()
	p.reap()
	p.mu.Unlock()
}
