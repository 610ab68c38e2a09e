package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
)

// Fence is signalled by the queue worker once a submission has executed.
type Fence struct {
	backend *Backend

	mutex     sync.Mutex
	cond      *sync.Cond
	completed uint64
}

func newFence(b *Backend, initial uint64) *Fence {
	f := &Fence{backend: b, completed: initial}
	f.cond = sync.NewCond(&f.mutex)
	return f
}

func (f *Fence) CompletedValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.completed
}

func (f *Fence) Wait(value uint64) error {
	f.mutex.Lock()
	for f.completed < value {
		f.cond.Wait()
	}
	f.mutex.Unlock()
	return f.backend.DeviceRemovedReason()
}

func (f *Fence) signal(value uint64) {
	f.mutex.Lock()
	if value > f.completed {
		f.completed = value
	}
	f.mutex.Unlock()
	f.cond.Broadcast()
}

func (f *Fence) Release() {}

type submission struct {
	list  *CommandList
	fence *Fence
	value uint64
}

/**
 * @brief The single in-order queue. A worker goroutine executes submissions one at a time.
 */
type Queue struct {
	backend *Backend
	work    chan submission
	pending sync.WaitGroup

	mutex  sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool
}

func newQueue(b *Backend) *Queue {
	q := &Queue{
		backend: b,
		work:    make(chan submission, 64),
	}
	q.cond = sync.NewCond(&q.mutex)
	go q.run()
	return q
}

func (q *Queue) run() {
	for s := range q.work {
		q.mutex.Lock()
		for q.paused {
			q.cond.Wait()
		}
		q.mutex.Unlock()

		if q.backend.DeviceRemovedReason() == nil {
			if err := s.list.execute(q.backend); err != nil {
				q.backend.lose(err)
			}
		}
		s.fence.signal(s.value)
		q.pending.Done()
	}
}

func (q *Queue) Submit(list renderer.CommandList, fence renderer.Fence, value uint64) error {
	if err := q.backend.DeviceRemovedReason(); err != nil {
		return err
	}
	cl, ok := list.(*CommandList)
	if !ok {
		return fmt.Errorf("command list %T does not belong to the software backend", list)
	}
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("fence %T does not belong to the software backend", fence)
	}
	if !cl.closed {
		return fmt.Errorf("command list must be closed before submission")
	}

	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return fmt.Errorf("%w: queue closed", core.ErrDeviceLost)
	}
	q.pending.Add(1)
	q.mutex.Unlock()

	q.backend.stats.add(func(s *Stats) { s.Submissions++ })
	q.work <- submission{list: cl, fence: f, value: value}
	return nil
}

func (q *Queue) Flush() error {
	q.pending.Wait()
	return q.backend.DeviceRemovedReason()
}

// Pause holds back execution of submitted lists until Resume.
func (q *Queue) Pause() {
	q.mutex.Lock()
	q.paused = true
	q.mutex.Unlock()
}

func (q *Queue) Resume() {
	q.mutex.Lock()
	q.paused = false
	q.mutex.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) close() {
	q.Resume()
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.closed = true
	q.mutex.Unlock()
	q.pending.Wait()
	close(q.work)
}
