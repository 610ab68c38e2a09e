package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/spritelayers/engine/core"
)

// Job is a unit of work run on one of the pool's workers.
type Job struct {
	Name       string
	Run        func() error
	OnFailure  func(err error)
	OnComplete func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup
	mutex      sync.RWMutex
	closed     bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = fmt.Errorf("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
	}
	js.start()

	core.LogDebug("job system started with %d workers", numWorkers)
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				if err := job.Run(); err != nil {
					core.LogError("job %s failed: %s", job.Name, err)
					if job.OnFailure != nil {
						job.OnFailure(err)
					}
					continue
				}
				if job.OnComplete != nil {
					job.OnComplete()
				}
			}
		}()
	}
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

/**
 * @brief Shuts the job system down. Queued jobs still run before it returns.
 */
func (js *JobSystem) Shutdown() error {
	js.mutex.Lock()
	if js.closed {
		js.mutex.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mutex.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the queue is full.
 * @param job The description of the job to be executed.
 */
func (js *JobSystem) Submit(job Job) error {
	js.mutex.RLock()
	defer js.mutex.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- job
	return nil
}

// RunAll queues every task and waits for all of them. Failures are joined in task order.
func (js *JobSystem) RunAll(name string, tasks []func() error) error {
	errs := make([]error, len(tasks))
	var pending sync.WaitGroup
	for i, task := range tasks {
		pending.Add(1)
		i, task := i, task
		err := js.Submit(Job{
			Name: fmt.Sprintf("%s[%d]", name, i),
			Run:  task,
			OnFailure: func(err error) {
				errs[i] = err
				pending.Done()
			},
			OnComplete: pending.Done,
		})
		if err != nil {
			errs[i] = err
			pending.Done()
		}
	}
	pending.Wait()
	return errors.Join(errs...)
}
