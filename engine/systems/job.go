package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/ember/engine/core"
)

/** @brief A unit of work for the job system. */
type JobTask struct {
	/** @brief The work itself. */
	Run func() error
	/** @brief Called with the error returned by Run, when there is one. */
	OnFailure func(err error)
	/** @brief Called after Run succeeded. */
	OnComplete func()
	/** @brief Called after every run, successful or not. */
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
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
				run(job)
			}
		}()
	}
}

func run(job JobTask) {
	if err := job.Run(); err != nil {
		core.LogError(err.Error())
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete()
	}
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs are drained first.
 */
func (js *JobSystem) Shutdown() error {
	js.closeOnce.Do(func() {
		close(js.jobQueue)
	})
	js.wg.Wait()
	return nil
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.jobQueue <- jt
}

// AddWorkNonBlocking queues jt without waiting for room in the queue.
func (js *JobSystem) AddWorkNonBlocking(jt JobTask) {
	go js.Submit(jt)
}

/**
 * @brief Runs fn(i) for every i in [0, n) and returns once all calls are done.
 * The range is cut into one chunk per worker; the last chunk runs on the
 * calling goroutine. Must not be called from inside a job.
 */
func (js *JobSystem) ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	chunks := js.numWorkers
	if chunks > n {
		chunks = n
	}
	if chunks <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	size := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		if end == n {
			for i := start; i < end; i++ {
				fn(i)
			}
			break
		}
		wg.Add(1)
		lo, hi := start, end
		js.Submit(JobTask{
			Run: func() error {
				for i := lo; i < hi; i++ {
					fn(i)
				}
				return nil
			},
			OnCompletionCallback: wg.Done,
		})
	}
	wg.Wait()
}
