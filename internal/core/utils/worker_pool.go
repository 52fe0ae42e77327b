package utils

import "sync"

type CompletedTask[T any] struct {
	Result T
	Error  error
}

// RunInPool drains queue with up to maxWorkers goroutines and sends one
// CompletedTask per input on completed, which is closed once every worker has
// exited. The queue must be closed by the caller.
func RunInPool[In any, Out any](worker func(In) (Out, error), queue <-chan In, completed chan<- CompletedTask[Out], maxWorkers int) {
	workers := max(min(len(queue), maxWorkers), 1)

	go func() {
		var wg sync.WaitGroup
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for next := range queue {
					res, err := worker(next)
					if err != nil {
						completed <- CompletedTask[Out]{Error: err}
					} else {
						completed <- CompletedTask[Out]{Result: res}
					}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}
