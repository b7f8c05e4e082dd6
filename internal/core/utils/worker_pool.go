package utils

import "sync"

type CompletedTask[T any] struct {
	Result T
	Error  error
}

func RunInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan CompletedTask[Out], maxWorkers int) {
	workers := max(1, min(len(queue), maxWorkers))

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for {
					next, ok := <-queue
					if !ok {
						return
					}

					res, err := worker(next)
					if err != nil {
						completed <- CompletedTask[Out]{Error: err}
					} else {
						completed <- CompletedTask[Out]{Result: res, Error: nil}
					}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

type indexed[T any] struct {
	idx   int
	value T
}

// MapInPool applies worker to every input using at most maxWorkers goroutines
// and returns the outputs in input order. The first error is returned once all
// workers have finished.
func MapInPool[In any, Out any](inputs []In, worker func(In) (Out, error), maxWorkers int) ([]Out, error) {
	queue := make(chan indexed[In], len(inputs))
	for i, in := range inputs {
		queue <- indexed[In]{idx: i, value: in}
	}
	close(queue)

	completed := make(chan CompletedTask[indexed[Out]], len(inputs))
	RunInPool(func(in indexed[In]) (indexed[Out], error) {
		out, err := worker(in.value)
		return indexed[Out]{idx: in.idx, value: out}, err
	}, queue, completed, maxWorkers)

	outputs := make([]Out, len(inputs))
	var firstErr error
	for res := range completed {
		if res.Error != nil {
			if firstErr == nil {
				firstErr = res.Error
			}
			continue
		}
		outputs[res.Result.idx] = res.Result.value
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return outputs, nil
}
