package core

import (
	"context"
	"errors"
	"time"
)

var ErrPollLimit = errors.New("poll limit reached")

// Poll calls check once per interval until it reports done or fails. polled is
// the number of polls already spent on the same job, so a resumed job keeps
// the original budget of maxPolls.
func Poll(ctx context.Context, interval time.Duration, maxPolls, polled int, check func(context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for polls := polled; polls < maxPolls; polls++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return ErrPollLimit
}
