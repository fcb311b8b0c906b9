package device

import (
	"context"
	"time"

	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
)

// throttle spaces out commands to one device. Cheap devices drop
// commands that arrive in quick bursts.
type throttle struct {
	store limiter.Store
	key   string
}

func newThrottle(key string, rate uint64, interval time.Duration) (*throttle, error) {
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   rate,
		Interval: interval,
	})
	if err != nil {
		return nil, err
	}
	return &throttle{store: store, key: key}, nil
}

// wait blocks until a command may be sent.
func (t *throttle) wait(ctx context.Context) error {
	for {
		_, _, reset, ok, err := t.store.Take(ctx, t.key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(time.Until(time.Unix(0, int64(reset))))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *throttle) close() error {
	return t.store.Close(context.Background())
}
