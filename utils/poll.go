package utils

import (
	"context"
	"fmt"
	"time"
)

const defaultPollInterval = 100 * time.Millisecond

// WaitFor polls check until it reports done, returns an error, or the
// timeout/context expires. A zero interval polls every 100ms.
func WaitFor(ctx context.Context, timeout, interval time.Duration, check func() (done bool, err error)) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		case <-time.After(interval):
		}
	}
}
