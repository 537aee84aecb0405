// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package fusion

import (
	"context"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// track continuously consumes a provider's update stream, reconnecting with
// exponential backoff when the stream ends.
func (c *Controller) track(ctx context.Context, p Provider) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates := c.safeWatch(ctx, p)
		if updates == nil {
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					if !sleepOrDone(ctx, backoff) {
						return
					}
					backoff = nextBackoff(backoff)
					break stream
				}
				c.handleUpdate(u)
				backoff = initialBackoff
			}
		}
	}
}

// safeWatch invokes a provider's Watch and recovers from potential panics.
// Returns nil if the provider failed to start its stream.
func (c *Controller) safeWatch(ctx context.Context, p Provider) (ch <-chan Update) {
	defer func() { _ = recover() }()
	return p.Watch(ctx)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
