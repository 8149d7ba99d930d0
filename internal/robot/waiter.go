package robot

import (
	"context"
	"log/slog"
	"time"
)

const DefaultPollInterval = 2 * time.Second

// Waiter polls the health endpoint at a fixed interval until it answers with
// a 2xx status.
type Waiter struct {
	client   *Client
	interval time.Duration
}

func NewWaiter(client *Client, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Waiter{client: client, interval: interval}
}

// WaitUntilReady gives up only once the deadline has passed. The last probe
// is made at the deadline and may run up to one interval past it.
func (w *Waiter) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	endpoint := w.client.URL("/health")
	deadline := time.Now().Add(timeout)

	var lastDetail string
	for attempt := 1; ; attempt++ {
		probeTimeout := max(time.Until(deadline), w.interval)
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		_, err := w.client.GetJSON(probeCtx, "/health")
		cutOff := probeCtx.Err() != nil
		cancel()
		if err == nil {
			slog.Info("robot server ready", "endpoint", endpoint, "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !cutOff || lastDetail == "" {
			lastDetail = err.Error()
		}
		slog.Debug("robot server not ready", "endpoint", endpoint, "attempt", attempt, "error", err)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &ReadinessTimeoutError{Endpoint: endpoint, Timeout: timeout, LastDetail: lastDetail}
		}

		timer := time.NewTimer(min(w.interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
