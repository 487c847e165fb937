/*
Package resilience provides the reconnection backoff policy for the shared connection.

# Overview

A dropped connection is retried with exponentially growing delays. Each delay
is randomized downwards by a jitter fraction so that many clients losing the
same server do not reconnect in lockstep.

# Features

- Exponential growth bounded by a maximum delay
- Jitter applied below the computed delay, never above Max
- Optional retry budget after which the caller gives up
- Reset on every successful connection

# Usage

	backoff := resilience.NewBackoff(resilience.Settings{
		Min:        500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.5,
		MaxRetries: 10,
	})

	delay, ok := backoff.Next()
	if !ok {
		// budget exhausted: surface a terminal error
	}
	time.AfterFunc(delay, redial)

	// after a successful dial
	backoff.Reset()

# Pattern

	attempt 0: Min
	attempt n: min(Min * Multiplier^n, Max) * (1 - Jitter*rand)
*/
package resilience
