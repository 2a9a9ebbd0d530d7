/*
Package resilience provides the circuit breaker that guards outbound fetches.

# Usage

	breakers := resilience.NewSet("fetch", resilience.Settings{
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	body, err := resilience.Do(breakers.Get(host), func() ([]byte, error) {
		return fetch(ctx, url)
	})

# States

- Closed: normal operation, requests pass through
- Open: requests fail immediately with ErrCircuitOpen
- Half-Open: up to MaxRequests probes are let through

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
