package broker

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tgparkk/stockbot/internal/logging"
)

// newBreaker wraps every outbound call in a sony/gobreaker/v2 circuit
// breaker (SPEC_FULL.md §11): after five consecutive failed calls (any
// error counts, whatever its Kind) the breaker opens and callers fail fast instead of piling up
// against a broker that is already down, matching spec.md §7's
// "retry with backoff; surface after N attempts" TRANSPORT policy at the
// transport boundary.
func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	log := logging.WithComponent("broker")
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}
