package subscription

import (
	"context"
	"sync"
)

// Aggregator joins a fixed number of setup outcomes into one boolean.
type Aggregator struct {
	mu        sync.Mutex
	expected  int
	recorded  int
	allOK     bool
	resolved  bool
	onResolve func(bool)
	done      chan struct{}
}

// NewAggregator creates an Aggregator expecting n outcomes. onResolve, if
// non-nil, is called once with the aggregate. For n <= 0 the aggregator
// resolves to true before NewAggregator returns.
func NewAggregator(n int, onResolve func(bool)) *Aggregator {
	if n < 0 {
		n = 0
	}
	a := &Aggregator{
		expected:  n,
		allOK:     true,
		onResolve: onResolve,
		done:      make(chan struct{}),
	}
	if n == 0 {
		a.resolved = true
		close(a.done)
		if onResolve != nil {
			onResolve(true)
		}
	}
	return a
}

// RecordOutcome records one outcome. It returns false, and changes nothing,
// once all expected outcomes have been recorded.
func (a *Aggregator) RecordOutcome(ok bool) bool {
	a.mu.Lock()
	if a.recorded >= a.expected {
		a.mu.Unlock()
		return false
	}
	a.recorded++
	a.allOK = a.allOK && ok
	last := a.recorded == a.expected
	if last {
		a.resolved = true
		close(a.done)
	}
	outcome := a.allOK
	a.mu.Unlock()

	if last && a.onResolve != nil {
		a.onResolve(outcome)
	}
	return true
}

// Expected returns the number of outcomes the aggregator waits for.
func (a *Aggregator) Expected() int {
	return a.expected
}

// Recorded returns the number of outcomes recorded so far.
func (a *Aggregator) Recorded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recorded
}

// Done is closed when the aggregator resolves.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Outcome returns the aggregate and whether it has been resolved.
func (a *Aggregator) Outcome() (ok, resolved bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolved && a.allOK, a.resolved
}

// Wait blocks until the aggregator resolves or ctx ends.
func (a *Aggregator) Wait(ctx context.Context) (bool, error) {
	select {
	case <-a.done:
		ok, _ := a.Outcome()
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
