package fusion

import "sync"

// Budget caps the number of escalation calls in a run. It is the only state
// shared between pages and is safe for concurrent use.
type Budget struct {
	mu       sync.Mutex
	max      int
	consumed int
	pages    []string
}

// NewBudget creates a budget allowing max reservations. Negative values are
// treated as zero.
func NewBudget(max int) *Budget {
	if max < 0 {
		max = 0
	}
	return &Budget{max: max}
}

// Reserve takes one unit of budget for pageID. It returns false once the
// budget is exhausted.
func (b *Budget) Reserve(pageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumed >= b.max {
		return false
	}
	b.consumed++
	b.pages = append(b.pages, pageID)
	return true
}

// Consumed returns how many reservations have been made.
func (b *Budget) Consumed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}

// Remaining returns how many reservations are left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max - b.consumed
}

// Exhausted reports whether no reservations are left.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= 0
}

// Max returns the configured cap.
func (b *Budget) Max() int {
	return b.max
}

// Pages returns the page IDs that reserved budget, in reservation order.
func (b *Budget) Pages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pages...)
}
