package activitypub

import "sync/atomic"

// FetchBudget bounds the number of remote fetches one inbound activity may
// trigger, including fetches made while resolving nested objects.
type FetchBudget struct {
	limit int64
	spent atomic.Int64
}

func NewFetchBudget(limit int) *FetchBudget {
	return &FetchBudget{limit: int64(limit)}
}

// Spend takes one fetch from the budget.
func (b *FetchBudget) Spend() error {
	if b.spent.Add(1) > b.limit {
		return ErrFetchLimit
	}
	return nil
}

func (b *FetchBudget) Remaining() int {
	left := b.limit - b.spent.Load()
	if left < 0 {
		return 0
	}
	return int(left)
}

func (b *FetchBudget) Spent() int64 {
	return b.spent.Load()
}
