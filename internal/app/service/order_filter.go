package service

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// OrderFilter remembers order ids seen by this process. A negative answer is
// definite, so the pipeline can skip the duplicate lookup for new orders; a
// positive answer still has to be confirmed against the database.
type OrderFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewOrderFilter sizes the filter for n orders at a 0.1% false positive rate.
func NewOrderFilter(n uint) *OrderFilter {
	if n == 0 {
		n = 1_000_000
	}
	return &OrderFilter{filter: bloom.NewWithEstimates(n, 0.001)}
}

func (f *OrderFilter) MayContain(orderID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(orderID)
}

func (f *OrderFilter) Add(orderID string) {
	f.mu.Lock()
	f.filter.AddString(orderID)
	f.mu.Unlock()
}
