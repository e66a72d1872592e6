package sim

import "math"

// Tally accumulates generated review operations per resource so a workload
// driver can check stored summaries against the expected mean.
type Tally struct {
	counts map[int]int
	sums   map[int]int
}

// NewTally builds an empty Tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[int]int), sums: make(map[int]int)}
}

// Add records one review operation.
func (t *Tally) Add(op ReviewOp) {
	t.counts[op.ResourceIndex]++
	t.sums[op.ResourceIndex] += op.Rating
}

// Total returns how many reviews were recorded across all resources.
func (t *Tally) Total() int {
	var n int
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Expected returns the expected summary for one resource: the mean rating
// rounded to two decimals, and the review count.
func (t *Tally) Expected(resourceIndex int) (avg float64, count int) {
	count = t.counts[resourceIndex]
	if count == 0 {
		return 0, 0
	}
	mean := float64(t.sums[resourceIndex]) / float64(count)
	return math.Round(mean*100) / 100, count
}
