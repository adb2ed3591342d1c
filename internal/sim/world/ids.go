package world

import "math/rand"

// idAllocator hands out object IDs from one counter in two modes: plain
// sequential IDs, and a pool of reserved IDs handed out in seeded random
// order.
type idAllocator struct {
	next int
	pool []int
	rng  *rand.Rand
}

func newIDAllocator(rng *rand.Rand) *idAllocator {
	return &idAllocator{next: 1, rng: rng}
}

func (a *idAllocator) nextID() int {
	if n := len(a.pool); n > 0 {
		id := a.pool[n-1]
		a.pool = a.pool[:n-1]
		return id
	}
	id := a.next
	a.next++
	return id
}

func (a *idAllocator) reserve(n int) {
	for i := 0; i < n; i++ {
		a.pool = append(a.pool, a.next)
		a.next++
	}
	a.rng.Shuffle(len(a.pool), func(i, j int) {
		a.pool[i], a.pool[j] = a.pool[j], a.pool[i]
	})
}

func (a *idAllocator) endReserved() {
	a.pool = a.pool[:0]
}
