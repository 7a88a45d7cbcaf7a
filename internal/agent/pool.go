// ABOUTME: Candidate pool for random host selection with swap-with-last eviction.
// ABOUTME: Order carries no meaning; every pick is uniform over what remains.

package agent

import (
	"math/rand"

	"github.com/2389/gotag/internal/contract"
)

// pool is a shrinking set of candidate hosts.
type pool struct {
	hosts []contract.Host
	rng   *rand.Rand
}

func newPool(hosts []contract.Host, rng *rand.Rand) *pool {
	cp := make([]contract.Host, len(hosts))
	copy(cp, hosts)
	return &pool{hosts: cp, rng: rng}
}

// Len returns the number of candidates left.
func (p *pool) Len() int {
	return len(p.hosts)
}

// Pick returns a uniformly random candidate and its index.
func (p *pool) Pick() (int, contract.Host) {
	idx := 0
	if len(p.hosts) > 1 {
		idx = p.rng.Intn(len(p.hosts))
	}
	return idx, p.hosts[idx]
}

// Evict removes the candidate at idx by moving the last one into its slot.
func (p *pool) Evict(idx int) {
	last := len(p.hosts) - 1
	p.hosts[idx] = p.hosts[last]
	p.hosts[last] = nil
	p.hosts = p.hosts[:last]
}
