package strategy

import (
	"sync"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
)

// weightedRoundRobinStrategy implements smooth weighted round-robin: every
// instance accumulates its weight per pick, the highest total wins and is
// reduced by the sum of all weights.
type weightedRoundRobinStrategy struct {
	mutex   sync.Mutex
	current map[*backend.Instance]int
}

func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{
		current: make(map[*backend.Instance]int),
	}
}

func (w *weightedRoundRobinStrategy) Select(instances []*backend.Instance, _ string) *backend.Instance {
	if len(instances) == 0 {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.forgetMissing(instances)

	total := 0
	var chosen *backend.Instance

	for _, inst := range instances {
		weight := inst.Weight()
		w.current[inst] += weight
		total += weight

		if chosen == nil || w.current[inst] > w.current[chosen] {
			chosen = inst
		}
	}

	w.current[chosen] -= total
	return chosen
}

// forgetMissing drops accumulated weight for instances that left the
// healthy set, so they rejoin from zero.
func (w *weightedRoundRobinStrategy) forgetMissing(instances []*backend.Instance) {
	alive := make(map[*backend.Instance]struct{}, len(instances))
	for _, inst := range instances {
		alive[inst] = struct{}{}
	}

	for inst := range w.current {
		if _, ok := alive[inst]; !ok {
			delete(w.current, inst)
		}
	}
}
