package strategy

import (
	"time"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
)

type leastResponseStrategy struct{}

// Select scores each instance by EWMA response time times (in-flight + 1).
// An instance without samples is picked first so it gets measured.
func (l *leastResponseStrategy) Select(instances []*backend.Instance, _ string) *backend.Instance {
	var (
		chosen *backend.Instance
		best   time.Duration
	)

	for _, inst := range instances {
		ewma := inst.EWMATime()
		if ewma == 0 {
			return inst
		}

		score := ewma * (time.Duration(inst.ActiveConnections()) + 1)
		if chosen == nil || score < best {
			chosen = inst
			best = score
		}
	}

	return chosen
}

func NewLeastResponseStrategy() Strategy {
	return &leastResponseStrategy{}
}
