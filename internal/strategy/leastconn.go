package strategy

import (
	"github.com/angeloszaimis/edge-gateway/internal/backend"
)

type leastConnStrategy struct{}

// Select returns the instance with the fewest in-flight requests; ties go
// to the earliest instance in the list.
func (l *leastConnStrategy) Select(instances []*backend.Instance, _ string) *backend.Instance {
	var (
		best      *backend.Instance
		bestConns int
	)

	for _, inst := range instances {
		conns := inst.ActiveConnections()
		if best == nil || conns < bestConns {
			best = inst
			bestConns = conns
		}
	}

	return best
}

func NewLeastConnStrategy() Strategy {
	return &leastConnStrategy{}
}
