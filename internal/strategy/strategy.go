package strategy

import (
	"fmt"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
)

// Strategy picks one instance from a non-empty list of healthy instances.
// key identifies the caller and is only used by affinity strategies.
type Strategy interface {
	Select(instances []*backend.Instance, key string) *backend.Instance
}

const (
	RoundRobin         = "round-robin"
	Random             = "random"
	LeastConn          = "least-conn"
	LeastResponse      = "least-response"
	ConsistentHash     = "consistent-hash"
	WeightedRoundRobin = "weighted-round-robin"
)

// Names lists every strategy New understands.
func Names() []string {
	return []string{RoundRobin, Random, LeastConn, LeastResponse, ConsistentHash, WeightedRoundRobin}
}

// New builds the named strategy. virtualNodes only applies to consistent hashing.
func New(name string, virtualNodes int) (Strategy, error) {
	switch name {
	case RoundRobin, "":
		return NewRoundRobinStrategy(), nil
	case Random:
		return NewRandomStrategy(), nil
	case LeastConn:
		return NewLeastConnStrategy(), nil
	case LeastResponse:
		return NewLeastResponseStrategy(), nil
	case ConsistentHash:
		return NewConsistentHashStrategy(virtualNodes), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
