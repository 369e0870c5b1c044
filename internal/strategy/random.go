package strategy

import (
	"math/rand"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
)

type randomStrategy struct{}

func (r *randomStrategy) Select(instances []*backend.Instance, _ string) *backend.Instance {
	if len(instances) == 0 {
		return nil
	}
	return instances[rand.Intn(len(instances))]
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
