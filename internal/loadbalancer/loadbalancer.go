package loadbalancer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
	"github.com/angeloszaimis/edge-gateway/internal/strategy"
)

var ErrNoHealthyInstance = errors.New("no healthy instance available")

// Pool is the set of instances serving one logical backend.
type Pool struct {
	name      string
	instances []*backend.Instance
	strategy  strategy.Strategy
	mutex     sync.Mutex
}

func NewPool(name string, instances []*backend.Instance, strat strategy.Strategy) *Pool {
	if strat == nil {
		strat = strategy.NewRoundRobinStrategy()
	}
	return &Pool{
		name:      name,
		instances: instances,
		strategy:  strat,
	}
}

func (p *Pool) Name() string {
	return p.name
}

// Instances returns every instance regardless of health.
func (p *Pool) Instances() []*backend.Instance {
	return p.instances
}

// Reserve picks a healthy instance for the caller identified by key and
// marks a request in flight on it. Callers must Release the instance.
func (p *Pool) Reserve(key string) (*backend.Instance, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	healthy := p.healthy()
	if len(healthy) == 0 {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNoHealthyInstance)
	}

	chosen := p.strategy.Select(healthy, key)
	if chosen == nil {
		return nil, fmt.Errorf("%s: strategy returned no instance", p.name)
	}

	chosen.Acquire()
	return chosen, nil
}

func (p *Pool) healthy() []*backend.Instance {
	healthy := make([]*backend.Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		if inst.IsHealthy() {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}

// Pools indexes pools by backend name. It is built once at startup and
// read-only afterwards.
type Pools struct {
	byName map[string]*Pool
}

func NewPools(pools ...*Pool) (*Pools, error) {
	byName := make(map[string]*Pool, len(pools))
	for _, p := range pools {
		if _, dup := byName[p.name]; dup {
			return nil, fmt.Errorf("duplicate backend pool %q", p.name)
		}
		byName[p.name] = p
	}
	return &Pools{byName: byName}, nil
}

func (ps *Pools) Get(name string) (*Pool, bool) {
	p, ok := ps.byName[name]
	return p, ok
}

// All returns the pools ordered by name.
func (ps *Pools) All() []*Pool {
	out := make([]*Pool, 0, len(ps.byName))
	for _, p := range ps.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
