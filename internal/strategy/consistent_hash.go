package strategy

import (
	"hash/crc32"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
)

// consistentHashStrategy maps a caller key onto a hash ring so the same
// client keeps hitting the same instance while the healthy set is stable.
type consistentHashStrategy struct {
	virtualNodes int

	mutex sync.Mutex
	ring  *ring
}

type ring struct {
	members   []*backend.Instance
	positions []uint32
	owners    map[uint32]*backend.Instance
}

func buildRing(instances []*backend.Instance, vnodes int) *ring {
	r := &ring{
		members:   slices.Clone(instances),
		positions: make([]uint32, 0, len(instances)*vnodes),
		owners:    make(map[uint32]*backend.Instance, len(instances)*vnodes),
	}

	for _, inst := range instances {
		for i := 0; i < vnodes; i++ {
			hash := crc32.ChecksumIEEE([]byte(inst.URL().String() + "#" + strconv.Itoa(i)))
			if _, taken := r.owners[hash]; taken {
				continue
			}
			r.positions = append(r.positions, hash)
			r.owners[hash] = inst
		}
	}

	slices.Sort(r.positions)
	return r
}

func (r *ring) lookup(hash uint32) *backend.Instance {
	if len(r.positions) == 0 {
		return nil
	}

	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= hash
	})
	if idx == len(r.positions) {
		idx = 0
	}

	return r.owners[r.positions[idx]]
}

func (s *consistentHashStrategy) Select(instances []*backend.Instance, key string) *backend.Instance {
	if len(instances) == 0 {
		return nil
	}

	s.mutex.Lock()
	if s.ring == nil || !slices.Equal(s.ring.members, instances) {
		s.ring = buildRing(instances, s.virtualNodes)
	}
	r := s.ring
	s.mutex.Unlock()

	return r.lookup(crc32.ChecksumIEEE([]byte(key)))
}

func NewConsistentHashStrategy(virtualNodes int) Strategy {
	if virtualNodes <= 0 {
		virtualNodes = 100
	}
	return &consistentHashStrategy{virtualNodes: virtualNodes}
}
