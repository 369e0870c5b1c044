// Package strategy implements the algorithms a backend pool uses to pick
// one of its healthy instances:
//
//   - Round Robin: Sequential distribution across instances
//   - Random: Uniform random selection
//   - Least Connections: Fewest in-flight requests
//   - Least Response Time: Lowest EWMA response time weighted by load
//   - Consistent Hash: Client affinity on a hash ring of virtual nodes
//   - Weighted Round Robin: Smooth distribution proportional to weights
//
// Strategies only ever see the healthy subset of a pool.
package strategy
