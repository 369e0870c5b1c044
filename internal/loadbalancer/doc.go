// Package loadbalancer groups upstream instances into named pools, one per
// logical backend, and reserves a healthy instance per request using the
// pool's strategy.
package loadbalancer
