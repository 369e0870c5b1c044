// Package backend models the upstream instances behind a logical backend.
// It tracks health, in-flight requests and an EWMA of response times,
// which the load balancing strategies read when picking an instance.
package backend
