// Package healthcheck actively probes backend instances. Unhealthy
// instances are taken out of their pool's rotation until a probe succeeds
// again. Probing is independent of circuit breaking, which reacts to live
// traffic per logical backend.
package healthcheck
