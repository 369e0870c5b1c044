// Package config loads the gateway configuration from config.yaml and
// environment variables and validates it. It covers listener settings,
// the route table, logical backends with their instances, circuit breaker
// thresholds, forwarding timeouts, health checks and CORS.
package config
