// Package accesslog is the outermost pipeline stage. It tags each request
// with an X-Request-ID and logs the request/response pair with status,
// size and timing.
package accesslog
