// Package httpserver wraps net/http.Server with address validation,
// configurable timeouts and graceful shutdown. The gateway and admin
// listeners are both built with it.
package httpserver
