// Package credential relays inbound bearer credentials to backends.
//
// The gateway does not verify or enforce credentials. Paths on the open
// allow-list (login, token validation, health, discovery) carry no
// expectation at all; other paths without a bearer token are logged and
// forwarded anyway, since every backend enforces its own authentication.
package credential
