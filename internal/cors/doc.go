// Package cors answers browser preflight requests at the edge and adds
// CORS response headers for the configured frontend origins.
package cors
