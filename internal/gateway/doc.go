// Package gateway assembles the request pipeline. Stage order is a plain
// slice built once at startup so it can be read, logged and tested.
package gateway
