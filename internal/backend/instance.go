package backend

import (
	"net/url"
	"sync"
	"time"
)

const ewmaAlpha = 0.2

// Instance is one network address serving a logical backend.
type Instance struct {
	url    *url.URL
	weight int

	mutex             sync.Mutex
	isHealthy         bool
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
}

// New creates an instance. Instances start healthy so traffic flows before
// the first health probe completes.
func New(u *url.URL, weight int) *Instance {
	if weight < 1 {
		weight = 1
	}
	return &Instance{
		url:       u,
		weight:    weight,
		isHealthy: true,
	}
}

// URL returns the instance base URL.
func (i *Instance) URL() *url.URL {
	return i.url
}

func (i *Instance) Weight() int {
	return i.weight
}

// Acquire marks a request as in flight on the instance.
func (i *Instance) Acquire() {
	i.mutex.Lock()
	i.activeConnections++
	i.mutex.Unlock()
}

// Release marks an in-flight request as finished.
func (i *Instance) Release() {
	i.mutex.Lock()
	if i.activeConnections > 0 {
		i.activeConnections--
	}
	i.mutex.Unlock()
}

func (i *Instance) ActiveConnections() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.activeConnections
}

func (i *Instance) IsHealthy() bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.isHealthy
}

// SetHealthy updates the health status and reports whether it changed.
func (i *Instance) SetHealthy(healthy bool) (changed bool) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.isHealthy == healthy {
		return false
	}

	i.isHealthy = healthy
	return true
}

// RecordResponse folds a response time into the EWMA.
func (i *Instance) RecordResponse(duration time.Duration) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if !i.hasEWMA {
		i.ewmaResponseTime = duration
		i.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	i.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(i.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the smoothed response time, or 0 before the first response.
func (i *Instance) EWMATime() time.Duration {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if !i.hasEWMA {
		return 0
	}
	return i.ewmaResponseTime
}
