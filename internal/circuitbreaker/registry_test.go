package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-gateway/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var (
		registry *circuitbreaker.Registry
		clock    *fakeClock
	)

	BeforeEach(func() {
		clock = newFakeClock()
		registry = circuitbreaker.NewRegistry(circuitbreaker.Settings{
			FailureThreshold:  5,
			RecoveryTimeout:   time.Minute,
			HalfOpenMaxTrials: 1,
		}, circuitbreaker.WithClock(clock.Now))
	})

	failN := func(name string, n int) {
		for i := 0; i < n; i++ {
			Expect(registry.Admit(name)).To(BeTrue())
			registry.RecordOutcome(name, false)
		}
	}

	Describe("GetBreaker", func() {
		It("should create a closed breaker for an unknown backend", func() {
			cb := registry.GetBreaker("flights")
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same backend", func() {
			Expect(registry.GetBreaker("flights")).To(BeIdenticalTo(registry.GetBreaker("flights")))
		})

		It("should return different breakers for different backends", func() {
			Expect(registry.GetBreaker("flights")).NotTo(BeIdenticalTo(registry.GetBreaker("passengers")))
		})
	})

	Describe("Admit and RecordOutcome", func() {
		It("should admit unseen backends", func() {
			Expect(registry.Admit("users")).To(BeTrue())
			Expect(registry.Stats()).To(HaveKeyWithValue("users", circuitbreaker.StateClosed))
		})

		It("should open after the failure threshold and reject immediately", func() {
			failN("flights", 5)
			Expect(registry.Stats()["flights"]).To(Equal(circuitbreaker.StateOpen))
			Expect(registry.Admit("flights")).To(BeFalse())
		})

		It("should keep breakers of distinct backends independent", func() {
			failN("flights", 5)
			Expect(registry.Admit("flights")).To(BeFalse())
			Expect(registry.Admit("passengers")).To(BeTrue())
			Expect(registry.Stats()["passengers"]).To(Equal(circuitbreaker.StateClosed))
		})

		It("should admit one trial after the recovery timeout and close on success", func() {
			failN("flights", 5)
			clock.Advance(61 * time.Second)

			Expect(registry.Admit("flights")).To(BeTrue())
			Expect(registry.Stats()["flights"]).To(Equal(circuitbreaker.StateHalfOpen))
			Expect(registry.Admit("flights")).To(BeFalse())

			registry.RecordOutcome("flights", true)
			Expect(registry.Stats()["flights"]).To(Equal(circuitbreaker.StateClosed))
			Expect(registry.GetBreaker("flights").Snapshot().ConsecutiveFailures).To(Equal(0))
		})

		It("should reopen when the trial fails", func() {
			failN("flights", 5)
			clock.Advance(61 * time.Second)

			Expect(registry.Admit("flights")).To(BeTrue())
			registry.RecordOutcome("flights", false)
			Expect(registry.Stats()["flights"]).To(Equal(circuitbreaker.StateOpen))
			Expect(registry.Admit("flights")).To(BeFalse())
		})

		It("should free the trial slot on Release", func() {
			failN("flights", 5)
			clock.Advance(61 * time.Second)

			adm, ok := registry.AdmitRequest("flights")
			Expect(ok).To(BeTrue())
			registry.Release("flights", adm)
			Expect(registry.Admit("flights")).To(BeTrue())
		})
	})

	Describe("Concurrent access", func() {
		It("should handle concurrent GetBreaker calls safely", func() {
			const goroutines = 100

			var wg sync.WaitGroup
			wg.Add(goroutines)
			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						Expect(registry.GetBreaker("flights")).NotTo(BeNil())
					}
				}()
			}
			wg.Wait()

			Expect(registry.Stats()).To(HaveLen(1))
		})

		It("should let at most one trial through a burst on an open backend", func() {
			failN("flights", 5)
			clock.Advance(61 * time.Second)

			const goroutines = 100
			var (
				wg       sync.WaitGroup
				mutex    sync.Mutex
				admitted int
			)
			wg.Add(goroutines)
			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					if registry.Admit("flights") {
						mutex.Lock()
						admitted++
						mutex.Unlock()
					}
				}()
			}
			wg.Wait()

			Expect(admitted).To(Equal(1))
		})
	})

	Describe("Reset", func() {
		It("should clear all breakers", func() {
			registry.GetBreaker("flights")
			registry.GetBreaker("passengers")
			registry.GetBreaker("users")
			Expect(registry.Stats()).To(HaveLen(3))

			registry.Reset()
			Expect(registry.Stats()).To(BeEmpty())
		})
	})

	Describe("Snapshots", func() {
		It("should return breaker state ordered by name", func() {
			registry.GetBreaker("passengers")
			failN("flights", 5)

			snaps := registry.Snapshots()
			Expect(snaps).To(HaveLen(2))
			Expect(snaps[0].Name).To(Equal("flights"))
			Expect(snaps[0].State).To(Equal(circuitbreaker.StateOpen))
			Expect(snaps[0].ConsecutiveFailures).To(Equal(5))
			Expect(snaps[0].LastFailure).To(Equal(clock.Now()))
			Expect(snaps[1].Name).To(Equal("passengers"))
			Expect(snaps[1].State).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("Settings", func() {
		It("should normalize a zero trial cap to one", func() {
			r := circuitbreaker.NewRegistry(circuitbreaker.Settings{FailureThreshold: 1, RecoveryTimeout: time.Second})
			Expect(r.Settings().HalfOpenMaxTrials).To(Equal(1))
		})
	})
})
