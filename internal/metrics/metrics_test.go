package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-gateway/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("Snapshot", func() {
		It("should include a backend that only recorded responses", func() {
			m.RecordResponse("passengers", 40*time.Millisecond, 201)

			snap := m.Snapshot()
			Expect(snap.Backends).To(HaveKey("passengers"))
			Expect(snap.Backends["passengers"].StatusCodes).To(HaveKeyWithValue(201, int64(1)))
			Expect(snap.Backends["passengers"].AvgResponse).To(Equal(40 * time.Millisecond))
			Expect(snap.Backends["passengers"].Requests).To(BeZero())
		})

		It("should total requests and faults across backends", func() {
			m.IncrementRequests("flights")
			m.IncrementRequests("flights")
			m.IncrementRequests("passengers")
			m.RecordFault("flights", "TIMEOUT")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.TotalFaults).To(Equal(int64(1)))
		})

		It("should compute percentiles over sorted samples", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse("flights", time.Duration(i)*time.Millisecond, 200)
			}

			bm := m.Snapshot().Backends["flights"]
			Expect(bm.P50Response).To(Equal(51 * time.Millisecond))
			Expect(bm.P99Response).To(Equal(100 * time.Millisecond))
		})
	})
})
