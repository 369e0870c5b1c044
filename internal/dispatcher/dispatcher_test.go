package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-gateway/internal/backend"
	"github.com/angeloszaimis/edge-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/edge-gateway/internal/credential"
	"github.com/angeloszaimis/edge-gateway/internal/dispatcher"
	"github.com/angeloszaimis/edge-gateway/internal/fault"
	"github.com/angeloszaimis/edge-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/edge-gateway/internal/route"
)

// countingTransport fails every call and counts how many were attempted.
type countingTransport struct {
	calls atomic.Int32
	err   error
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, c.err
}

type seenRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Forwarded     string
	Body          string
}

var _ = Describe("Dispatcher", func() {
	var (
		log      *slog.Logger
		upstream *httptest.Server
		seen     chan seenRequest
		release  chan struct{}
		breakers *circuitbreaker.Registry
		pools    *loadbalancer.Pools
		opts     dispatcher.Options
		routes   []route.Entry
		handler  http.Handler
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		seen = make(chan seenRequest, 16)
		release = make(chan struct{})

		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			seen <- seenRequest{
				Method:        r.Method,
				Path:          r.URL.Path,
				Query:         r.URL.RawQuery,
				Authorization: r.Header.Get("Authorization"),
				Forwarded:     r.Header.Get("X-Forwarded-For"),
				Body:          string(body),
			}

			switch {
			case strings.HasPrefix(r.URL.Path, "/flights/slow"):
				select {
				case <-release:
				case <-r.Context().Done():
				}
				w.WriteHeader(http.StatusOK)
			case strings.HasPrefix(r.URL.Path, "/flights/stall"):
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("partial"))
				w.(http.Flusher).Flush()
				select {
				case <-release:
				case <-r.Context().Done():
				}
			case strings.HasPrefix(r.URL.Path, "/flights/missing"):
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"message":"Flight not found"}`))
			case strings.HasPrefix(r.URL.Path, "/flights/broken"):
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("boom"))
			default:
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("X-Upstream", "flights")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			}
		}))

		breakers = circuitbreaker.NewRegistry(circuitbreaker.Settings{
			FailureThreshold:  2,
			RecoveryTimeout:   time.Minute,
			HalfOpenMaxTrials: 1,
		})

		instance := backend.New(mustParseURL(upstream.URL), 1)
		var err error
		pools, err = loadbalancer.NewPools(loadbalancer.NewPool("flights", []*backend.Instance{instance}, nil))
		Expect(err).NotTo(HaveOccurred())

		flights, err := route.NewEntry("flights-service", "/flights/**", "flights", mustParseURL("lb://flights"), nil)
		Expect(err).NotTo(HaveOccurred())
		rw, err := route.NewRewrite("/actuator/flights/(?P<segment>.*)", "/actuator/${segment}")
		Expect(err).NotTo(HaveOccurred())
		actuator, err := route.NewEntry("flights-actuator", "/actuator/flights/**", "flights", mustParseURL("lb://flights"), rw)
		Expect(err).NotTo(HaveOccurred())
		history, err := route.NewEntry("travel-history-service", "/history/**", "travel_history_service", mustParseURL(upstream.URL), nil)
		Expect(err).NotTo(HaveOccurred())
		cargo, err := route.NewEntry("cargo", "/cargo/**", "cargo", mustParseURL("lb://cargo"), nil)
		Expect(err).NotTo(HaveOccurred())

		routes = []route.Entry{flights, actuator, history, cargo}
		opts = dispatcher.Options{ForwardTimeout: 2 * time.Second}
	})

	JustBeforeEach(func() {
		d := dispatcher.New(log, route.NewTable(routes), pools, breakers, nil, opts)
		relay := credential.NewRelay(nil, log)
		handler = fault.NewTranslator(log, nil).Middleware(relay.Middleware(d))
	})

	AfterEach(func() {
		close(release)
		upstream.Close()
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	get := func(path string) *httptest.ResponseRecorder {
		return serve(httptest.NewRequest(http.MethodGet, path, nil))
	}

	envelope := func(rec *httptest.ResponseRecorder) fault.Envelope {
		var env fault.Envelope
		Expect(json.Unmarshal(rec.Body.Bytes(), &env)).To(Succeed())
		return env
	}

	failures := func(name string) int {
		return breakers.GetBreaker(name).Snapshot().ConsecutiveFailures
	}

	Describe("successful dispatch", func() {
		It("forwards method, body, query and credential and returns the response verbatim", func() {
			req := httptest.NewRequest(http.MethodPost, "/flights/42?cabin=economy", strings.NewReader(`{"seats":2}`))
			req.Header.Set("Authorization", "Bearer abc")
			rec := serve(req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("ok"))
			Expect(rec.Header().Get("X-Upstream")).To(Equal("flights"))
			Expect(rec.Header().Get(dispatcher.BackendHeader)).To(Equal(upstream.URL))

			var got seenRequest
			Eventually(seen).Should(Receive(&got))
			Expect(got.Method).To(Equal(http.MethodPost))
			Expect(got.Path).To(Equal("/flights/42"))
			Expect(got.Query).To(Equal("cabin=economy"))
			Expect(got.Body).To(Equal(`{"seats":2}`))
			Expect(got.Authorization).To(Equal("Bearer abc"))
			Expect(got.Forwarded).NotTo(BeEmpty())
		})

		It("forwards only a bearer credential captured by the relay", func() {
			d := dispatcher.New(log, route.NewTable(routes), pools, breakers, nil, opts)
			req := httptest.NewRequest(http.MethodGet, "/flights/1", nil)
			req.Header.Set("Authorization", "Bearer bypassed")
			d.ServeHTTP(httptest.NewRecorder(), req)

			var got seenRequest
			Eventually(seen).Should(Receive(&got))
			Expect(got.Authorization).To(BeEmpty())
		})

		It("strips backend CORS headers", func() {
			rec := get("/flights/1")
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
		})

		It("applies the rewrite rule to the forwarded path only", func() {
			rec := get("/actuator/flights/health")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got seenRequest
			Eventually(seen).Should(Receive(&got))
			Expect(got.Path).To(Equal("/actuator/health"))
		})

		It("forwards to a fixed address without a pool", func() {
			rec := get("/history/passenger/9")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(breakers.Stats()).To(HaveKeyWithValue("travel_history_service", circuitbreaker.StateClosed))
		})

		It("passes 4xx responses through and counts them as successes", func() {
			Expect(failures("flights")).To(Equal(0))
			breakers.RecordOutcome("flights", false)

			rec := get("/flights/missing/7")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(Equal(`{"message":"Flight not found"}`))
			Expect(failures("flights")).To(Equal(0))
		})

		It("passes 5xx responses through as successes by default", func() {
			rec := get("/flights/broken")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(Equal("boom"))
			Expect(failures("flights")).To(Equal(0))
		})

		Context("when server errors trip the breaker", func() {
			BeforeEach(func() {
				opts.TripOnServerError = true
			})

			It("still passes the response through but records a failure", func() {
				rec := get("/flights/broken")
				Expect(rec.Code).To(Equal(http.StatusInternalServerError))
				Expect(rec.Body.String()).To(Equal("boom"))
				Expect(failures("flights")).To(Equal(1))
			})

			It("counts a stall after the headers as a failure without writing an envelope", func() {
				rec := get("/flights/stall")
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Body.String()).To(Equal("partial"))
				Expect(failures("flights")).To(Equal(1))

				get("/flights/stall")
				Expect(breakers.Stats()["flights"]).To(Equal(circuitbreaker.StateOpen))
			})
		})
	})

	Describe("faults", func() {
		It("reports an unmapped path as service unavailable", func() {
			rec := get("/nonexistent/1")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

			env := envelope(rec)
			Expect(env.ErrorCode).To(Equal("SERVICE_UNAVAILABLE"))
			Expect(env.Path).To(Equal("/nonexistent/1"))
			Expect(breakers.Stats()).To(BeEmpty())
		})

		It("reports an unconfigured pool as service unavailable without recording an outcome", func() {
			rec := get("/cargo/1")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(envelope(rec).ErrorCode).To(Equal("SERVICE_UNAVAILABLE"))
			Expect(failures("cargo")).To(Equal(0))
		})

		It("reports a pool without healthy instances as service unavailable", func() {
			pool, ok := pools.Get("flights")
			Expect(ok).To(BeTrue())
			pool.Instances()[0].SetHealthy(false)

			rec := get("/flights/1")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(envelope(rec).ErrorCode).To(Equal("SERVICE_UNAVAILABLE"))
			Expect(failures("flights")).To(Equal(0))
		})

		It("reports a refused connection and counts it as a failure", func() {
			upstream.Close()

			rec := get("/flights/1")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(envelope(rec).ErrorCode).To(Equal("CONNECTION_ERROR"))
			Expect(failures("flights")).To(Equal(1))
		})

		Context("with a short forward timeout", func() {
			BeforeEach(func() {
				opts.ForwardTimeout = 50 * time.Millisecond
			})

			It("reports a timeout and counts it as a failure", func() {
				rec := get("/flights/slow")
				Expect(rec.Code).To(Equal(http.StatusGatewayTimeout))

				env := envelope(rec)
				Expect(env.ErrorCode).To(Equal("TIMEOUT_ERROR"))
				Expect(env.Status).To(Equal(http.StatusGatewayTimeout))
				Expect(failures("flights")).To(Equal(1))
			})
		})
	})

	Describe("circuit breaking", func() {
		var transport *countingTransport

		BeforeEach(func() {
			transport = &countingTransport{err: errors.New("connection reset by peer")}
			opts.Transport = transport
		})

		It("rejects without a network call once the breaker is open", func() {
			get("/flights/1")
			get("/flights/1")
			Expect(transport.calls.Load()).To(Equal(int32(2)))
			Expect(breakers.Stats()["flights"]).To(Equal(circuitbreaker.StateOpen))

			rec := get("/flights/1")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			env := envelope(rec)
			Expect(env.ErrorCode).To(Equal("SERVICE_UNAVAILABLE"))
			Expect(env.Message).To(ContainSubstring("Circuit breaker is open"))
			Expect(transport.calls.Load()).To(Equal(int32(2)))
		})

		It("keeps other backends flowing while one is open", func() {
			get("/flights/1")
			get("/flights/1")
			Expect(breakers.Admit("flights")).To(BeFalse())
			Expect(breakers.Admit("travel_history_service")).To(BeTrue())
		})
	})

	Describe("caller cancellation", func() {
		It("records nothing when the caller disconnects first", func() {
			req := httptest.NewRequest(http.MethodGet, "/flights/slow", nil)
			ctx, cancel := context.WithCancel(req.Context())
			req = req.WithContext(ctx)

			done := make(chan *httptest.ResponseRecorder, 1)
			go func() {
				done <- serve(req)
			}()

			Eventually(seen).Should(Receive())
			cancel()

			var rec *httptest.ResponseRecorder
			Eventually(done).Should(Receive(&rec))
			Expect(failures("flights")).To(Equal(0))
			Expect(rec.Body.Len()).To(BeZero())
		})
	})
})
